package detect

import (
	"fmt"
	"net/netip"
	"sort"

	"argus/core"

	lru "github.com/hashicorp/golang-lru/v2"
)

// typeRiskWeights is the base risk an event type adds during enrichment
var typeRiskWeights = map[core.EventType]int{
	core.EventSQLInjection: 50,
	core.EventXSS:          50,
	core.EventBruteForce:   40,
}

// ReputationTable resolves static IP reputation scores. Negative scores are bad.
// Entries are single addresses or CIDR prefixes; the longest matching prefix wins.
type ReputationTable struct {
	prefixes []reputationEntry
	lookups  *lru.Cache[string, int]
}

type reputationEntry struct {
	prefix netip.Prefix
	score  int
}

// NewReputationTable parses entries such as {"203.0.113.7": -60, "198.51.100.0/24": -30}
func NewReputationTable(entries map[string]int, cacheSize int) (*ReputationTable, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, int](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create reputation cache: %w", err)
	}

	t := &ReputationTable{lookups: cache}
	for raw, score := range entries {
		prefix, err := parsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid reputation entry %q: %w", raw, err)
		}
		t.prefixes = append(t.prefixes, reputationEntry{prefix: prefix, score: score})
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		return t.prefixes[i].prefix.Bits() > t.prefixes[j].prefix.Bits()
	})
	return t, nil
}

func parsePrefix(raw string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(raw); err == nil {
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Score returns the reputation of ip, 0 when unknown or unparsable
func (t *ReputationTable) Score(ip string) int {
	if t == nil || len(t.prefixes) == 0 {
		return 0
	}
	if score, ok := t.lookups.Get(ip); ok {
		return score
	}
	score := 0
	if addr, err := netip.ParseAddr(ip); err == nil {
		addr = addr.Unmap()
		for _, e := range t.prefixes {
			if e.prefix.Contains(addr) {
				score = e.score
				break
			}
		}
	}
	t.lookups.Add(ip, score)
	return score
}

// EnrichmentRisk computes the pre-detection risk of an event:
// the magnitude of a negative reputation plus the event type weight, clamped to [0,100].
func EnrichmentRisk(reputation int, t core.EventType) int {
	risk := 0
	if reputation < 0 {
		risk += -reputation
	}
	risk += typeRiskWeights[t]
	return core.ClampRisk(risk)
}
