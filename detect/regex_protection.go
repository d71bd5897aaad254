package detect

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRegexTimeout bounds a single regex match so hostile input cannot backtrack forever
const DefaultRegexTimeout = 100 * time.Millisecond

// DefaultPatternCacheSize is the number of compiled patterns kept
const DefaultPatternCacheSize = 512

// ErrRegexTimeout is returned when a match exceeds the pattern timeout
var ErrRegexTimeout = errors.New("regex evaluation timeout")

// PatternCache compiles regexp2 patterns once and keeps the most recently used ones.
// regexp2 is used instead of regexp because it enforces MatchTimeout.
type PatternCache struct {
	timeout  time.Duration
	compiled *lru.Cache[string, *regexp2.Regexp]
}

// NewPatternCache creates a pattern cache. Non-positive arguments select the defaults.
func NewPatternCache(size int, timeout time.Duration) (*PatternCache, error) {
	if size <= 0 {
		size = DefaultPatternCacheSize
	}
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	c, err := lru.New[string, *regexp2.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	return &PatternCache{timeout: timeout, compiled: c}, nil
}

// Compile returns the cached compiled pattern, compiling it on first use
func (p *PatternCache) Compile(pattern string) (*regexp2.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("regex pattern cannot be empty")
	}
	if re, ok := p.compiled.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern: %w", err)
	}
	re.MatchTimeout = p.timeout
	p.compiled.Add(pattern, re)
	return re, nil
}

// Match matches input against pattern under the cache timeout
func (p *PatternCache) Match(pattern, input string) (bool, error) {
	re, err := p.Compile(pattern)
	if err != nil {
		return false, err
	}
	ok, err := re.MatchString(input)
	if err != nil {
		// regexp2 reports timeouts as a plain error whose text mentions the timeout
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return false, ErrRegexTimeout
		}
		return false, fmt.Errorf("regex matching error: %w", err)
	}
	return ok, nil
}

// Len returns the number of compiled patterns held
func (p *PatternCache) Len() int {
	return p.compiled.Len()
}
