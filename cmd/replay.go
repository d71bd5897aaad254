package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"argus/bootstrap"
	"argus/config"
	"argus/core"
	"argus/notify"

	"github.com/spf13/cobra"
)

// maxReplayLine bounds a single JSONL record
const maxReplayLine = 1 << 20

type replayOptions struct {
	root     *rootOptions
	logLevel string
}

// replayRecord is one line of a replay file. Type and severity are parsed leniently and
// timestamp, when present, drives the pipeline clock.
type replayRecord struct {
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity,omitempty"`
	SourceIP  string                 `json:"source_ip"`
	UserID    string                 `json:"user_id,omitempty"`
	Request   core.RequestInfo       `json:"request"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
}

func (r replayRecord) toInput() (core.EventInput, error) {
	eventType, err := core.ParseEventType(r.Type)
	if err != nil {
		return core.EventInput{}, err
	}
	in := core.EventInput{
		Type:     eventType,
		SourceIP: r.SourceIP,
		UserID:   r.UserID,
		Request:  r.Request,
		Metadata: r.Metadata,
	}
	if r.Severity != "" {
		if in.Severity, err = core.ParseSeverity(r.Severity); err != nil {
			return core.EventInput{}, err
		}
	}
	return in, nil
}

// ReplaySummary is the outcome of a replay run
type ReplaySummary struct {
	Lines      int
	Malformed  int
	Processed  int64
	BySeverity map[string]int64
	Incidents  int
	Responses  int64
	Fallbacks  int64
	Alerts     notify.DispatcherStats
	ClockEnd   time.Time
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{root: root}
	cmd := &cobra.Command{
		Use:   "replay <file.jsonl>",
		Short: "Feed recorded events through an in-process pipeline",
		Long: `Replay reads one JSON event per line and runs each through detection and alerting
with only the console channel enabled. Lines carrying a timestamp advance the pipeline
clock, so time windows behave as they did when the events were recorded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open replay file: %w", err)
			}
			defer f.Close()

			summary, err := runReplay(cmd.Context(), f, opts)
			if err != nil {
				return err
			}
			printReplaySummary(cmd.OutOrStdout(), args[0], summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level for the replay pipeline; console alerts log at warn")
	return cmd
}

// replayConfig narrows cfg to an offline pipeline: console delivery only and no Redis
func replayConfig(cfg *config.Config) {
	console := notify.ChannelConfig{AlertDeliveryConfig: core.AlertDeliveryConfig{
		Channel:       core.ChannelConsole,
		MinSeverity:   core.SeverityLow,
		MaxAlerts:     100,
		WindowSeconds: 60,
		Enabled:       true,
	}}
	for _, ch := range cfg.Alerting.Channels {
		if ch.Channel == core.ChannelConsole {
			console = ch
			console.Enabled = true
			break
		}
	}
	cfg.Alerting.Channels = []notify.ChannelConfig{console}
	cfg.Alerting.Redis.Enabled = false
}

// readReplay parses every line of r. Blank lines are skipped; lines that do not decode
// into a known event are counted as malformed.
func readReplay(r io.Reader) (records []replayRecord, inputs []core.EventInput, lines, malformed int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines++

		var rec replayRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			malformed++
			continue
		}
		in, err := rec.toInput()
		if err != nil {
			malformed++
			continue
		}
		records = append(records, rec)
		inputs = append(inputs, in)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, lines, malformed, fmt.Errorf("failed to read replay file: %w", err)
	}
	return records, inputs, lines, malformed, nil
}

func runReplay(ctx context.Context, r io.Reader, opts *replayOptions) (*ReplaySummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	records, inputs, lines, malformed, err := readReplay(r)
	if err != nil {
		return nil, err
	}

	cfg, err := bootstrap.InitConfig(opts.root.configFile)
	if err != nil {
		return nil, err
	}
	replayConfig(cfg)

	logger, _, err := bootstrap.InitLogger(opts.logLevel)
	if err != nil {
		return nil, err
	}

	start := time.Now().UTC()
	for _, rec := range records {
		if rec.Timestamp != nil {
			start = *rec.Timestamp
			break
		}
	}
	clock := core.NewManualClock(start)

	// The bus is never started, so every delivery runs inline and is complete
	// before the next line is processed
	app, err := bootstrap.NewApp(ctx, cfg, logger, bootstrap.WithClock(clock), bootstrap.WithoutAPI())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize replay pipeline: %w", err)
	}
	defer app.Shutdown()

	for i, in := range inputs {
		if ts := records[i].Timestamp; ts != nil {
			if d := ts.Sub(clock.Now()); d > 0 {
				clock.Advance(d)
			}
		}
		app.Processor().Process(ctx, in)
	}

	stats := app.Processor().Stats()
	return &ReplaySummary{
		Lines:      lines,
		Malformed:  malformed,
		Processed:  stats.Total,
		BySeverity: stats.BySeverity,
		Incidents:  app.Incidents.Len(),
		Responses:  stats.Responses,
		Fallbacks:  stats.Fallbacks,
		Alerts:     app.Dispatcher().Stats(),
		ClockEnd:   clock.Now(),
	}, nil
}

func printReplaySummary(w io.Writer, file string, s *ReplaySummary) {
	headerColor.Fprintf(w, "Replay summary: %s\n\n", file)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Lines read\t%d\n", s.Lines)
	fmt.Fprintf(tw, "Events processed\t%d\n", s.Processed)
	for _, sev := range []core.Severity{core.SeverityLow, core.SeverityMedium, core.SeverityHigh, core.SeverityCritical} {
		fmt.Fprintf(tw, "  %s\t%d\n", sev, s.BySeverity[string(sev)])
	}
	fmt.Fprintf(tw, "Incidents opened\t%d\n", s.Incidents)
	fmt.Fprintf(tw, "Response actions\t%d\n", s.Responses)
	fmt.Fprintf(tw, "Alerts\t%d\n", s.Alerts.TotalAlerts)
	for _, st := range []core.AlertStatus{core.AlertStatusSent, core.AlertStatusThrottled, core.AlertStatusFailed} {
		fmt.Fprintf(tw, "  %s\t%d\n", st, s.Alerts.ByStatus[string(st)])
	}
	fmt.Fprintf(tw, "Duplicates suppressed\t%d\n", s.Alerts.Suppressed)
	tw.Flush()
	fmt.Fprintln(w)

	if s.Malformed > 0 {
		warningColor.Fprintf(w, "⚠ %d malformed lines skipped\n", s.Malformed)
	}
	if s.Fallbacks > 0 {
		warningColor.Fprintf(w, "⚠ %d events fell back to synthetic processing\n", s.Fallbacks)
	}
	if s.Alerts.FailedDeliveries > 0 {
		errorColor.Fprintf(w, "✗ %d channel deliveries failed\n", s.Alerts.FailedDeliveries)
	}
	successColor.Fprintln(w, "✓ Replay complete")
	infoColor.Fprintf(w, "Pipeline clock ended at %s\n", s.ClockEnd.Format(time.RFC3339))
}
