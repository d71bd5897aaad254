package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"argus/detect"

	"github.com/spf13/cobra"
)

type rulesValidateOptions struct {
	jsonOutput       bool
	regexTimeout     time.Duration
	patternCacheSize int
}

// ruleValidationOutput is the --json form of a validation report
type ruleValidationOutput struct {
	File         string            `json:"file"`
	Valid        bool              `json:"valid"`
	Rules        int               `json:"rules"`
	SchemaErrors []string          `json:"schema_errors,omitempty"`
	RuleErrors   map[string]string `json:"rule_errors,omitempty"`
}

func newRulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Inspect threat detection rules",
	}
	rules.AddCommand(newRulesValidateCmd())
	return rules
}

func newRulesValidateCmd() *cobra.Command {
	opts := &rulesValidateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML or JSON rule file against the rule schema",
		Example: `  argus rules validate rules.yaml
  argus rules validate --json rules.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesValidate(cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the report as JSON")
	cmd.Flags().DurationVar(&opts.regexTimeout, "regex-timeout", 100*time.Millisecond, "Match timeout used when compiling regex conditions")
	cmd.Flags().IntVar(&opts.patternCacheSize, "pattern-cache-size", 512, "Compiled pattern cache size")
	return cmd
}

func runRulesValidate(w io.Writer, file string, opts *rulesValidateOptions) error {
	patterns, err := detect.NewPatternCache(opts.patternCacheSize, opts.regexTimeout)
	if err != nil {
		return err
	}
	report, err := detect.ValidateRuleFile(file, patterns)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		out := ruleValidationOutput{
			File:         file,
			Valid:        report.Valid(),
			Rules:        len(report.Rules),
			SchemaErrors: report.SchemaErrors,
		}
		if len(report.RuleErrors) > 0 {
			out.RuleErrors = make(map[string]string, len(report.RuleErrors))
			for id, ruleErr := range report.RuleErrors {
				out.RuleErrors[id] = ruleErr.Error()
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printRuleReport(w, file, report)
	}

	if !report.Valid() {
		return fmt.Errorf("rule file %s is invalid", file)
	}
	return nil
}

func printRuleReport(w io.Writer, file string, report *detect.RuleValidationReport) {
	headerColor.Fprintf(w, "Rule file: %s\n\n", file)

	if len(report.Rules) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSEVERITY\tTHRESHOLD\tWINDOW\tEVENT TYPES\tSTATUS")
		for _, rule := range report.Rules {
			types := make([]string, len(rule.EventTypes))
			for i, t := range rule.EventTypes {
				types[i] = string(t)
			}
			status := "ok"
			if _, bad := report.RuleErrors[rule.ID]; bad {
				status = "invalid"
			} else if !rule.Enabled {
				status = "disabled"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%dm\t%s\t%s\n",
				rule.ID, rule.Name, rule.Severity, rule.Threshold, rule.TimeWindowMinutes,
				strings.Join(types, ","), status)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	for _, msg := range report.SchemaErrors {
		errorColor.Fprint(w, "✗ schema: ")
		fmt.Fprintln(w, msg)
	}

	ids := make([]string, 0, len(report.RuleErrors))
	for id := range report.RuleErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		errorColor.Fprintf(w, "✗ rule %s: ", id)
		fmt.Fprintln(w, report.RuleErrors[id])
	}

	if report.Valid() {
		successColor.Fprintf(w, "✓ %d rules valid\n", len(report.Rules))
		return
	}
	warningColor.Fprintf(w, "%d schema errors, %d invalid rules\n", len(report.SchemaErrors), len(report.RuleErrors))
}
