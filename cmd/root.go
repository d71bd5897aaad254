// Package cmd provides the argus command-line interface.
package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// rootOptions are the persistent flags shared by every subcommand
type rootOptions struct {
	configFile string
	noColor    bool
}

// NewRootCmd creates the argus command with all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "argus",
		Short: "Security event detection and alerting",
		Long: `argus ingests application security signals, correlates them per source,
scores their risk, opens incidents and delivers alerts over configured channels.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: argus.yaml in . or ./config)")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newRulesCmd())
	root.AddCommand(newReplayCmd(opts))
	return root
}
