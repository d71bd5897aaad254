package cmd

import (
	"context"
	"fmt"

	"argus/bootstrap"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the detection pipeline and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts.configFile)
		},
	}
}

// runServe initializes and starts argus, then blocks until a shutdown signal.
func runServe(ctx context.Context, configFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := bootstrap.InitConfig(configFile)
	if err != nil {
		return err
	}
	logger, _, err := bootstrap.InitLogger(cfg.Log.Level)
	if err != nil {
		return err
	}

	app, err := bootstrap.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	serveErr := app.WaitForShutdown(ctx)
	app.Shutdown()
	return serveErr
}
