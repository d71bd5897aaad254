// Package bootstrap provides application initialization and lifecycle management.
// It wires the detection pipeline, the alert dispatcher, retention and the API from a
// loaded configuration.
//
// Usage:
//
//	logger, sugar, err := bootstrap.InitLogger(cfg.Log.Level)
//	app, err := bootstrap.NewApp(ctx, cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for shutdown signal
//	app.WaitForShutdown(ctx)
package bootstrap
