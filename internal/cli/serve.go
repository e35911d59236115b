package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CruGlobal/dot/internal/pubsub"
	"github.com/CruGlobal/dot/internal/webhooks"
)

// newServeCommand creates the "serve" subcommand that runs the webhook server.
func newServeCommand(_ *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Fivetran and dbt webhook endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			var cfg serveEnv
			if err := parseEnv(&cfg); err != nil {
				return err
			}
			var gcp gcpEnv
			if err := parseEnv(&gcp); err != nil {
				return err
			}
			if gcp.Project() == "" {
				return fmt.Errorf("gcp project not set: set DOT_GCP_PROJECT")
			}

			fivetranEvents, err := pubsub.NewTopicPublisher(ctx, gcp.Project(), cfg.FivetranTopic)
			if err != nil {
				return err
			}
			defer fivetranEvents.Close()

			fabricEvents, err := pubsub.NewTopicPublisher(ctx, gcp.Project(), cfg.FabricTopic)
			if err != nil {
				return err
			}
			defer fabricEvents.Close()

			jobCompleted, err := pubsub.NewTopicPublisher(ctx, gcp.Project(), cfg.CompletedTopic)
			if err != nil {
				return err
			}
			defer jobCompleted.Close()

			server := webhooks.NewServer(webhooks.Config{
				FivetranSecret: cfg.FivetranSecret,
				DBTSecret:      cfg.DBTSecret,
				FabricJobs:     parsePairs(cfg.FabricJobs),
			}, fivetranEvents, fabricEvents, jobCompleted, logger)

			httpServer := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("webhook server listening", "addr", httpServer.Addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-signalCtx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
}
