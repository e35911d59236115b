package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CruGlobal/dot/internal/bq"
	"github.com/CruGlobal/dot/internal/gcs"
	"github.com/CruGlobal/dot/internal/geography"
	"github.com/CruGlobal/dot/internal/okta"
	"github.com/CruGlobal/dot/internal/pubsub"
	"github.com/CruGlobal/dot/internal/woo"
)

// newSyncCommand groups the batch sync jobs.
func newSyncCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a data sync job",
	}
	cmd.AddCommand(
		newSyncOktaCommand(opts),
		newSyncWooCommand(opts),
		newSyncGeographyCommand(opts),
	)
	return cmd
}

// newSyncOktaCommand creates "sync okta".
func newSyncOktaCommand(_ *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "okta",
		Short: "Sync Okta apps, users, groups, and memberships into BigQuery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			var cfg oktaEnv
			if err := parseEnv(&cfg); err != nil {
				return err
			}
			var gcp gcpEnv
			if err := parseEnv(&gcp); err != nil {
				return err
			}
			if cfg.OrgURL == "" {
				return fmt.Errorf("okta org not set: set DOT_OKTA_ORG_URL")
			}
			if gcp.Project() == "" {
				return fmt.Errorf("gcp project not set: set DOT_GCP_PROJECT")
			}

			token, err := credential(ctx, cfg.Token, cfg.TokenSecretRef, gcp.Project())
			if err != nil {
				return fmt.Errorf("okta token: %w", err)
			}

			store, err := bq.NewClient(ctx, gcp.Project())
			if err != nil {
				return err
			}
			defer store.Close()

			var uploader gcs.Uploader
			if cfg.LogBucket != "" {
				client, err := gcs.NewClient(ctx)
				if err != nil {
					return err
				}
				defer client.Close()
				uploader = client
			}

			syncer := okta.NewSyncer(
				okta.NewClient(cfg.OrgURL, token),
				store,
				uploader,
				logger,
				okta.SyncConfig{Dataset: cfg.Dataset, TempDataset: cfg.TempDataset, Bucket: cfg.LogBucket},
			)
			return syncer.Run(ctx)
		},
	}
}

// newSyncWooCommand creates "sync woo".
func newSyncWooCommand(_ *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "woo",
		Short: "Sync WooCommerce orders, refunds, and products into BigQuery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			var cfg wooEnv
			if err := parseEnv(&cfg); err != nil {
				return err
			}
			var gcp gcpEnv
			if err := parseEnv(&gcp); err != nil {
				return err
			}
			if cfg.StoreURL == "" {
				return fmt.Errorf("store not set: set DOT_WOO_STORE_URL")
			}
			if gcp.Project() == "" {
				return fmt.Errorf("gcp project not set: set DOT_GCP_PROJECT")
			}

			sources := []woo.OrderSource{
				woo.NewClient(woo.Store{
					Name:           cfg.StoreName,
					BaseURL:        cfg.StoreURL,
					ConsumerKey:    cfg.ConsumerKey,
					ConsumerSecret: cfg.ConsumerSecret,
				}),
			}
			if cfg.Store2URL != "" {
				sources = append(sources, woo.NewClient(woo.Store{
					Name:           cfg.Store2Name,
					BaseURL:        cfg.Store2URL,
					ConsumerKey:    cfg.Consumer2Key,
					ConsumerSecret: cfg.Consumer2Secret,
				}))
			}

			store, err := bq.NewClient(ctx, gcp.Project())
			if err != nil {
				return err
			}
			defer store.Close()

			syncer := woo.NewSyncer(sources, store, logger, woo.SyncConfig{Dataset: cfg.Dataset})
			return syncer.Run(ctx)
		},
	}
}

// newSyncGeographyCommand creates "sync geography".
func newSyncGeographyCommand(_ *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "geography",
		Short: "Refresh GeoNames and MaxMind reference datasets in BigQuery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			var cfg geographyEnv
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

			store, err := bq.NewClient(ctx, gcp.Project())
			if err != nil {
				return err
			}
			defer store.Close()

			var publisher pubsub.Publisher
			if cfg.CompletionTopic != "" {
				pub, err := pubsub.NewTopicPublisher(ctx, gcp.Project(), cfg.CompletionTopic)
				if err != nil {
					return err
				}
				defer pub.Close()
				publisher = pub
			}

			runner := geography.NewRunner(
				geography.NewDownloader(cfg.GeoNamesUser, cfg.GeoNamesPassword, cfg.MaxMindLicenseKey),
				store,
				publisher,
				logger,
				geography.RunConfig{Dataset: cfg.Dataset, DBTJobID: cfg.DBTJobID},
			)
			return runner.Run(ctx)
		},
	}
}
