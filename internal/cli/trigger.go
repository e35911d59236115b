package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/CruGlobal/dot/internal/dbtcloud"
	"github.com/CruGlobal/dot/internal/fivetran"
)

// newTriggerCommand groups the connector and transformation triggers.
func newTriggerCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Trigger external pipeline runs",
	}
	cmd.AddCommand(
		newTriggerFivetranCommand(opts),
		newTriggerDBTCommand(opts),
	)
	return cmd
}

// newTriggerFivetranCommand creates "trigger fivetran".
func newTriggerFivetranCommand(_ *Options) *cobra.Command {
	var (
		connectorID string
		force       bool
		statusOnly  bool
		wait        bool
		waitTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fivetran",
		Short: "Trigger a Fivetran connector sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			var creds fivetranEnv
			if err := parseEnv(&creds); err != nil {
				return err
			}
			var gcp gcpEnv
			if err := parseEnv(&gcp); err != nil {
				return err
			}

			apiKey, err := credential(ctx, creds.APIKey, creds.KeySecretRef, gcp.Project())
			if err != nil {
				return fmt.Errorf("fivetran api key: %w", err)
			}
			apiSecret, err := credential(ctx, creds.APISecret, creds.SecretSecretRef, gcp.Project())
			if err != nil {
				return fmt.Errorf("fivetran api secret: %w", err)
			}

			client := fivetran.NewClient(apiKey, apiSecret)

			if statusOnly {
				state, err := client.SyncStatus(ctx, connectorID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), state)
				return nil
			}

			baseline, err := client.ConnectorDetails(ctx, connectorID)
			if err != nil {
				return err
			}
			logger.Info("connector state",
				"connector", connectorID,
				"service", baseline.Service,
				"sync_state", baseline.Status.SyncState,
				"paused", baseline.Paused)

			if err := client.TriggerSync(ctx, connectorID, force); err != nil {
				return err
			}
			logger.Info("sync triggered", "connector", connectorID, "force", force)

			if !wait {
				return nil
			}

			waitCtx, cancel := timeoutContext(ctx, waitTimeout)
			defer cancel()

			conn, err := client.WaitForSync(waitCtx, connectorID, baseline)
			if err != nil {
				return err
			}
			logger.Info("sync finished", "connector", connectorID,
				"succeeded_at", conn.SucceededAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&connectorID, "connector", "", "Fivetran connector ID")
	cmd.Flags().BoolVar(&force, "force", false, "Restart an already running sync")
	cmd.Flags().BoolVar(&statusOnly, "status", false, "Print the connector's sync state instead of triggering")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the sync finishes")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 2*time.Hour, "Give up waiting after this long")
	cmd.MarkFlagRequired("connector")

	return cmd
}

// newTriggerDBTCommand creates "trigger dbt".
func newTriggerDBTCommand(_ *Options) *cobra.Command {
	var (
		jobID       string
		cause       string
		wait        bool
		waitTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dbt",
		Short: "Trigger a dbt Cloud job run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			var creds dbtEnv
			if err := parseEnv(&creds); err != nil {
				return err
			}
			if creds.AccountID == "" {
				return fmt.Errorf("dbt account not set: set DOT_DBT_ACCOUNT_ID")
			}
			var gcp gcpEnv
			if err := parseEnv(&gcp); err != nil {
				return err
			}

			token, err := credential(ctx, creds.Token, creds.TokenSecretRef, gcp.Project())
			if err != nil {
				return fmt.Errorf("dbt token: %w", err)
			}

			client := dbtcloud.NewClient(creds.AccountID, token)

			run, err := client.TriggerJob(ctx, jobID, cause)
			if err != nil {
				return err
			}
			logger.Info("run triggered", "job", jobID, "run", run.ID)

			if !wait {
				fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatInt(run.ID, 10))
				return nil
			}

			waitCtx, cancel := timeoutContext(ctx, waitTimeout)
			defer cancel()

			finished, err := client.WaitForRun(waitCtx, run.ID)
			if err != nil {
				return err
			}
			logger.Info("run finished", "job", jobID, "run", finished.ID, "status", finished.StatusHuman)
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "dbt Cloud job ID")
	cmd.Flags().StringVar(&cause, "cause", "triggered by dot", "Cause string recorded on the run")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the run finishes")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 2*time.Hour, "Give up waiting after this long")
	cmd.MarkFlagRequired("job")

	return cmd
}
