package cli

import (
	"github.com/spf13/cobra"

	"github.com/CruGlobal/dot/internal/config"
	"github.com/CruGlobal/dot/internal/secrets"
)

// newDoctorCommand creates the "doctor" subcommand that runs environment preflight checks.
func newDoctorCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run configuration and credential preflight checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			loadOpts, err := loadOptionsFromFlags(cmd, opts)
			if err != nil {
				return err
			}

			envName := opts.Env
			if envName == "" {
				envName = "staging"
			}
			loadOpts.Env = envName

			stackCfg, _, err := config.LoadStackConfig(opts.ConfigPath, loadOpts)
			if err != nil {
				return err
			}

			envCfg, err := config.ResolveEnvironment(stackCfg, envName)
			if err != nil {
				return err
			}

			// Without ambient GCP credentials the secret checks are skipped
			// rather than failing the whole preflight.
			var accessor secrets.Accessor
			if client, err := secrets.NewClient(cmd.Context()); err != nil {
				logger.Warn("secret manager client unavailable", "error", err)
			} else {
				accessor = client
				defer client.Close()
			}

			if err := runDoctorChecks(cmd.Context(), logger, accessor, stackCfg, envCfg, envName); err != nil {
				return err
			}

			logger.Info("doctor checks completed successfully", "env", envName)
			return nil
		},
	}

	addVarFlags(cmd)

	return cmd
}
