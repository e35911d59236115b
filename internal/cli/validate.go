package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CruGlobal/dot/internal/config"
)

// newValidateCommand creates the "validate" subcommand.
func newValidateCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate jobs.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			stackCfg, _, err := loadStack(cmd, opts)
			if err != nil {
				return err
			}

			if err := config.Validate(stackCfg); err != nil {
				return fmt.Errorf("configuration is invalid:\n%w", err)
			}

			logger.Info("configuration is valid",
				"jobs", len(stackCfg.Jobs), "environments", len(stackCfg.Environments))
			return nil
		},
	}

	addVarFlags(cmd)

	return cmd
}
