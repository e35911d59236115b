package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/CruGlobal/dot/internal/config"
)

// newRenderCommand creates the "render" subcommand that prints the rendered jobs.yaml.
func newRenderCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render jobs.yaml templates and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loadOpts, err := loadOptionsFromFlags(cmd, opts)
			if err != nil {
				return err
			}

			rendered, _, err := config.LoadAndRender(opts.ConfigPath, loadOpts)
			if err != nil {
				return err
			}

			output := cmd.Flag("output").Value.String()
			if output == "" {
				_, writeErr := os.Stdout.Write(rendered)
				return writeErr
			}
			return os.WriteFile(output, rendered, 0o644)
		},
	}

	addVarFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "Write rendered config to a file instead of stdout")

	return cmd
}
