package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CruGlobal/dot/internal/config"
	"github.com/CruGlobal/dot/internal/deploy"
)

// newDeployCommand creates the "deploy" subcommand that reconciles Cloud Run
// jobs and schedules with jobs.yaml.
func newDeployCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy jobs and schedules to Cloud Run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			stackCfg, _, err := loadStack(cmd, opts)
			if err != nil {
				return err
			}
			if err := config.Validate(stackCfg); err != nil {
				return fmt.Errorf("configuration is invalid:\n%w", err)
			}

			targetEnv, err := requireEnvironment(stackCfg, opts)
			if err != nil {
				return err
			}

			jobs, err := deploy.NewJobsClient(ctx)
			if err != nil {
				return err
			}
			sched, err := deploy.NewSchedulerClient(ctx)
			if err != nil {
				return err
			}

			deployer := deploy.NewDeployer(jobs, sched, logger)
			result, err := deployer.Apply(ctx, targetEnv, stackCfg)
			if err != nil {
				return err
			}

			logger.Info("deploy complete",
				"env", opts.Env,
				"created", len(result.Created),
				"updated", len(result.Updated),
				"scheduled", len(result.Scheduled),
				"removed", len(result.Removed))
			return nil
		},
	}

	addVarFlags(cmd)

	return cmd
}

// newRunCommand creates the "run" subcommand that starts one job execution.
func newRunCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Start an execution of a deployed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			stackCfg, _, err := loadStack(cmd, opts)
			if err != nil {
				return err
			}
			if _, err := stackCfg.Job(args[0]); err != nil {
				return err
			}

			targetEnv, err := requireEnvironment(stackCfg, opts)
			if err != nil {
				return err
			}

			jobs, err := deploy.NewJobsClient(ctx)
			if err != nil {
				return err
			}
			sched, err := deploy.NewSchedulerClient(ctx)
			if err != nil {
				return err
			}

			deployer := deploy.NewDeployer(jobs, sched, logger)
			execution, err := deployer.Execute(ctx, targetEnv, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), execution)
			return nil
		},
	}

	addVarFlags(cmd)

	return cmd
}

// newSchedulesCommand creates the "schedules" subcommand.
func newSchedulesCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "List configured schedules and their deployment state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			stackCfg, _, err := loadStack(cmd, opts)
			if err != nil {
				return err
			}
			targetEnv, err := requireEnvironment(stackCfg, opts)
			if err != nil {
				return err
			}

			jobs, err := deploy.NewJobsClient(ctx)
			if err != nil {
				return err
			}
			sched, err := deploy.NewSchedulerClient(ctx)
			if err != nil {
				return err
			}

			deployer := deploy.NewDeployer(jobs, sched, logger)
			schedules, err := deployer.Schedules(ctx, targetEnv, stackCfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-30s %-20s %-20s %-8s %s\n", "JOB", "CRON", "TIMEZONE", "PAUSED", "DEPLOYED")
			for _, s := range schedules {
				tz := s.TimeZone
				if tz == "" {
					tz = "Etc/UTC"
				}
				fmt.Fprintf(out, "%-30s %-20s %-20s %-8t %t\n", s.Job, s.Cron, tz, s.Paused, s.Exists)
			}
			return nil
		},
	}

	addVarFlags(cmd)

	return cmd
}
