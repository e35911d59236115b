package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CruGlobal/dot/internal/config"
	"github.com/CruGlobal/dot/internal/env"
	"github.com/CruGlobal/dot/internal/secrets"
)

// addVarFlags registers the template variable flags shared by config commands.
func addVarFlags(cmd *cobra.Command) {
	cmd.Flags().String("vars", "", "Inline template vars as k=v,k2=v2")
	cmd.Flags().String("var-file", "", "Path to a YAML or ENV var file")
}

// loadOptionsFromFlags builds config.LoadOptions from the command flags and
// DOT_* env var defaults.
func loadOptionsFromFlags(cmd *cobra.Command, opts *Options) (config.LoadOptions, error) {
	var base baseEnv
	if err := parseEnv(&base); err != nil {
		return config.LoadOptions{}, fmt.Errorf("parse env defaults: %w", err)
	}
	if opts.Env == "" {
		opts.Env = base.Env
	}
	if opts.ConfigPath == defaultConfigPath && base.ConfigPath != "" {
		opts.ConfigPath = base.ConfigPath
	}

	inlineVars, err := env.ParseInlineVars(cmd.Flag("vars").Value.String())
	if err != nil {
		return config.LoadOptions{}, err
	}

	var varFiles []string
	if vf := cmd.Flag("var-file").Value.String(); vf != "" {
		varFiles = append(varFiles, vf)
	}

	return config.LoadOptions{
		Env:      opts.Env,
		UserVars: inlineVars,
		VarFiles: varFiles,
	}, nil
}

// loadStack loads, renders, and parses jobs.yaml for the selected environment.
func loadStack(cmd *cobra.Command, opts *Options) (*config.StackConfig, config.TemplateContext, error) {
	loadOpts, err := loadOptionsFromFlags(cmd, opts)
	if err != nil {
		return nil, config.TemplateContext{}, err
	}
	return config.LoadStackConfig(opts.ConfigPath, loadOpts)
}

// requireEnvironment resolves the target environment, failing when --env was
// not provided.
func requireEnvironment(cfg *config.StackConfig, opts *Options) (config.Environment, error) {
	if opts.Env == "" {
		return config.Environment{}, fmt.Errorf("environment is required: pass --env or set DOT_ENV")
	}
	return config.ResolveEnvironment(cfg, opts.Env)
}

// credential resolves a credential that may arrive as a plain env var or as a
// Secret Manager reference. The plain value wins; the ref is fetched lazily
// so local runs never need GCP access.
func credential(ctx context.Context, value, secretRef, projectID string) (string, error) {
	if value != "" {
		return value, nil
	}
	if secretRef == "" {
		return "", fmt.Errorf("credential not set")
	}
	if projectID == "" {
		return "", fmt.Errorf("secret ref %q needs a GCP project: set DOT_GCP_PROJECT", secretRef)
	}

	ref, err := secrets.ParseRef(secretRef)
	if err != nil {
		return "", err
	}

	client, err := secrets.NewClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	return secrets.AccessString(ctx, client, ref.ResourceName(projectID))
}
