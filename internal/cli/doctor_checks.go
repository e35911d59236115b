package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CruGlobal/dot/internal/config"
	"github.com/CruGlobal/dot/internal/secrets"
)

// jobCredentials maps each job command to the env vars it needs at runtime.
// The doctor warns rather than fails for jobs not present in jobs.yaml.
var jobCredentials = map[string][]string{
	"trigger fivetran": {"DOT_FIVETRAN_API_KEY", "DOT_FIVETRAN_API_SECRET"},
	"trigger dbt":      {"DOT_DBT_ACCOUNT_ID", "DOT_DBT_TOKEN"},
	"sync okta":        {"DOT_OKTA_ORG_URL", "DOT_OKTA_TOKEN"},
	"sync woo":         {"DOT_WOO_STORE_URL", "DOT_WOO_CONSUMER_KEY", "DOT_WOO_CONSUMER_SECRET"},
	"sync geography":   {"DOT_GEONAMES_USER", "DOT_MAXMIND_LICENSE_KEY"},
	"serve":            {"DOT_FIVETRAN_WEBHOOK_SECRET", "DOT_DBT_WEBHOOK_SECRET"},
}

func runDoctorChecks(ctx context.Context, logger *slog.Logger, accessor secrets.Accessor, stackCfg *config.StackConfig, envCfg config.Environment, envName string) error {
	if logger == nil {
		logger = slog.Default()
	}

	var problems []string

	if err := config.Validate(stackCfg); err != nil {
		logger.Error("doctor check failed: configuration invalid", "env", envName, "error", err)
		problems = append(problems, "configuration invalid")
	} else {
		logger.Info("doctor check ok: configuration valid", "env", envName, "jobs", len(stackCfg.Jobs))
	}

	if envCfg.ProjectID == "" {
		logger.Error("doctor check failed: environment has no projectId", "env", envName)
		problems = append(problems, "missing projectId")
	}
	if envCfg.Region == "" {
		logger.Error("doctor check failed: environment has no region", "env", envName)
		problems = append(problems, "missing region")
	}
	if envCfg.ServiceAccount == "" {
		logger.Warn("environment has no serviceAccount; jobs run as the default account", "env", envName)
	}

	// Each declared job's command tells us which credentials it will read.
	// A job can carry them as Cloud Run secret refs, so absence locally is a
	// warning, not a failure.
	for _, job := range stackCfg.Jobs {
		command := strings.Join(job.Command, " ")
		for key, vars := range jobCredentials {
			if !strings.Contains(command, key) {
				continue
			}
			for _, v := range vars {
				if envPresent(v) || envPresent(v+"_SECRET") || job.HasSecretFor(v) {
					logger.Info("doctor check ok: credential configured", "job", job.Name, "var", v)
					continue
				}
				logger.Warn("credential not configured locally", "job", job.Name, "var", v)
			}
		}
	}

	if accessor == nil {
		logger.Warn("secret manager unavailable; skipping secret access checks", "env", envName)
	} else if n := checkSecretAccess(ctx, logger, accessor, stackCfg, envCfg.ProjectID); n > 0 {
		problems = append(problems, fmt.Sprintf("%d inaccessible secrets", n))
	}

	if len(problems) > 0 {
		return fmt.Errorf("doctor found problems: %s", strings.Join(problems, ", "))
	}
	return nil
}

// checkSecretAccess attempts to read every secret version jobs.yaml binds,
// so a bad reference fails the preflight instead of the deployed job. Each
// distinct reference is fetched once.
func checkSecretAccess(ctx context.Context, logger *slog.Logger, accessor secrets.Accessor, stackCfg *config.StackConfig, projectID string) int {
	checked := make(map[string]bool)
	failures := 0
	for _, job := range stackCfg.Jobs {
		for _, ref := range job.Secrets {
			name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, ref.Secret, ref.VersionOrLatest())
			ok, seen := checked[name]
			if !seen {
				_, err := accessor.Access(ctx, name)
				ok = err == nil
				checked[name] = ok
				if !ok {
					failures++
					logger.Error("doctor check failed: secret inaccessible",
						"job", job.Name, "var", ref.EnvVar, "secret", name, "error", err)
					continue
				}
			}
			if ok {
				logger.Info("doctor check ok: secret accessible", "job", job.Name, "var", ref.EnvVar, "secret", ref.Secret)
			} else {
				logger.Error("doctor check failed: secret inaccessible", "job", job.Name, "var", ref.EnvVar, "secret", name)
			}
		}
	}
	return failures
}
