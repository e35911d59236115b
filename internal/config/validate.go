package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	nameRe    = regexp.MustCompile(`^[a-z]([-a-z0-9]*[a-z0-9])?$`)
	cpuRe     = regexp.MustCompile(`^\d+(\.\d+)?$`)
	memoryRe  = regexp.MustCompile(`^\d+(Mi|Gi)$`)
	envVarRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	secretRe  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	versionRe = regexp.MustCompile(`^(latest|\d+)$`)
)

// cronParser accepts standard 5-field cron expressions, matching what
// Cloud Scheduler supports.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the rendered stack configuration for structural problems
// that would surface as deploy-time API errors otherwise. All violations are
// collected and returned joined.
func Validate(cfg *StackConfig) error {
	if cfg == nil {
		return errors.New("stack config is nil")
	}

	var errs []error

	if cfg.Project == "" {
		errs = append(errs, errors.New("project must be set"))
	}
	if len(cfg.Environments) == 0 {
		errs = append(errs, errors.New("at least one environment must be defined"))
	}

	for name := range cfg.Environments {
		if _, err := ResolveEnvironment(cfg, name); err != nil {
			errs = append(errs, fmt.Errorf("environment %q: %w", name, err))
		}
	}

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, job := range cfg.Jobs {
		label := job.Name
		if label == "" {
			label = fmt.Sprintf("jobs[%d]", i)
		}

		if job.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name must be set", label))
		} else if !nameRe.MatchString(job.Name) {
			errs = append(errs, fmt.Errorf("%s: name must be a lower-case DNS label", label))
		}
		if _, dup := seen[job.Name]; dup && job.Name != "" {
			errs = append(errs, fmt.Errorf("%s: duplicate job name", label))
		}
		seen[job.Name] = struct{}{}

		switch job.Kind {
		case "", "job", "service":
		default:
			errs = append(errs, fmt.Errorf("%s: kind must be \"job\" or \"service\", got %q", label, job.Kind))
		}

		if job.Image.Repository == "" {
			errs = append(errs, fmt.Errorf("%s: image.repository must be set", label))
		}

		if job.Schedule != nil {
			if job.Kind == "service" {
				errs = append(errs, fmt.Errorf("%s: schedule is only valid for kind \"job\"", label))
			}
			if _, err := cronParser.Parse(job.Schedule.Cron); err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid cron expression %q: %w", label, job.Schedule.Cron, err))
			}
			if tz := job.Schedule.TimeZone; tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					errs = append(errs, fmt.Errorf("%s: invalid time zone %q", label, tz))
				}
			}
		}

		if cpu := job.Resources.CPU; cpu != "" && !cpuRe.MatchString(cpu) {
			errs = append(errs, fmt.Errorf("%s: invalid cpu %q", label, cpu))
		}
		if mem := job.Resources.Memory; mem != "" && !memoryRe.MatchString(mem) {
			errs = append(errs, fmt.Errorf("%s: invalid memory %q (expected e.g. \"512Mi\", \"4Gi\")", label, mem))
		}

		if job.Timeout != "" {
			d, err := time.ParseDuration(job.Timeout)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid timeout %q: %w", label, job.Timeout, err))
			} else if d <= 0 || d > 24*time.Hour {
				errs = append(errs, fmt.Errorf("%s: timeout %q must be between 1s and 24h", label, job.Timeout))
			}
		}

		if job.MaxRetries != nil && (*job.MaxRetries < 0 || *job.MaxRetries > 10) {
			errs = append(errs, fmt.Errorf("%s: maxRetries must be between 0 and 10", label))
		}

		if job.TaskCount < 0 {
			errs = append(errs, fmt.Errorf("%s: taskCount must not be negative", label))
		}

		for key := range job.Env {
			if !envVarRe.MatchString(key) {
				errs = append(errs, fmt.Errorf("%s: invalid env var name %q", label, key))
			}
		}

		secretVars := make(map[string]struct{}, len(job.Secrets))
		for _, ref := range job.Secrets {
			if !envVarRe.MatchString(ref.EnvVar) {
				errs = append(errs, fmt.Errorf("%s: invalid secret env var name %q", label, ref.EnvVar))
			}
			if !secretRe.MatchString(ref.Secret) {
				errs = append(errs, fmt.Errorf("%s: invalid secret id %q", label, ref.Secret))
			}
			if ref.Version != "" && !versionRe.MatchString(ref.Version) {
				errs = append(errs, fmt.Errorf("%s: invalid secret version %q (expected \"latest\" or a number)", label, ref.Version))
			}
			if _, dup := secretVars[ref.EnvVar]; dup {
				errs = append(errs, fmt.Errorf("%s: secret env var %q bound more than once", label, ref.EnvVar))
			}
			secretVars[ref.EnvVar] = struct{}{}
			if _, clash := job.Env[ref.EnvVar]; clash {
				errs = append(errs, fmt.Errorf("%s: env var %q set both as plain env and secret", label, ref.EnvVar))
			}
		}
	}

	return errors.Join(errs...)
}
