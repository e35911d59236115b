package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validStack() *StackConfig {
	retries := 1
	return &StackConfig{
		Project: "data-pipelines",
		Environments: map[string]Environment{
			"production": {ProjectID: "pipelines-prod", Region: "us-central1"},
		},
		Jobs: []JobSpec{
			{
				Name: "okta-sync",
				Kind: "job",
				Image: ImageSpec{
					Repository: "us-docker.pkg.dev/pipelines/jobs/dot",
					Tag:        "latest",
				},
				Schedule:   &ScheduleSpec{Cron: "0 6 * * *", TimeZone: "America/New_York"},
				Resources:  ResourceSpec{CPU: "2", Memory: "4Gi"},
				Timeout:    "45m",
				MaxRetries: &retries,
				Env:        map[string]string{"TARGET_DATASET": "okta"},
				Secrets: []SecretRef{
					{EnvVar: "OKTA_API_KEY", Secret: "okta-api-key"},
				},
			},
		},
	}
}

func TestValidateAcceptsWellFormedStack(t *testing.T) {
	require.NoError(t, Validate(validStack()))
}

func TestValidateRejectsBadCron(t *testing.T) {
	cfg := validStack()
	cfg.Jobs[0].Schedule.Cron = "every day at six"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestValidateRejectsScheduleOnService(t *testing.T) {
	cfg := validStack()
	cfg.Jobs[0].Kind = "service"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `schedule is only valid for kind "job"`)
}

func TestValidateRejectsDuplicateJobNames(t *testing.T) {
	cfg := validStack()
	cfg.Jobs = append(cfg.Jobs, cfg.Jobs[0])

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate job name")
}

func TestValidateRejectsBadResources(t *testing.T) {
	cfg := validStack()
	cfg.Jobs[0].Resources = ResourceSpec{CPU: "two", Memory: "4GB"}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cpu")
	assert.Contains(t, err.Error(), "invalid memory")
}

func TestValidateRejectsTimeoutOutOfRange(t *testing.T) {
	cfg := validStack()
	cfg.Jobs[0].Timeout = "48h"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 1s and 24h")
}

func TestValidateRejectsNegativeTaskCount(t *testing.T) {
	cfg := validStack()
	cfg.Jobs[0].TaskCount = -1

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "taskCount must not be negative")
}

func TestValidateRejectsEnvSecretClash(t *testing.T) {
	cfg := validStack()
	cfg.Jobs[0].Env["OKTA_API_KEY"] = "plaintext"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set both as plain env and secret")
}

func TestValidateRejectsBadSecretVersion(t *testing.T) {
	cfg := validStack()
	cfg.Jobs[0].Secrets[0].Version = "newest"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid secret version")
}

func TestValidateRejectsBadName(t *testing.T) {
	cfg := validStack()
	cfg.Jobs[0].Name = "Okta_Sync"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lower-case DNS label")
}
