package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CruGlobal/dot/internal/env"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadStackConfigRendersTemplates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "IMAGE_TAG=abcdef1234567890\n")
	path := writeFile(t, dir, "jobs.yaml", `
project: data-pipelines
envFiles:
  - .env
environments:
  staging:
    projectId: pipelines-staging
    region: us-central1
jobs:
  - name: okta-sync
    kind: job
    image:
      repository: us-docker.pkg.dev/pipelines/jobs/dot
      tagTemplate: '{{ envOr "IMAGE_TAG" "latest" | truncSHA }}'
    env:
      TARGET_ENV: '{{ .Env }}'
`)

	cfg, ctx, err := LoadStackConfig(path, LoadOptions{Env: "staging"})
	require.NoError(t, err)

	assert.Equal(t, "data-pipelines", cfg.Project)
	assert.Equal(t, "staging", ctx.Env)

	require.Len(t, cfg.Jobs, 1)
	job := cfg.Jobs[0]
	assert.Equal(t, "okta-sync", job.Name)
	assert.Equal(t, "abcdef123456", job.Image.Tag)
	assert.Equal(t, "us-docker.pkg.dev/pipelines/jobs/dot:abcdef123456", job.Image.Reference())
	assert.Equal(t, "staging", job.Env["TARGET_ENV"])
}

func TestLoadStackConfigUserVarsWin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "REGION=us-east1\n")
	path := writeFile(t, dir, "jobs.yaml", `
project: data-pipelines
envFiles:
  - .env
environments:
  staging:
    projectId: pipelines-staging
    region: '{{ envOr "REGION" "us-central1" }}'
`)

	cfg, _, err := LoadStackConfig(path, LoadOptions{
		Env:      "staging",
		UserVars: env.Vars{"REGION": "europe-west1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "europe-west1", cfg.Environments["staging"].Region)
}

func TestResolveEnvironmentInheritance(t *testing.T) {
	cfg := &StackConfig{
		Environments: map[string]Environment{
			"base": {
				ProjectID:      "pipelines-prod",
				Region:         "us-central1",
				ServiceAccount: "jobs@pipelines-prod.iam.gserviceaccount.com",
			},
			"staging": {
				From:      "base",
				ProjectID: "pipelines-staging",
			},
		},
	}

	resolved, err := ResolveEnvironment(cfg, "staging")
	require.NoError(t, err)
	assert.Equal(t, "pipelines-staging", resolved.ProjectID)
	assert.Equal(t, "us-central1", resolved.Region)
	assert.Equal(t, "jobs@pipelines-prod.iam.gserviceaccount.com", resolved.ServiceAccount)
	assert.Empty(t, resolved.From)
}

func TestResolveEnvironmentCycle(t *testing.T) {
	cfg := &StackConfig{
		Environments: map[string]Environment{
			"a": {From: "b"},
			"b": {From: "a"},
		},
	}

	_, err := ResolveEnvironment(cfg, "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestResolveEnvironmentUnknown(t *testing.T) {
	cfg := &StackConfig{Environments: map[string]Environment{}}

	_, err := ResolveEnvironment(cfg, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not defined")
}

func TestSecretRefResourceName(t *testing.T) {
	ref := SecretRef{EnvVar: "OKTA_API_KEY", Secret: "okta-api-key"}
	assert.Equal(t, "projects/pipelines-prod/secrets/okta-api-key/versions/latest",
		ref.ResourceName("pipelines-prod"))

	ref.Version = "7"
	assert.Equal(t, "projects/pipelines-prod/secrets/okta-api-key/versions/7",
		ref.ResourceName("pipelines-prod"))
}

func TestJobLookup(t *testing.T) {
	cfg := &StackConfig{Jobs: []JobSpec{{Name: "woo-sync"}}}

	job, err := cfg.Job("woo-sync")
	require.NoError(t, err)
	assert.Equal(t, "woo-sync", job.Name)

	_, err = cfg.Job("absent")
	require.Error(t, err)
}
