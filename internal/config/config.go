// Package config contains the loader and strongly typed model for jobs.yaml,
// the declarative description of the Cloud Run jobs and functions this tool
// deploys and runs.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CruGlobal/dot/internal/env"
)

// StackConfig represents the rendered content of jobs.yaml: one GCP project's
// worth of Cloud Run jobs, their schedules, and their secret wiring.
type StackConfig struct {
	// Project is the short project name used in resource naming.
	Project string `yaml:"project"`
	// EnvFiles lists .env files to load before rendering.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// Registry is the default container registry for job images.
	Registry string `yaml:"registry,omitempty"`
	// Environments contains GCP settings per environment.
	Environments map[string]Environment `yaml:"environments,omitempty"`
	// Topics names the Pub/Sub topics the jobs publish to.
	Topics TopicsConfig `yaml:"topics,omitempty"`
	// Jobs lists the Cloud Run jobs and functions in this stack.
	Jobs []JobSpec `yaml:"jobs,omitempty"`
	// Versions provides named version strings available in templates.
	Versions map[string]string `yaml:"versions,omitempty"`
}

// Environment describes environment-level GCP connection settings.
type Environment struct {
	// ProjectID is the GCP project the resources live in.
	ProjectID string `yaml:"projectId,omitempty"`
	// Region is the Cloud Run region (e.g. "us-central1").
	Region string `yaml:"region,omitempty"`
	// ServiceAccount is the runtime service account email for jobs.
	ServiceAccount string `yaml:"serviceAccount,omitempty"`
	// SchedulerServiceAccount is the account Cloud Scheduler invokes jobs as.
	SchedulerServiceAccount string `yaml:"schedulerServiceAccount,omitempty"`
	// From references another environment to inherit from.
	From string `yaml:"from,omitempty"`
	// Labels are applied to every managed resource.
	Labels map[string]string `yaml:"labels,omitempty"`
}

// TopicsConfig names the Pub/Sub topics used by the pipeline jobs.
type TopicsConfig struct {
	// JobCompleted receives completion events from batch jobs.
	JobCompleted string `yaml:"jobCompleted,omitempty"`
	// FivetranEvents receives verified Fivetran webhook payloads.
	FivetranEvents string `yaml:"fivetranEvents,omitempty"`
	// FabricJobEvents receives Fabric job requests mapped from dbt webhooks.
	FabricJobEvents string `yaml:"fabricJobEvents,omitempty"`
}

// JobSpec describes a single Cloud Run job or HTTP function.
type JobSpec struct {
	// Name is the Cloud Run resource name.
	Name string `yaml:"name"`
	// Kind is "job" for batch jobs or "service" for HTTP functions.
	Kind string `yaml:"kind,omitempty"`
	// Description is free-form documentation shown by "dot schedules".
	Description string `yaml:"description,omitempty"`
	// Image describes how to compute the container image reference.
	Image ImageSpec `yaml:"image"`
	// Command overrides the container entrypoint (e.g. ["dot","sync","okta"]).
	Command []string `yaml:"command,omitempty"`
	// Schedule attaches a Cloud Scheduler cron trigger; jobs only.
	Schedule *ScheduleSpec `yaml:"schedule,omitempty"`
	// Resources sets CPU/memory limits for the container.
	Resources ResourceSpec `yaml:"resources,omitempty"`
	// Timeout is the task timeout as a Go duration string (e.g. "30m").
	Timeout string `yaml:"timeout,omitempty"`
	// MaxRetries is the Cloud Run task retry count.
	MaxRetries *int `yaml:"maxRetries,omitempty"`
	// TaskCount is the number of parallel tasks per execution; 0 means 1.
	TaskCount int `yaml:"taskCount,omitempty"`
	// Env contains plain environment variables.
	Env map[string]string `yaml:"env,omitempty"`
	// Secrets maps environment variable names to Secret Manager references.
	Secrets []SecretRef `yaml:"secrets,omitempty"`
}

// HasSecretFor reports whether the job binds envVar to a Secret Manager secret.
func (s JobSpec) HasSecretFor(envVar string) bool {
	for _, ref := range s.Secrets {
		if ref.EnvVar == envVar {
			return true
		}
	}
	return false
}

// ImageSpec describes the container image for a job.
// Tag is treated as a Go-template string rendered with the stack context.
type ImageSpec struct {
	// Repository is the image repository (e.g. "us-docker.pkg.dev/p/r/dot").
	Repository string `yaml:"repository"`
	// Tag is a Go-template string that resolves to an image tag.
	Tag string `yaml:"tagTemplate,omitempty"`
}

// Reference returns the full image reference, defaulting the tag to "latest".
func (s ImageSpec) Reference() string {
	tag := strings.TrimSpace(s.Tag)
	if tag == "" {
		tag = "latest"
	}
	return s.Repository + ":" + tag
}

// ScheduleSpec describes the cron trigger for a job.
type ScheduleSpec struct {
	// Cron is a 5-field cron expression in Cloud Scheduler syntax.
	Cron string `yaml:"cron"`
	// TimeZone is an IANA zone name; UTC when empty.
	TimeZone string `yaml:"timeZone,omitempty"`
	// Paused keeps the scheduler job created but disabled.
	Paused bool `yaml:"paused,omitempty"`
}

// ResourceSpec sets container resource limits.
type ResourceSpec struct {
	// CPU is the CPU limit (e.g. "1", "2", "0.5").
	CPU string `yaml:"cpu,omitempty"`
	// Memory is the memory limit (e.g. "512Mi", "4Gi").
	Memory string `yaml:"memory,omitempty"`
}

// SecretRef binds an environment variable to a Secret Manager secret version.
type SecretRef struct {
	// EnvVar is the environment variable name seen by the container.
	EnvVar string `yaml:"envVar"`
	// Secret is the Secret Manager secret ID.
	Secret string `yaml:"secret"`
	// Version is the secret version; "latest" when empty.
	Version string `yaml:"version,omitempty"`
}

// VersionOrLatest returns the pinned version or "latest".
func (r SecretRef) VersionOrLatest() string {
	if strings.TrimSpace(r.Version) == "" {
		return "latest"
	}
	return r.Version
}

// ResourceName returns the fully qualified secret version resource name.
func (r SecretRef) ResourceName(projectID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, r.Secret, r.VersionOrLatest())
}

// LoadOptions describes parameters that influence template rendering of jobs.yaml.
type LoadOptions struct {
	// Env is the target environment name.
	Env string
	// UserVars are inline variables for template rendering.
	UserVars env.Vars
	// VarFiles lists additional var-files to load.
	VarFiles []string
}

// TemplateContext represents the data exposed to Go-templates when rendering
// jobs.yaml and other stack templates.
type TemplateContext struct {
	// Env is the selected environment name.
	Env string
	// Project is the project identifier from jobs.yaml.
	Project string
	// ProjectRoot is the path to the stack root on disk.
	ProjectRoot string
	// Now is the timestamp captured for template rendering.
	Now time.Time
	// UserVars contains inline user variables.
	UserVars env.Vars
	// EnvMap merges OS env, envFiles, var-files, and user variables.
	EnvMap env.Vars
	// Versions contains version strings from jobs.yaml.
	Versions map[string]string
}

// rawHeader is a minimal struct used to extract top-level fields before templating.
type rawHeader struct {
	Project  string            `yaml:"project"`
	EnvFiles []string          `yaml:"envFiles"`
	Versions map[string]string `yaml:"versions"`
}

// LoadAndRender reads jobs.yaml, loads envFiles and user vars, and returns
// rendered YAML bytes together with the template context that was used.
func LoadAndRender(path string, opts LoadOptions) ([]byte, TemplateContext, error) {
	var zeroCtx TemplateContext

	if path == "" {
		return nil, zeroCtx, fmt.Errorf("config path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("resolve config path: %w", err)
	}

	rawBytes, err := os.ReadFile(absPath)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("read config %q: %w", absPath, err)
	}

	var header rawHeader
	if err := yaml.Unmarshal(rawBytes, &header); err != nil {
		return nil, zeroCtx, fmt.Errorf("parse top-level config fields: %w", err)
	}

	baseDir := filepath.Dir(absPath)
	osVars := env.FromOS()

	envFileVars, err := env.LoadEnvFiles(baseDir, header.EnvFiles)
	if err != nil {
		return nil, zeroCtx, err
	}

	varFileVars := make(env.Vars)
	for _, vf := range opts.VarFiles {
		if strings.TrimSpace(vf) == "" {
			continue
		}
		vp, err := env.LoadVarFile(vf)
		if err != nil {
			return nil, zeroCtx, fmt.Errorf("load var-file %q: %w", vf, err)
		}
		varFileVars = env.Merge(varFileVars, vp)
	}

	ctx := TemplateContext{
		Env:         opts.Env,
		Project:     header.Project,
		ProjectRoot: baseDir,
		Now:         time.Now().UTC(),
		UserVars:    opts.UserVars,
		EnvMap:      env.Merge(osVars, envFileVars, varFileVars, opts.UserVars),
		Versions:    header.Versions,
	}

	rendered, err := executeTemplate(rawBytes, ctx)
	if err != nil {
		return nil, zeroCtx, err
	}

	return rendered, ctx, nil
}

// LoadStackConfig loads, templates and parses jobs.yaml into StackConfig and
// the TemplateContext used for rendering.
func LoadStackConfig(path string, opts LoadOptions) (*StackConfig, TemplateContext, error) {
	rendered, ctx, err := LoadAndRender(path, opts)
	if err != nil {
		return nil, TemplateContext{}, err
	}

	var cfg StackConfig
	if err := yaml.Unmarshal(rendered, &cfg); err != nil {
		return nil, TemplateContext{}, fmt.Errorf("parse rendered jobs.yaml: %w", err)
	}

	ctx.Versions = cfg.Versions

	return &cfg, ctx, nil
}

// Job returns the job with the given name.
func (c *StackConfig) Job(name string) (JobSpec, error) {
	for _, job := range c.Jobs {
		if job.Name == name {
			return job, nil
		}
	}
	return JobSpec{}, fmt.Errorf("job %q not defined in jobs.yaml", name)
}

// ResolveEnvironment returns the effective environment configuration for the
// given name, following optional "from" links and applying overrides.
func ResolveEnvironment(cfg *StackConfig, name string) (Environment, error) {
	if cfg == nil {
		return Environment{}, fmt.Errorf("stack config is nil")
	}

	visited := make(map[string]struct{})
	var resolve func(current string) (Environment, error)

	resolve = func(current string) (Environment, error) {
		if _, seen := visited[current]; seen {
			return Environment{}, fmt.Errorf("environment inheritance cycle detected at %q", current)
		}
		visited[current] = struct{}{}

		envCfg, ok := cfg.Environments[current]
		if !ok {
			return Environment{}, fmt.Errorf("environment %q not defined in jobs.yaml", current)
		}

		if envCfg.From == "" {
			return envCfg, nil
		}

		base, err := resolve(envCfg.From)
		if err != nil {
			return Environment{}, err
		}

		merged := base
		if envCfg.ProjectID != "" {
			merged.ProjectID = envCfg.ProjectID
		}
		if envCfg.Region != "" {
			merged.Region = envCfg.Region
		}
		if envCfg.ServiceAccount != "" {
			merged.ServiceAccount = envCfg.ServiceAccount
		}
		if envCfg.SchedulerServiceAccount != "" {
			merged.SchedulerServiceAccount = envCfg.SchedulerServiceAccount
		}
		if envCfg.Labels != nil {
			merged.Labels = envCfg.Labels
		}
		merged.From = ""
		return merged, nil
	}

	return resolve(name)
}

// executeTemplate renders the given YAML content using the stack template context.
func executeTemplate(raw []byte, ctx TemplateContext) ([]byte, error) {
	return RenderTemplate("jobs.yaml", raw, ctx)
}

// RenderTemplate renders arbitrary YAML or text content using the stack
// template context and helpers.
func RenderTemplate(name string, raw []byte, ctx TemplateContext) ([]byte, error) {
	tmpl, err := template.New(name).Funcs(buildFuncMap(ctx)).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("execute template %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

// buildFuncMap constructs the common set of template functions available in
// jobs.yaml templates.
func buildFuncMap(ctx TemplateContext) template.FuncMap {
	return template.FuncMap{
		"default":    funcDef,
		"toLower":    strings.ToLower,
		"slug":       funcSlug,
		"truncSHA":   funcTruncSHA,
		"envOr":      funcEnvOr(ctx.EnvMap),
		"ternary":    funcTernary,
		"now":        func() time.Time { return ctx.Now },
		"join":       funcJoin,
		"trimPrefix": funcTrimPrefix,
	}
}

// funcDef returns def when value is empty or whitespace, otherwise value.
func funcDef(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

// funcSlug normalizes a value into a lower-case dash-separated slug.
func funcSlug(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, " ", "-")
	v = strings.ReplaceAll(v, "_", "-")
	return v
}

// funcTruncSHA truncates an SHA-like string to a shorter length for display.
func funcTruncSHA(s string) string {
	const max = 12
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// funcEnvOr returns a function that looks up a key in envMap and falls back to def.
func funcEnvOr(envMap env.Vars) func(key, def string) string {
	return func(key, def string) string {
		if v, ok := envMap[key]; ok && v != "" {
			return v
		}
		return def
	}
}

// funcTernary returns a when cond is true, otherwise b.
func funcTernary(cond bool, a, b any) any {
	if cond {
		return a
	}
	return b
}

// funcJoin joins a slice of strings with the given separator.
func funcJoin(values []string, sep string) string {
	return strings.Join(values, sep)
}

// funcTrimPrefix removes the prefix from value when present.
func funcTrimPrefix(value, prefix string) string {
	return strings.TrimPrefix(value, prefix)
}
