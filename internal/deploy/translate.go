// Package deploy reconciles the jobs declared in jobs.yaml with Cloud Run
// and Cloud Scheduler.
package deploy

import (
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/run/apiv2/runpb"
	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/CruGlobal/dot/internal/config"
)

// managedByLabel marks resources created by this tool so reconciliation
// never touches hand-made jobs.
const managedByLabel = "dot"

// jobName returns the fully qualified Cloud Run job resource name.
func jobName(env config.Environment, name string) string {
	return fmt.Sprintf("projects/%s/locations/%s/jobs/%s", env.ProjectID, env.Region, name)
}

// jobParent returns the Cloud Run location parent resource.
func jobParent(env config.Environment) string {
	return fmt.Sprintf("projects/%s/locations/%s", env.ProjectID, env.Region)
}

// scheduleName returns the Cloud Scheduler job resource name for a Cloud Run job.
func scheduleName(env config.Environment, name string) string {
	return fmt.Sprintf("projects/%s/locations/%s/jobs/%s-trigger", env.ProjectID, env.Region, name)
}

// buildJob translates a JobSpec into the Cloud Run v2 representation.
func buildJob(env config.Environment, spec config.JobSpec) *runpb.Job {
	container := &runpb.Container{
		Image:   spec.Image.Reference(),
		Command: spec.Command,
	}

	for key, value := range sortedEnv(spec.Env) {
		container.Env = append(container.Env, &runpb.EnvVar{
			Name:   key,
			Values: &runpb.EnvVar_Value{Value: value},
		})
	}
	for _, ref := range spec.Secrets {
		container.Env = append(container.Env, &runpb.EnvVar{
			Name: ref.EnvVar,
			Values: &runpb.EnvVar_ValueSource{
				ValueSource: &runpb.EnvVarSource{
					SecretKeyRef: &runpb.SecretKeySelector{
						Secret:  ref.Secret,
						Version: ref.VersionOrLatest(),
					},
				},
			},
		})
	}

	limits := make(map[string]string)
	if spec.Resources.CPU != "" {
		limits["cpu"] = spec.Resources.CPU
	}
	if spec.Resources.Memory != "" {
		limits["memory"] = spec.Resources.Memory
	}
	if len(limits) > 0 {
		container.Resources = &runpb.ResourceRequirements{Limits: limits}
	}

	task := &runpb.TaskTemplate{
		Containers:     []*runpb.Container{container},
		ServiceAccount: env.ServiceAccount,
	}
	if spec.Timeout != "" {
		// Validate() has already checked the duration syntax.
		if d, err := time.ParseDuration(spec.Timeout); err == nil {
			task.Timeout = durationpb.New(d)
		}
	}
	if spec.MaxRetries != nil {
		task.Retries = &runpb.TaskTemplate_MaxRetries{MaxRetries: int32(*spec.MaxRetries)}
	}

	labels := map[string]string{"managed-by": managedByLabel}
	for k, v := range env.Labels {
		labels[k] = v
	}

	taskCount := int32(1)
	if spec.TaskCount > 0 {
		taskCount = int32(spec.TaskCount)
	}

	return &runpb.Job{
		Name:   jobName(env, spec.Name),
		Labels: labels,
		Template: &runpb.ExecutionTemplate{
			TaskCount: taskCount,
			Template:  task,
		},
	}
}

// buildSchedule translates a JobSpec's schedule into a Cloud Scheduler job
// that triggers the Cloud Run job over HTTP with an OAuth token.
func buildSchedule(env config.Environment, spec config.JobSpec) *schedulerpb.Job {
	runURI := fmt.Sprintf(
		"https://%s-run.googleapis.com/apis/run.googleapis.com/v1/namespaces/%s/jobs/%s:run",
		env.Region, env.ProjectID, spec.Name,
	)

	state := schedulerpb.Job_ENABLED
	if spec.Schedule.Paused {
		state = schedulerpb.Job_PAUSED
	}

	tz := spec.Schedule.TimeZone
	if tz == "" {
		tz = "Etc/UTC"
	}

	return &schedulerpb.Job{
		Name:        scheduleName(env, spec.Name),
		Description: spec.Description,
		Schedule:    spec.Schedule.Cron,
		TimeZone:    tz,
		State:       state,
		Target: &schedulerpb.Job_HttpTarget{
			HttpTarget: &schedulerpb.HttpTarget{
				Uri:        runURI,
				HttpMethod: schedulerpb.HttpMethod_POST,
				AuthorizationHeader: &schedulerpb.HttpTarget_OauthToken{
					OauthToken: &schedulerpb.OAuthToken{
						ServiceAccountEmail: env.SchedulerServiceAccount,
					},
				},
			},
		},
	}
}

// sortedEnv iterates env vars in name order so rendered jobs diff cleanly.
func sortedEnv(env map[string]string) func(yield func(string, string) bool) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return func(yield func(string, string) bool) {
		for _, k := range keys {
			if !yield(k, env[k]) {
				return
			}
		}
	}
}
