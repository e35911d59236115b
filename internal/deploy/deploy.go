package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/run/apiv2/runpb"
	"cloud.google.com/go/scheduler/apiv1/schedulerpb"

	"github.com/CruGlobal/dot/internal/config"
)

// ErrNotFound is returned by clients when a resource does not exist.
var ErrNotFound = errors.New("resource not found")

// JobsClient is the Cloud Run surface the deployer uses. The production
// implementation wraps the Cloud Run Admin v2 API; tests substitute fakes.
type JobsClient interface {
	Get(ctx context.Context, name string) (*runpb.Job, error)
	Create(ctx context.Context, parent, jobID string, job *runpb.Job) error
	Update(ctx context.Context, job *runpb.Job) error
	Delete(ctx context.Context, name string) error
	// Run starts an execution and returns its resource name.
	Run(ctx context.Context, name string) (string, error)
}

// SchedulerClient is the Cloud Scheduler surface the deployer uses.
type SchedulerClient interface {
	Get(ctx context.Context, name string) (*schedulerpb.Job, error)
	Create(ctx context.Context, parent string, job *schedulerpb.Job) error
	Update(ctx context.Context, job *schedulerpb.Job) error
	Delete(ctx context.Context, name string) error
	Pause(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
}

// Result summarizes one reconciliation.
type Result struct {
	Created   []string
	Updated   []string
	Scheduled []string
	Removed   []string
}

// Deployer reconciles declared jobs against Cloud Run and Cloud Scheduler.
type Deployer struct {
	jobs   JobsClient
	sched  SchedulerClient
	logger *slog.Logger
}

// NewDeployer wires a Deployer.
func NewDeployer(jobs JobsClient, sched SchedulerClient, logger *slog.Logger) *Deployer {
	return &Deployer{jobs: jobs, sched: sched, logger: logger}
}

// Apply brings every declared job and schedule to the desired state. HTTP
// "service" entries are skipped; they deploy through their own pipeline.
func (d *Deployer) Apply(ctx context.Context, env config.Environment, stack *config.StackConfig) (*Result, error) {
	result := &Result{}

	for _, spec := range stack.Jobs {
		if spec.Kind == "service" {
			continue
		}
		if err := d.applyJob(ctx, env, spec, result); err != nil {
			return result, fmt.Errorf("job %s: %w", spec.Name, err)
		}
		if err := d.applySchedule(ctx, env, spec, result); err != nil {
			return result, fmt.Errorf("schedule for %s: %w", spec.Name, err)
		}
	}
	return result, nil
}

func (d *Deployer) applyJob(ctx context.Context, env config.Environment, spec config.JobSpec, result *Result) error {
	desired := buildJob(env, spec)

	existing, err := d.jobs.Get(ctx, desired.Name)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := d.jobs.Create(ctx, jobParent(env), spec.Name, desired); err != nil {
			return err
		}
		d.logger.Info("created job", "job", spec.Name)
		result.Created = append(result.Created, spec.Name)
		return nil
	case err != nil:
		return err
	}

	if existing.GetLabels()["managed-by"] != managedByLabel {
		return fmt.Errorf("job exists but is not managed by this tool")
	}

	if err := d.jobs.Update(ctx, desired); err != nil {
		return err
	}
	d.logger.Info("updated job", "job", spec.Name)
	result.Updated = append(result.Updated, spec.Name)
	return nil
}

func (d *Deployer) applySchedule(ctx context.Context, env config.Environment, spec config.JobSpec, result *Result) error {
	name := scheduleName(env, spec.Name)

	existing, err := d.sched.Get(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	exists := err == nil

	if spec.Schedule == nil {
		if !exists {
			return nil
		}
		if err := d.sched.Delete(ctx, name); err != nil {
			return err
		}
		d.logger.Info("removed schedule", "job", spec.Name)
		result.Removed = append(result.Removed, spec.Name)
		return nil
	}

	desired := buildSchedule(env, spec)
	if !exists {
		parent := strings.TrimSuffix(name, "/jobs/"+spec.Name+"-trigger")
		if err := d.sched.Create(ctx, parent, desired); err != nil {
			return err
		}
	} else {
		if err := d.sched.Update(ctx, desired); err != nil {
			return err
		}
		// Update does not flip the enabled state; reconcile it explicitly.
		if spec.Schedule.Paused && existing.GetState() != schedulerpb.Job_PAUSED {
			if err := d.sched.Pause(ctx, name); err != nil {
				return err
			}
		}
		if !spec.Schedule.Paused && existing.GetState() == schedulerpb.Job_PAUSED {
			if err := d.sched.Resume(ctx, name); err != nil {
				return err
			}
		}
	}

	d.logger.Info("scheduled job", "job", spec.Name, "cron", spec.Schedule.Cron, "paused", spec.Schedule.Paused)
	result.Scheduled = append(result.Scheduled, spec.Name)
	return nil
}

// Execute starts one job run and returns the execution name.
func (d *Deployer) Execute(ctx context.Context, env config.Environment, jobName string) (string, error) {
	name := fmt.Sprintf("projects/%s/locations/%s/jobs/%s", env.ProjectID, env.Region, jobName)
	execution, err := d.jobs.Run(ctx, name)
	if err != nil {
		return "", fmt.Errorf("run job %s: %w", jobName, err)
	}
	d.logger.Info("started execution", "job", jobName, "execution", execution)
	return execution, nil
}

// Schedule describes one configured trigger for display.
type Schedule struct {
	Job      string
	Cron     string
	TimeZone string
	Paused   bool
	Exists   bool
}

// Schedules reports the declared schedules and whether each exists upstream.
func (d *Deployer) Schedules(ctx context.Context, env config.Environment, stack *config.StackConfig) ([]Schedule, error) {
	var out []Schedule
	for _, spec := range stack.Jobs {
		if spec.Schedule == nil {
			continue
		}
		s := Schedule{
			Job:      spec.Name,
			Cron:     spec.Schedule.Cron,
			TimeZone: spec.Schedule.TimeZone,
			Paused:   spec.Schedule.Paused,
		}
		_, err := d.sched.Get(ctx, scheduleName(env, spec.Name))
		switch {
		case err == nil:
			s.Exists = true
		case errors.Is(err, ErrNotFound):
		default:
			return nil, fmt.Errorf("check schedule for %s: %w", spec.Name, err)
		}
		out = append(out, s)
	}
	return out, nil
}
