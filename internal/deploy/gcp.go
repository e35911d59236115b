package deploy

import (
	"context"
	"fmt"

	run "cloud.google.com/go/run/apiv2"
	"cloud.google.com/go/run/apiv2/runpb"
	scheduler "cloud.google.com/go/scheduler/apiv1"
	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// gcpJobsClient adapts the Cloud Run Admin v2 API to JobsClient, waiting on
// long-running operations so callers see synchronous results.
type gcpJobsClient struct {
	client *run.JobsClient
}

// NewJobsClient creates the Cloud Run backed JobsClient.
func NewJobsClient(ctx context.Context) (JobsClient, error) {
	client, err := run.NewJobsClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create cloud run client: %w", err)
	}
	return &gcpJobsClient{client: client}, nil
}

func (c *gcpJobsClient) Get(ctx context.Context, name string) (*runpb.Job, error) {
	job, err := c.client.GetJob(ctx, &runpb.GetJobRequest{Name: name})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return job, nil
}

func (c *gcpJobsClient) Create(ctx context.Context, parent, jobID string, job *runpb.Job) error {
	op, err := c.client.CreateJob(ctx, &runpb.CreateJobRequest{
		Parent: parent,
		JobId:  jobID,
		Job:    job,
	})
	if err != nil {
		return err
	}
	_, err = op.Wait(ctx)
	return err
}

func (c *gcpJobsClient) Update(ctx context.Context, job *runpb.Job) error {
	op, err := c.client.UpdateJob(ctx, &runpb.UpdateJobRequest{Job: job})
	if err != nil {
		return mapNotFound(err)
	}
	_, err = op.Wait(ctx)
	return err
}

func (c *gcpJobsClient) Delete(ctx context.Context, name string) error {
	op, err := c.client.DeleteJob(ctx, &runpb.DeleteJobRequest{Name: name})
	if err != nil {
		return mapNotFound(err)
	}
	_, err = op.Wait(ctx)
	return err
}

func (c *gcpJobsClient) Run(ctx context.Context, name string) (string, error) {
	op, err := c.client.RunJob(ctx, &runpb.RunJobRequest{Name: name})
	if err != nil {
		return "", mapNotFound(err)
	}
	// The execution name is available in the operation metadata before the
	// execution itself finishes.
	meta, err := op.Metadata()
	if err != nil {
		return "", err
	}
	return meta.GetName(), nil
}

// gcpSchedulerClient adapts the Cloud Scheduler API to SchedulerClient.
type gcpSchedulerClient struct {
	client *scheduler.CloudSchedulerClient
}

// NewSchedulerClient creates the Cloud Scheduler backed SchedulerClient.
func NewSchedulerClient(ctx context.Context) (SchedulerClient, error) {
	client, err := scheduler.NewCloudSchedulerClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create cloud scheduler client: %w", err)
	}
	return &gcpSchedulerClient{client: client}, nil
}

func (c *gcpSchedulerClient) Get(ctx context.Context, name string) (*schedulerpb.Job, error) {
	job, err := c.client.GetJob(ctx, &schedulerpb.GetJobRequest{Name: name})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return job, nil
}

func (c *gcpSchedulerClient) Create(ctx context.Context, parent string, job *schedulerpb.Job) error {
	_, err := c.client.CreateJob(ctx, &schedulerpb.CreateJobRequest{Parent: parent, Job: job})
	return err
}

func (c *gcpSchedulerClient) Update(ctx context.Context, job *schedulerpb.Job) error {
	_, err := c.client.UpdateJob(ctx, &schedulerpb.UpdateJobRequest{Job: job})
	return mapNotFound(err)
}

func (c *gcpSchedulerClient) Delete(ctx context.Context, name string) error {
	return mapNotFound(c.client.DeleteJob(ctx, &schedulerpb.DeleteJobRequest{Name: name}))
}

func (c *gcpSchedulerClient) Pause(ctx context.Context, name string) error {
	_, err := c.client.PauseJob(ctx, &schedulerpb.PauseJobRequest{Name: name})
	return mapNotFound(err)
}

func (c *gcpSchedulerClient) Resume(ctx context.Context, name string) error {
	_, err := c.client.ResumeJob(ctx, &schedulerpb.ResumeJobRequest{Name: name})
	return mapNotFound(err)
}

// mapNotFound converts gRPC NotFound errors into ErrNotFound so callers can
// branch with errors.Is.
func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
