package stash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	runPluginOperationMutation = `mutation RunPluginOperation($plugin_id: ID!, $args: Map) {
  runPluginOperation(plugin_id: $plugin_id, args: $args)
}`
	runPluginTaskMutation = `mutation RunPluginTask($plugin_id: ID!, $task_name: String, $args_map: Map) {
  runPluginTask(plugin_id: $plugin_id, task_name: $task_name, args_map: $args_map)
}`
	findJobQuery = `query FindJob($input: FindJobInput!) {
  findJob(input: $input) { id status progress description error }
}`
	stopJobMutation = `mutation StopJob($job_id: ID!) {
  stopJob(job_id: $job_id)
}`
)

// JobStatus values reported by the host job queue.
const (
	JobReady     = "READY"
	JobRunning   = "RUNNING"
	JobFinished  = "FINISHED"
	JobStopping  = "STOPPING"
	JobCancelled = "CANCELLED"
	JobFailed    = "FAILED"
)

type Job struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Progress    *float64 `json:"progress"`
	Description string   `json:"description"`
	Error       string   `json:"error"`
}

// Done reports whether the job reached a terminal state.
func (j Job) Done() bool {
	switch j.Status {
	case JobFinished, JobCancelled, JobFailed:
		return true
	}
	return false
}

// TaskOptions tunes RunPluginTaskAndWait.
type TaskOptions struct {
	MaxWait      time.Duration
	PollInterval time.Duration
	OnProgress   func(progress float64)
	OnJobStart   func(jobID string)
}

// TaskResult is the outcome of a plugin task run to completion.
type TaskResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	JobID   string `json:"jobId,omitempty"`
}

// RunPluginOperation runs a synchronous plugin operation and returns its raw output.
// A null output yields a nil slice.
func (c *Client) RunPluginOperation(ctx context.Context, pluginID string, args map[string]any) (json.RawMessage, error) {
	var data struct {
		RunPluginOperation json.RawMessage `json:"runPluginOperation"`
	}
	vars := map[string]any{"plugin_id": pluginID, "args": args}
	if err := c.Do(ctx, runPluginOperationMutation, vars, &data); err != nil {
		return nil, fmt.Errorf("plugin operation %v failed: %w", args["mode"], err)
	}
	if string(data.RunPluginOperation) == "null" {
		return nil, nil
	}
	return data.RunPluginOperation, nil
}

// RunPluginTask queues a plugin task and returns the host job id.
func (c *Client) RunPluginTask(ctx context.Context, pluginID, taskName string, args map[string]any) (string, error) {
	var data struct {
		RunPluginTask string `json:"runPluginTask"`
	}
	vars := map[string]any{"plugin_id": pluginID, "task_name": taskName, "args_map": args}
	if err := c.Do(ctx, runPluginTaskMutation, vars, &data); err != nil {
		return "", fmt.Errorf("submitting plugin task %q failed: %w", taskName, err)
	}
	return data.RunPluginTask, nil
}

// FindJob looks up a job. Returns ErrJobNotFound once the host has dropped it.
func (c *Client) FindJob(ctx context.Context, id string) (*Job, error) {
	var data struct {
		FindJob *Job `json:"findJob"`
	}
	if err := c.Do(ctx, findJobQuery, map[string]any{"input": map[string]any{"id": id}}, &data); err != nil {
		return nil, err
	}
	if data.FindJob == nil {
		return nil, ErrJobNotFound
	}
	return data.FindJob, nil
}

// StopJob asks the host to cancel a running job.
func (c *Client) StopJob(ctx context.Context, id string) error {
	return c.Do(ctx, stopJobMutation, map[string]any{"job_id": id}, nil)
}

// abandonJob stops a job nobody waits for any more. Failures are only logged.
func (c *Client) abandonJob(ctx context.Context, jobID string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.StopJob(stopCtx, jobID); err != nil {
		log.WithError(err).Debugf("Could not stop job %s", jobID)
	}
}

// RunPluginTaskAndWait submits a task and polls its job until it ends or MaxWait elapses.
// Job failures are reported in the result; transport failures and timeouts as errors.
func (c *Client) RunPluginTaskAndWait(ctx context.Context, pluginID, taskName string, args map[string]any, opts TaskOptions) (TaskResult, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Minute
	}

	jobID, err := c.RunPluginTask(ctx, pluginID, taskName, args)
	if err != nil {
		return TaskResult{}, err
	}
	result := TaskResult{JobID: jobID}
	if opts.OnJobStart != nil {
		opts.OnJobStart(jobID)
	}
	log.WithFields(log.Fields{"task": taskName, "job": jobID}).Debug("Plugin task submitted")

	deadline := time.NewTimer(opts.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.abandonJob(ctx, jobID)
			return result, ctx.Err()
		case <-deadline.C:
			c.abandonJob(ctx, jobID)
			return result, fmt.Errorf("%w: job %s after %s", ErrTaskTimeout, jobID, opts.MaxWait)
		case <-ticker.C:
		}

		job, err := c.FindJob(ctx, jobID)
		if errors.Is(err, ErrJobNotFound) {
			// Finished jobs are eventually pruned from the host queue.
			result.Success = true
			return result, nil
		}
		if err != nil {
			log.WithError(err).Debugf("Polling job %s failed", jobID)
			continue
		}
		if job.Progress != nil && opts.OnProgress != nil {
			opts.OnProgress(*job.Progress)
		}
		if !job.Done() {
			continue
		}

		switch job.Status {
		case JobFinished:
			result.Success = job.Error == ""
			result.Error = job.Error
		case JobCancelled:
			result.Error = "task was cancelled"
		default:
			result.Error = job.Error
			if result.Error == "" {
				result.Error = "task failed"
			}
		}
		return result, nil
	}
}
