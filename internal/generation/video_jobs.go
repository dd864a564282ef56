package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobState is the lifecycle of an async video generation job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// VideoJob is the pollable record of an async video generation.
type VideoJob struct {
	ID        string    `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	State     JobState  `json:"state"`
	MediaURL  string    `json:"media_url,omitempty"`
	ModelID   string    `json:"model_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// jobTTL keeps finished jobs around long enough for the client to poll
// the final state.
const jobTTL = time.Hour

// VideoJobs tracks async video generation state in Redis so any server
// process can answer a poll.
type VideoJobs struct {
	redis *redis.Client
}

// NewVideoJobs creates a job tracker over the given Redis client.
func NewVideoJobs(client *redis.Client) *VideoJobs {
	return &VideoJobs{redis: client}
}

func jobKey(id string) string { return "videojob:" + id }

// Start records a new running job and returns its ID.
func (v *VideoJobs) Start(ctx context.Context, userID uuid.UUID) (string, error) {
	job := VideoJob{
		ID:        uuid.New().String(),
		UserID:    userID,
		State:     JobRunning,
		StartedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := v.put(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Succeed marks the job done with the artifact's library URL.
func (v *VideoJobs) Succeed(ctx context.Context, jobID, mediaURL, modelID string) error {
	return v.update(ctx, jobID, func(job *VideoJob) {
		job.State = JobSucceeded
		job.MediaURL = mediaURL
		job.ModelID = modelID
	})
}

// Fail marks the job failed with a user-safe message.
func (v *VideoJobs) Fail(ctx context.Context, jobID, msg string) error {
	return v.update(ctx, jobID, func(job *VideoJob) {
		job.State = JobFailed
		job.Error = msg
	})
}

// Get returns the job, or nil if it is unknown or expired.
func (v *VideoJobs) Get(ctx context.Context, jobID string) (*VideoJob, error) {
	data, err := v.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get video job: %w", err)
	}
	var job VideoJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse video job: %w", err)
	}
	return &job, nil
}

func (v *VideoJobs) put(ctx context.Context, job VideoJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := v.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err(); err != nil {
		return fmt.Errorf("store video job: %w", err)
	}
	return nil
}

func (v *VideoJobs) update(ctx context.Context, jobID string, mutate func(*VideoJob)) error {
	job, err := v.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("video job %s not found", jobID)
	}
	mutate(job)
	job.UpdatedAt = time.Now().UTC()
	return v.put(ctx, *job)
}
