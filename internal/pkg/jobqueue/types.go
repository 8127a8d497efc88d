package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeWebhookProcess JobType = "webhook_process"
	JobTypeRetentionSweep JobType = "retention_sweep"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// WebhookProcessJobPayload carries the event-log id to fulfill in background.
type WebhookProcessJobPayload struct {
	EventID string `json:"event_id"`
}

// ToMap converts the payload to a map for storage
func (p WebhookProcessJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"event_id": p.EventID,
	}
}

// WebhookProcessJobPayloadFromMap creates a payload from a map
func WebhookProcessJobPayloadFromMap(data map[string]interface{}) (*WebhookProcessJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload WebhookProcessJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// RetentionSweepJobPayload carries the age cutoff for an event-log sweep.
type RetentionSweepJobPayload struct {
	DaysToKeep int `json:"days_to_keep"`
}

// ToMap converts the payload to a map for storage
func (p RetentionSweepJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"days_to_keep": p.DaysToKeep,
	}
}

// RetentionSweepJobPayloadFromMap creates a payload from a map
func RetentionSweepJobPayloadFromMap(data map[string]interface{}) (*RetentionSweepJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload RetentionSweepJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
