package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/ManuelReschke/LeadLedger/internal/pkg/ledger"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeNotification JobType = "notification"
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

// NotificationJobPayload is a ledger notification waiting for delivery.
type NotificationJobPayload struct {
	Kind      ledger.NotificationKind `json:"kind"`
	AccountID uint                    `json:"account_id"`
	Credits   int                     `json:"credits"`
	Balance   int                     `json:"balance"`
	PlanName  string                  `json:"plan_name,omitempty"`
	Date      *time.Time              `json:"date,omitempty"`
}

func NotificationJobPayloadFrom(n ledger.Notification) NotificationJobPayload {
	return NotificationJobPayload{
		Kind:      n.Kind,
		AccountID: n.AccountID,
		Credits:   n.Credits,
		Balance:   n.Balance,
		PlanName:  n.PlanName,
		Date:      n.Date,
	}
}

// ToMap converts the payload to a map for storage
func (p NotificationJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"kind":       string(p.Kind),
		"account_id": p.AccountID,
		"credits":    p.Credits,
		"balance":    p.Balance,
	}
	if p.PlanName != "" {
		m["plan_name"] = p.PlanName
	}
	if p.Date != nil {
		m["date"] = p.Date.UTC().Format(time.RFC3339)
	}
	return m
}

// NotificationJobPayloadFromMap creates a payload from a map
func NotificationJobPayloadFromMap(data map[string]interface{}) (*NotificationJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload NotificationJobPayload
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
