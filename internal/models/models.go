// internal/models/models.go
package models

import "time"

// Email lifecycle statuses. SCHEDULED emails are frozen: no direct
// update or delete until the task that owns them resolves.
const (
	EmailStatusDraft     = "DRAFT"
	EmailStatusScheduled = "SCHEDULED"
)

// Task lifecycle statuses. A task only moves RUNNING -> COMPLETED or
// RUNNING -> FAILED, never backwards and never skipping RUNNING.
const (
	TaskStatusPending   = "PENDING"
	TaskStatusRunning   = "RUNNING"
	TaskStatusCompleted = "COMPLETED"
	TaskStatusFailed    = "FAILED"
	TaskStatusCanceled  = "CANCELED"
)

const TaskTypeEmail = "email"

// User is the ownership root for emails and tasks. Credits move to
// frozen_credits when a send is enqueued and settle when the result lands.
type User struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email         string    `gorm:"uniqueIndex" json:"email"`
	Credits       int64     `json:"credits"`
	FrozenCredits int64     `json:"frozen_credits"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Email is a composable email draft with an ordered recipient list.
type Email struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;index" json:"user_id"`
	Subject   string    `json:"subject"`
	HTML      string    `gorm:"column:html" json:"html"`
	Audience  []string  `gorm:"serializer:json" json:"audience"`
	Status    string    `gorm:"default:DRAFT" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is one unit of queued asynchronous work.
type Task struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	Type           string    `json:"type"`
	ReferenceID    string    `gorm:"type:uuid;index" json:"reference_id"`
	UserID         string    `gorm:"type:uuid;index" json:"user_id"`
	Status         string    `gorm:"default:PENDING" json:"status"`
	Cost           int64     `json:"cost"`
	Retries        int       `json:"retries"`
	Priority       int       `json:"priority"`
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ErrorRecord is an append-only audit row for a failed attempt. Delivery
// failures write one row per rejected recipient, everything else one
// generic row.
type ErrorRecord struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	Type        string    `json:"type"`
	ReferenceID string    `gorm:"index" json:"reference_id"`
	UserID      string    `gorm:"index" json:"user_id"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

func (ErrorRecord) TableName() string { return "errors" }

// ProcessedMessage records a consumed task-result message id so replays
// never double-apply billing effects.
type ProcessedMessage struct {
	MessageID string    `gorm:"primaryKey" json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskMessage is the payload carried by the email-task queue.
type TaskMessage struct {
	ID          string `json:"id"`
	ReferenceID string `json:"reference_id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
}

// ResultMessage is the payload carried by the task-result queue.
// Reason and Refund are only set on failures.
type ResultMessage struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Refund *bool  `json:"refund,omitempty"`
}

// CreateEmailRequest is the incoming body for POST /email.
type CreateEmailRequest struct {
	Audience []string `json:"audience" binding:"required,min=1,dive,email"`
	Subject  string   `json:"subject" binding:"required,min=4"`
	HTML     string   `json:"html" binding:"required,min=1"`
}

// UpdateEmailRequest is the incoming body for PUT /email/:id. Empty
// fields keep their current value.
type UpdateEmailRequest struct {
	Audience []string `json:"audience" binding:"omitempty,min=1,dive,email"`
	Subject  string   `json:"subject" binding:"omitempty,min=4"`
	HTML     string   `json:"html" binding:"omitempty,min=1"`
}

// ListEmailsQuery is the query string for GET /emails. The handler seeds
// Limit before binding, so the range check has no omitempty escape hatch:
// an explicit limit=0 fails instead of silently selecting nothing.
type ListEmailsQuery struct {
	Offset  int    `form:"offset" binding:"omitempty,min=0"`
	Limit   int    `form:"limit" binding:"min=10,max=100"`
	OrderBy string `form:"orderBy" binding:"omitempty,oneof=asc desc"`
}

// Pagination echoes list parameters plus the total row count.
type Pagination struct {
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
	OrderBy string `json:"orderBy"`
	Total   int64  `json:"total"`
}
