// Package worker turns queued send-email instructions into delivery
// attempts. Each message runs one strictly sequential pipeline to a
// terminal outcome; there is no internal retry loop.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/eujuliu/email-serverless/internal/apperr"
	"github.com/eujuliu/email-serverless/internal/broker"
	"github.com/eujuliu/email-serverless/internal/mail"
	"github.com/eujuliu/email-serverless/internal/models"
)

// TaskStore is the slice of persistence the processor needs.
type TaskStore interface {
	FindTask(ctx context.Context, id, referenceID string) (*models.Task, error)
	FindEmail(ctx context.Context, id, userID string) (*models.Email, error)
	MarkTaskRunning(ctx context.Context, id string) error
	CreateErrorRecords(ctx context.Context, records []models.ErrorRecord) error
}

// ResultPublisher emits exactly one result message per processed task.
type ResultPublisher interface {
	Publish(ctx context.Context, routingKey, messageID string, payload any) error
}

// Config controls the delivery attempt and the refund policy for
// recipient-level rejections; every other error kind always refunds.
type Config struct {
	From             string
	RefundOnDelivery bool
}

type Processor struct {
	store   TaskStore
	sender  mail.Sender
	results ResultPublisher
	logger  *slog.Logger
	cfg     Config
}

func NewProcessor(store TaskStore, sender mail.Sender, results ResultPublisher, logger *slog.Logger, cfg Config) *Processor {
	return &Processor{store: store, sender: sender, results: results, logger: logger, cfg: cfg}
}

// Handle processes one email-task delivery. Business failures are
// terminal: they produce audit rows plus a FAILED result and return nil so
// the message is acked. Only infrastructure faults (undecodable payload,
// store or publish failure) propagate, which nacks without requeue.
func (p *Processor) Handle(ctx context.Context, d broker.Delivery) error {
	var msg models.TaskMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return err
	}

	p.logger.Info("received new email task", "id", msg.ID)

	task, err := p.process(ctx, msg)
	if err == nil {
		p.logger.Info("email sent with success!", "id", msg.ID)
		return p.results.Publish(ctx, broker.RouteTaskResult, msg.ID, models.ResultMessage{
			ID:     msg.ID,
			Status: models.TaskStatusCompleted,
		})
	}

	return p.fail(ctx, msg, task, err)
}

// process runs the pipeline: validate shape, load task, load the email it
// references scoped to the task's owner, attempt delivery.
func (p *Processor) process(ctx context.Context, msg models.TaskMessage) (*models.Task, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}

	task, err := p.store.FindTask(ctx, msg.ID, msg.ReferenceID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apperr.NotFound("Task not found")
	}

	// The task goes RUNNING as soon as it is known to exist so that every
	// published failure refers to a RUNNING task and billing can settle it.
	if err := p.store.MarkTaskRunning(ctx, task.ID); err != nil {
		return task, err
	}

	email, err := p.store.FindEmail(ctx, msg.ReferenceID, task.UserID)
	if err != nil {
		return task, err
	}
	if email == nil {
		return task, apperr.NotFound("Email not found")
	}

	rejections, err := p.sender.Send(ctx, mail.Message{
		From:    p.cfg.From,
		To:      email.Audience,
		Subject: email.Subject,
		HTML:    email.HTML,
	})
	if err != nil {
		return task, err
	}

	if len(rejections) > 0 {
		pairs := make([]apperr.Rejection, len(rejections))
		for i, r := range rejections {
			pairs[i] = apperr.Rejection{Recipient: r.Recipient, Reason: r.Reason}
		}
		return task, apperr.Delivery(pairs)
	}

	return task, nil
}

// fail classifies the error, appends audit rows and publishes the FAILED
// result. The processor never touches credit balances; the refund flag is
// only a signal for the billing consumer.
func (p *Processor) fail(ctx context.Context, msg models.TaskMessage, task *models.Task, cause error) error {
	classified := apperr.From(cause)
	reason := classified.Message

	var refund bool
	switch classified.Kind {
	case apperr.KindDelivery:
		refund = p.cfg.RefundOnDelivery
	default:
		refund = true
	}

	p.logger.Error("email task failed", "id", msg.ID, "reason", reason, "error", cause)

	userID := ""
	if task != nil {
		userID = task.UserID
	}

	var records []models.ErrorRecord
	if classified.Kind == apperr.KindDelivery {
		for _, r := range classified.Rejections {
			records = append(records, models.ErrorRecord{
				ID:          uuid.NewString(),
				Type:        models.TaskTypeEmail,
				ReferenceID: msg.ReferenceID,
				UserID:      userID,
				Reason:      r.Recipient + ": " + r.Reason,
			})
		}
	} else {
		// Unexpected faults keep their raw message in the audit row even
		// though the published reason stays generic.
		records = append(records, models.ErrorRecord{
			ID:          uuid.NewString(),
			Type:        models.TaskTypeEmail,
			ReferenceID: msg.ReferenceID,
			UserID:      userID,
			Reason:      cause.Error(),
		})
	}

	if err := p.store.CreateErrorRecords(ctx, records); err != nil {
		return err
	}

	return p.results.Publish(ctx, broker.RouteTaskResult, msg.ID, models.ResultMessage{
		ID:     msg.ID,
		Status: models.TaskStatusFailed,
		Reason: reason,
		Refund: &refund,
	})
}

func validate(msg models.TaskMessage) error {
	if _, err := uuid.Parse(msg.ID); err != nil {
		return apperr.Validation("id must be a valid uuid")
	}
	if _, err := uuid.Parse(msg.ReferenceID); err != nil {
		return apperr.Validation("reference_id must be a valid uuid")
	}
	if msg.Type != models.TaskTypeEmail {
		return apperr.Validation("type must be email")
	}
	if msg.Status != models.TaskStatusRunning {
		return apperr.Validation("status must be RUNNING")
	}
	return nil
}
