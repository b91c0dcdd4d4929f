// Package billing consumes task results and settles frozen credits. The
// delivery concern never touches balances; everything money-shaped
// happens here, exactly once per result message.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/eujuliu/email-serverless/internal/broker"
	"github.com/eujuliu/email-serverless/internal/models"
)

// Settler applies one result transactionally and reports whether it had
// any effect; false means the message id was already processed or the
// task was already terminal.
type Settler interface {
	SettleResult(ctx context.Context, messageID string, result models.ResultMessage) (bool, error)
}

type Consumer struct {
	store  Settler
	logger *slog.Logger
}

func NewConsumer(store Settler, logger *slog.Logger) *Consumer {
	return &Consumer{store: store, logger: logger}
}

// Handle settles one task-result delivery. Dedup is keyed on the message
// id, which producers set to the task id.
func (c *Consumer) Handle(ctx context.Context, d broker.Delivery) error {
	var result models.ResultMessage
	if err := json.Unmarshal(d.Body, &result); err != nil {
		return err
	}

	if result.Status != models.TaskStatusCompleted && result.Status != models.TaskStatusFailed {
		return fmt.Errorf("unexpected result status %q", result.Status)
	}

	messageID := d.MessageID
	if messageID == "" {
		messageID = result.ID
	}

	applied, err := c.store.SettleResult(ctx, messageID, result)
	if err != nil {
		return err
	}

	if !applied {
		c.logger.Info("duplicate or stale result ignored", "id", result.ID, "message_id", messageID)
		return nil
	}

	c.logger.Info("task settled", "id", result.ID, "status", result.Status, "refund", result.Refund != nil && *result.Refund)
	return nil
}
