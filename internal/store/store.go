// Package store is the GORM persistence layer shared by the API and the
// queue consumers. All lookups are equality-filtered and owner-scoped;
// multi-step mutations run inside transactions.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/eujuliu/email-serverless/internal/models"
)

type Store struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Email{},
		&models.Task{},
		&models.ErrorRecord{},
		&models.ProcessedMessage{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindUser returns nil without error when the user does not exist.
func (s *Store) FindUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateEmail(ctx context.Context, email *models.Email) error {
	if email.ID == "" {
		email.ID = uuid.NewString()
	}
	if email.Status == "" {
		email.Status = models.EmailStatusDraft
	}
	return s.db.WithContext(ctx).Create(email).Error
}

// FindEmail is owner-scoped; returns nil without error when absent.
func (s *Store) FindEmail(ctx context.Context, id, userID string) (*models.Email, error) {
	var email models.Email
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &email, nil
}

// ListEmails pages over a user's emails ordered by updated_at.
func (s *Store) ListEmails(ctx context.Context, userID string, offset, limit int, orderBy string) ([]models.Email, error) {
	order := "updated_at asc"
	if strings.EqualFold(orderBy, "desc") {
		order = "updated_at desc"
	}

	var emails []models.Email
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(order).
		Offset(offset).
		Limit(limit).
		Find(&emails).Error
	return emails, err
}

func (s *Store) CountEmails(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// UpdateEmail persists new content for a draft. The caller checks the
// SCHEDULED guard first; the status filter here closes the race.
func (s *Store) UpdateEmail(ctx context.Context, email *models.Email) error {
	return s.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("id = ? AND user_id = ? AND status = ?", email.ID, email.UserID, models.EmailStatusDraft).
		Updates(models.Email{
			Subject:  email.Subject,
			HTML:     email.HTML,
			Audience: email.Audience,
		}).Error
}

func (s *Store) DeleteEmail(ctx context.Context, id, userID string) error {
	return s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.EmailStatusDraft).
		Delete(&models.Email{}).Error
}

// FindTask matches both the task id and its reference; returns nil
// without error when absent.
func (s *Store) FindTask(ctx context.Context, id, referenceID string) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).Where("id = ? AND reference_id = ?", id, referenceID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// MarkTaskRunning moves a pending task to RUNNING. Redelivered messages
// find the task already RUNNING, which is fine: the transition is only
// guarded against terminal states.
func (s *Store) MarkTaskRunning(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ? AND status IN ?", id, []string{models.TaskStatusPending, models.TaskStatusRunning}).
		Update("status", models.TaskStatusRunning).Error
}

// CreateErrorRecords appends audit rows, skipping duplicates.
func (s *Store) CreateErrorRecords(ctx context.Context, records []models.ErrorRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = uuid.NewString()
		}
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&records).Error
}

// EnqueueSend freezes the task cost out of the user's credits, creates the
// task and marks the email SCHEDULED, all or nothing.
func (s *Store) EnqueueSend(ctx context.Context, userID, emailID string, cost int64) (*models.Task, error) {
	task := &models.Task{
		ID:             uuid.NewString(),
		Type:           models.TaskTypeEmail,
		ReferenceID:    emailID,
		UserID:         userID,
		Status:         models.TaskStatusPending,
		Cost:           cost,
		IdempotencyKey: uuid.NewString(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND credits >= ?", userID, cost).
			Updates(map[string]any{
				"credits":        gorm.Expr("credits - ?", cost),
				"frozen_credits": gorm.Expr("frozen_credits + ?", cost),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientCredits
		}

		res = tx.Model(&models.Email{}).
			Where("id = ? AND user_id = ? AND status = ?", emailID, userID, models.EmailStatusDraft).
			Update("status", models.EmailStatusScheduled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrEmailNotSchedulable
		}

		return tx.Create(task).Error
	})
	if err != nil {
		return nil, err
	}

	return task, nil
}

// SettleResult applies one task-result message exactly once. The message
// id is recorded first inside the transaction; a replay hits the primary
// key and skips every billing effect.
func (s *Store) SettleResult(ctx context.Context, messageID string, result models.ResultMessage) (bool, error) {
	applied := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ProcessedMessage{MessageID: messageID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // duplicate delivery
		}

		var task models.Task
		err := tx.Where("id = ? AND status = ?", result.ID, models.TaskStatusRunning).First(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // task already terminal or unknown
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&task).Update("status", result.Status).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"frozen_credits": gorm.Expr("frozen_credits - ?", task.Cost),
		}
		if result.Refund != nil && *result.Refund {
			updates["credits"] = gorm.Expr("credits + ?", task.Cost)
		}
		if err := tx.Model(&models.User{}).Where("id = ?", task.UserID).Updates(updates).Error; err != nil {
			return err
		}

		applied = true
		return nil
	})

	return applied, err
}
