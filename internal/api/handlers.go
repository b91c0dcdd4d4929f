package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/eujuliu/email-serverless/internal/apperr"
	"github.com/eujuliu/email-serverless/internal/broker"
	"github.com/eujuliu/email-serverless/internal/models"
	"github.com/eujuliu/email-serverless/internal/store"
)

// EmailStore is the slice of persistence the handlers need.
type EmailStore interface {
	FindUser(ctx context.Context, id string) (*models.User, error)
	CreateEmail(ctx context.Context, email *models.Email) error
	FindEmail(ctx context.Context, id, userID string) (*models.Email, error)
	ListEmails(ctx context.Context, userID string, offset, limit int, orderBy string) ([]models.Email, error)
	CountEmails(ctx context.Context, userID string) (int64, error)
	UpdateEmail(ctx context.Context, email *models.Email) error
	DeleteEmail(ctx context.Context, id, userID string) error
	EnqueueSend(ctx context.Context, userID, emailID string, cost int64) (*models.Task, error)
}

// TaskPublisher enqueues the send instruction for the worker.
type TaskPublisher interface {
	Publish(ctx context.Context, routingKey, messageID string, payload any) error
}

type Handlers struct {
	store    EmailStore
	tasks    TaskPublisher
	logger   *slog.Logger
	taskCost int64
}

func NewHandlers(store EmailStore, tasks TaskPublisher, logger *slog.Logger, taskCost int64) *Handlers {
	return &Handlers{store: store, tasks: tasks, logger: logger, taskCost: taskCost}
}

func (h *Handlers) CreateEmail(c *gin.Context) {
	claims := claimsFrom(c)

	var req models.CreateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Validation(minifyBindingError(err)))
		return
	}

	if !h.requireUser(c, claims.UserID) {
		return
	}

	email := &models.Email{
		UserID:   claims.UserID,
		Subject:  req.Subject,
		HTML:     req.HTML,
		Audience: req.Audience,
		Status:   models.EmailStatusDraft,
	}
	if err := h.store.CreateEmail(c.Request.Context(), email); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, email)
}

func (h *Handlers) GetEmail(c *gin.Context) {
	claims := claimsFrom(c)

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		h.respondError(c, apperr.Validation("id must be a valid uuid"))
		return
	}

	if !h.requireUser(c, claims.UserID) {
		return
	}

	email, err := h.store.FindEmail(c.Request.Context(), id, claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if email == nil {
		h.respondError(c, apperr.NotFound("Email not found"))
		return
	}

	c.JSON(http.StatusOK, email)
}

func (h *Handlers) ListEmails(c *gin.Context) {
	claims := claimsFrom(c)

	query := models.ListEmailsQuery{Limit: 10, OrderBy: "asc"}
	if err := c.ShouldBindQuery(&query); err != nil {
		h.respondError(c, apperr.Validation(minifyBindingError(err)))
		return
	}

	if !h.requireUser(c, claims.UserID) {
		return
	}

	ctx := c.Request.Context()
	emails, err := h.store.ListEmails(ctx, claims.UserID, query.Offset, query.Limit, query.OrderBy)
	if err != nil {
		h.respondError(c, err)
		return
	}

	total, err := h.store.CountEmails(ctx, claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"emails": emails,
		"pagination": models.Pagination{
			Offset:  query.Offset,
			Limit:   query.Limit,
			OrderBy: query.OrderBy,
			Total:   total,
		},
	})
}

func (h *Handlers) UpdateEmail(c *gin.Context) {
	claims := claimsFrom(c)

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		h.respondError(c, apperr.Validation("id must be a valid uuid"))
		return
	}

	var req models.UpdateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Validation(minifyBindingError(err)))
		return
	}

	if !h.requireUser(c, claims.UserID) {
		return
	}

	ctx := c.Request.Context()
	email, err := h.store.FindEmail(ctx, id, claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if email == nil {
		h.respondError(c, apperr.NotFound("Email not found"))
		return
	}
	if email.Status == models.EmailStatusScheduled {
		h.respondError(c, apperr.Conflict("Cannot update a SCHEDULED email"))
		return
	}

	if req.Subject != "" {
		email.Subject = req.Subject
	}
	if req.HTML != "" {
		email.HTML = req.HTML
	}
	if len(req.Audience) > 0 {
		email.Audience = req.Audience
	}

	if err := h.store.UpdateEmail(ctx, email); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, email)
}

func (h *Handlers) DeleteEmail(c *gin.Context) {
	claims := claimsFrom(c)

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		h.respondError(c, apperr.Validation("id must be a valid uuid"))
		return
	}

	if !h.requireUser(c, claims.UserID) {
		return
	}

	ctx := c.Request.Context()
	email, err := h.store.FindEmail(ctx, id, claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if email == nil {
		h.respondError(c, apperr.NotFound("Email not found"))
		return
	}
	if email.Status == models.EmailStatusScheduled {
		h.respondError(c, apperr.Conflict("Cannot delete a SCHEDULED email"))
		return
	}

	if err := h.store.DeleteEmail(ctx, id, claims.UserID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// SendEmail freezes credits, creates the task, marks the email SCHEDULED
// and enqueues the send instruction. The caller gets the task back
// immediately; the delivery outcome only surfaces via the result stream.
func (h *Handlers) SendEmail(c *gin.Context) {
	claims := claimsFrom(c)

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		h.respondError(c, apperr.Validation("id must be a valid uuid"))
		return
	}

	if !h.requireUser(c, claims.UserID) {
		return
	}

	ctx := c.Request.Context()
	email, err := h.store.FindEmail(ctx, id, claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if email == nil {
		h.respondError(c, apperr.NotFound("Email not found"))
		return
	}
	if email.Status == models.EmailStatusScheduled {
		h.respondError(c, apperr.Conflict("Email is already scheduled"))
		return
	}

	task, err := h.store.EnqueueSend(ctx, claims.UserID, id, h.taskCost)
	if err != nil {
		h.respondError(c, err)
		return
	}

	err = h.tasks.Publish(ctx, broker.RouteEmailSend, task.ID, models.TaskMessage{
		ID:          task.ID,
		ReferenceID: email.ID,
		Type:        models.TaskTypeEmail,
		Status:      models.TaskStatusRunning,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, task)
}

func (h *Handlers) requireUser(c *gin.Context, userID string) bool {
	user, err := h.store.FindUser(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return false
	}
	if user == nil {
		h.respondError(c, apperr.NotFound("User not found"))
		return false
	}
	return true
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrInsufficientCredits):
		err = apperr.Conflict("Insufficient credits")
	case errors.Is(err, store.ErrEmailNotSchedulable):
		err = apperr.Conflict("Email is already scheduled")
	}

	classified := apperr.From(err)
	if classified.Kind == apperr.KindInternal {
		h.logger.Error("request failed", "error", err, "path", c.FullPath())
	}

	c.JSON(classified.HTTPStatus(), gin.H{"error": classified.Message})
}

// minifyBindingError flattens validator output to "field=message; ..." so
// clients get every failing field in one line.
func minifyBindingError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+"="+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
