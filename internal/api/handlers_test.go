package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eujuliu/email-serverless/internal/broker"
	"github.com/eujuliu/email-serverless/internal/models"
	"github.com/eujuliu/email-serverless/internal/store"
)

type fakeEmailStore struct {
	users  map[string]*models.User
	emails map[string]*models.Email
	tasks  []*models.Task
}

func newFakeEmailStore() *fakeEmailStore {
	return &fakeEmailStore{
		users:  make(map[string]*models.User),
		emails: make(map[string]*models.Email),
	}
}

func (s *fakeEmailStore) FindUser(_ context.Context, id string) (*models.User, error) {
	return s.users[id], nil
}

func (s *fakeEmailStore) CreateEmail(_ context.Context, email *models.Email) error {
	if email.ID == "" {
		email.ID = uuid.NewString()
	}
	s.emails[email.ID] = email
	return nil
}

func (s *fakeEmailStore) FindEmail(_ context.Context, id, userID string) (*models.Email, error) {
	email, ok := s.emails[id]
	if !ok || email.UserID != userID {
		return nil, nil
	}
	copied := *email
	return &copied, nil
}

func (s *fakeEmailStore) ListEmails(_ context.Context, userID string, offset, limit int, _ string) ([]models.Email, error) {
	var out []models.Email
	for _, e := range s.emails {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeEmailStore) CountEmails(_ context.Context, userID string) (int64, error) {
	var count int64
	for _, e := range s.emails {
		if e.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *fakeEmailStore) UpdateEmail(_ context.Context, email *models.Email) error {
	current, ok := s.emails[email.ID]
	if !ok || current.Status != models.EmailStatusDraft {
		return nil
	}
	s.emails[email.ID] = email
	return nil
}

func (s *fakeEmailStore) DeleteEmail(_ context.Context, id, userID string) error {
	current, ok := s.emails[id]
	if ok && current.UserID == userID && current.Status == models.EmailStatusDraft {
		delete(s.emails, id)
	}
	return nil
}

func (s *fakeEmailStore) EnqueueSend(_ context.Context, userID, emailID string, cost int64) (*models.Task, error) {
	user := s.users[userID]
	if user == nil || user.Credits < cost {
		return nil, store.ErrInsufficientCredits
	}
	email := s.emails[emailID]
	if email == nil || email.Status != models.EmailStatusDraft {
		return nil, store.ErrEmailNotSchedulable
	}

	user.Credits -= cost
	user.FrozenCredits += cost
	email.Status = models.EmailStatusScheduled

	task := &models.Task{
		ID:          uuid.NewString(),
		Type:        models.TaskTypeEmail,
		ReferenceID: emailID,
		UserID:      userID,
		Status:      models.TaskStatusPending,
		Cost:        cost,
	}
	s.tasks = append(s.tasks, task)
	return task, nil
}

type capturedPublish struct {
	route     string
	messageID string
	payload   any
}

type fakeTaskPublisher struct {
	published []capturedPublish
}

func (p *fakeTaskPublisher) Publish(_ context.Context, routingKey, messageID string, payload any) error {
	p.published = append(p.published, capturedPublish{routingKey, messageID, payload})
	return nil
}

type apiFixture struct {
	store     *fakeEmailStore
	publisher *fakeTaskPublisher
	router    *gin.Engine
	userID    string
}

func newAPIFixture() *apiFixture {
	gin.SetMode(gin.TestMode)

	st := newFakeEmailStore()
	publisher := &fakeTaskPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := NewHandlers(st, publisher, logger, 5)

	userID := uuid.NewString()
	st.users[userID] = &models.User{ID: userID, Email: "owner@x.com", Credits: 100}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(claimsKey, Claims{UserID: userID, Email: "owner@x.com"})
	})
	router.POST("/email", handlers.CreateEmail)
	router.GET("/email/:id", handlers.GetEmail)
	router.PUT("/email/:id", handlers.UpdateEmail)
	router.DELETE("/email/:id", handlers.DeleteEmail)
	router.POST("/email/:id/send", handlers.SendEmail)
	router.GET("/emails", handlers.ListEmails)

	return &apiFixture{store: st, publisher: publisher, router: router, userID: userID}
}

func (f *apiFixture) seedEmail(status string) *models.Email {
	email := &models.Email{
		ID:       uuid.NewString(),
		UserID:   f.userID,
		Subject:  "Monthly digest",
		HTML:     "<p>hello</p>",
		Audience: []string{"a@x.com"},
		Status:   status,
	}
	f.store.emails[email.ID] = email
	return email
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCreateEmail(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/email", models.CreateEmailRequest{
		Audience: []string{"a@x.com", "b@x.com"},
		Subject:  "Monthly digest",
		HTML:     "<p>hello</p>",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d: %s", w.Code, w.Body.String())
	}

	var email models.Email
	if err := json.Unmarshal(w.Body.Bytes(), &email); err != nil {
		t.Fatal(err)
	}
	if email.Status != models.EmailStatusDraft {
		t.Errorf("new emails must start as DRAFT, got %s", email.Status)
	}
	if email.UserID != f.userID {
		t.Errorf("email must belong to the claims user, got %s", email.UserID)
	}
}

func TestCreateEmailValidation(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/email", map[string]any{
		"audience": []string{},
		"subject":  "abc",
		"html":     "",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", w.Code)
	}
}

func TestGetEmailNotFound(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodGet, "/email/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", w.Code)
	}
}

func TestGetEmailOwnedByAnotherUser(t *testing.T) {
	f := newAPIFixture()
	email := f.seedEmail(models.EmailStatusDraft)
	email.UserID = uuid.NewString()

	w := f.do(t, http.MethodGet, "/email/"+email.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("ownership scoping must hide foreign emails, got %d", w.Code)
	}
}

func TestUpdateScheduledEmailConflicts(t *testing.T) {
	f := newAPIFixture()
	email := f.seedEmail(models.EmailStatusScheduled)

	w := f.do(t, http.MethodPut, "/email/"+email.ID, models.UpdateEmailRequest{Subject: "New subject"})
	if w.Code != http.StatusConflict {
		t.Fatalf("want 409, got %d", w.Code)
	}
	if f.store.emails[email.ID].Subject != "Monthly digest" {
		t.Error("conflicting update must leave the row unchanged")
	}
}

func TestDeleteScheduledEmailConflicts(t *testing.T) {
	f := newAPIFixture()
	email := f.seedEmail(models.EmailStatusScheduled)

	w := f.do(t, http.MethodDelete, "/email/"+email.ID, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("want 409, got %d", w.Code)
	}
	if _, ok := f.store.emails[email.ID]; !ok {
		t.Error("conflicting delete must leave the row in place")
	}
}

func TestDeleteDraftEmail(t *testing.T) {
	f := newAPIFixture()
	email := f.seedEmail(models.EmailStatusDraft)

	w := f.do(t, http.MethodDelete, "/email/"+email.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("want 204, got %d", w.Code)
	}
	if _, ok := f.store.emails[email.ID]; ok {
		t.Error("draft must be gone after delete")
	}
}

func TestSendEmailEnqueuesTask(t *testing.T) {
	f := newAPIFixture()
	email := f.seedEmail(models.EmailStatusDraft)

	w := f.do(t, http.MethodPost, "/email/"+email.ID+"/send", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d: %s", w.Code, w.Body.String())
	}

	if len(f.store.tasks) != 1 {
		t.Fatalf("want one task, got %d", len(f.store.tasks))
	}
	task := f.store.tasks[0]

	if f.store.emails[email.ID].Status != models.EmailStatusScheduled {
		t.Error("email must be SCHEDULED after enqueue")
	}
	if f.store.users[f.userID].Credits != 95 || f.store.users[f.userID].FrozenCredits != 5 {
		t.Errorf("credits must be frozen: %+v", f.store.users[f.userID])
	}

	if len(f.publisher.published) != 1 {
		t.Fatalf("want one published message, got %d", len(f.publisher.published))
	}
	pub := f.publisher.published[0]
	if pub.route != broker.RouteEmailSend {
		t.Errorf("want routing key %q, got %q", broker.RouteEmailSend, pub.route)
	}
	if pub.messageID != task.ID {
		t.Error("message id must equal the task id")
	}
	msg := pub.payload.(models.TaskMessage)
	if msg.ID != task.ID || msg.ReferenceID != email.ID || msg.Type != models.TaskTypeEmail || msg.Status != models.TaskStatusRunning {
		t.Errorf("unexpected task message: %+v", msg)
	}
}

func TestSendScheduledEmailConflicts(t *testing.T) {
	f := newAPIFixture()
	email := f.seedEmail(models.EmailStatusScheduled)

	w := f.do(t, http.MethodPost, "/email/"+email.ID+"/send", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("want 409, got %d", w.Code)
	}
	if len(f.publisher.published) != 0 {
		t.Error("nothing may be enqueued on conflict")
	}
}

func TestSendWithoutCreditsConflicts(t *testing.T) {
	f := newAPIFixture()
	email := f.seedEmail(models.EmailStatusDraft)
	f.store.users[f.userID].Credits = 0

	w := f.do(t, http.MethodPost, "/email/"+email.ID+"/send", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("want 409, got %d", w.Code)
	}
}

func TestUnknownUserIs404(t *testing.T) {
	f := newAPIFixture()
	delete(f.store.users, f.userID)

	w := f.do(t, http.MethodPost, "/email", models.CreateEmailRequest{
		Audience: []string{"a@x.com"},
		Subject:  "Monthly digest",
		HTML:     "<p>hi</p>",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", w.Code)
	}
}

func TestListEmailsPagination(t *testing.T) {
	f := newAPIFixture()
	for i := 0; i < 3; i++ {
		f.seedEmail(models.EmailStatusDraft)
	}

	w := f.do(t, http.MethodGet, "/emails?offset=0&limit=10&orderBy=asc", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Emails     []models.Email    `json:"emails"`
		Pagination models.Pagination `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Emails) != 3 {
		t.Errorf("want 3 emails, got %d", len(body.Emails))
	}
	if body.Pagination.Total != 3 || body.Pagination.Limit != 10 {
		t.Errorf("unexpected pagination: %+v", body.Pagination)
	}
}

func TestListEmailsLimitBounds(t *testing.T) {
	f := newAPIFixture()
	f.seedEmail(models.EmailStatusDraft)

	for _, path := range []string{
		"/emails?limit=0",
		"/emails?limit=5",
		"/emails?limit=101",
	} {
		if w := f.do(t, http.MethodGet, path, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: want 400, got %d: %s", path, w.Code, w.Body.String())
		}
	}

	// No limit param at all keeps the default.
	w := f.do(t, http.MethodGet, "/emails", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Pagination models.Pagination `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Pagination.Limit != 10 {
		t.Errorf("want default limit 10, got %d", body.Pagination.Limit)
	}
}
