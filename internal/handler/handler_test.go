package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gmail-auto-reply-go/internal/apperr"
	"gmail-auto-reply-go/internal/db/dbtest"
	"gmail-auto-reply-go/internal/dispatch"
	"gmail-auto-reply-go/internal/metrics"
	"gmail-auto-reply-go/internal/model"
	"gmail-auto-reply-go/internal/processor"
	"gmail-auto-reply-go/internal/ratelimit"
	"gmail-auto-reply-go/internal/repository"
	"gmail-auto-reply-go/internal/watch"
	"gmail-auto-reply-go/internal/webhook"
)

const (
	webhookToken = "push-secret"
	tasksToken   = "tasks-secret"
	adminToken   = "admin-secret"
)

type dispatched struct {
	userID    string
	historyID uint64
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, userID string, historyID uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatched{userID, historyID})
	return nil
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls []dispatched
	err   error
}

func (p *fakeProcessor) Process(ctx context.Context, userID string, historyID uint64) (*processor.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, dispatched{userID, historyID})
	return &processor.Result{}, p.err
}

type fakeWatches struct {
	startErr error
	stopped  []string
}

func (w *fakeWatches) Start(ctx context.Context, userID string) (*watch.Status, error) {
	if w.startErr != nil {
		return nil, w.startErr
	}
	return &watch.Status{UserID: userID, Email: "owner@example.com", Active: true, HistoryID: 42}, nil
}

func (w *fakeWatches) Stop(ctx context.Context, userID string) error {
	w.stopped = append(w.stopped, userID)
	return nil
}

func (w *fakeWatches) Status(ctx context.Context, userID string) (*watch.Status, error) {
	return &watch.Status{UserID: userID}, nil
}

type fakeScheduler struct {
	running bool
	summary *watch.RenewSummary
	runs    int
}

func (s *fakeScheduler) Start() error {
	if s.running {
		return errors.New("scheduler is already running")
	}
	s.running = true
	return nil
}

func (s *fakeScheduler) Stop() error { s.running = false; return nil }
func (s *fakeScheduler) IsRunning() bool { return s.running }
func (s *fakeScheduler) GetNextRun() time.Time { return time.Time{} }
func (s *fakeScheduler) GetLastRun() time.Time { return time.Time{} }
func (s *fakeScheduler) LastSummary() *watch.RenewSummary { return s.summary }
func (s *fakeScheduler) Interval() time.Duration { return 6 * time.Hour }

type fakeBreaker string

func (b fakeBreaker) BreakerState() string { return string(b) }

func (s *fakeScheduler) RunOnce(ctx context.Context) (*watch.RenewSummary, error) {
	s.runs++
	s.summary = &watch.RenewSummary{Checked: 2, Renewed: 1, Stopped: 1}
	return s.summary, nil
}

type fixture struct {
	router    *gin.Engine
	repo      *repository.Repository
	dispatch  *fakeDispatcher
	processor *fakeProcessor
	watches   *fakeWatches
	scheduler *fakeScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.New(dbtest.New(t))
	require.NoError(t, repo.UpsertWatchState(context.Background(), &model.WatchState{
		UserID: "u1", Email: "owner@example.com", HistoryID: 100, WatchExpiration: time.Now().Add(time.Hour),
	}))

	reg := prometheus.NewRegistry()
	f := &fixture{
		repo:      repo,
		dispatch:  &fakeDispatcher{},
		processor: &fakeProcessor{},
		watches:   &fakeWatches{},
		scheduler: &fakeScheduler{},
	}
	h := NewHandlers(Config{
		WebhookToken: webhookToken,
		TasksToken:   tasksToken,
		AdminToken:   adminToken,
		Gatherer:     reg,
	}, Deps{
		Receiver:  webhook.NewReceiver(repo, f.dispatch, metrics.New(reg)),
		Processor: f.processor,
		Watches:   f.watches,
		Scheduler: f.scheduler,
		Logs:      repo,
		Breaker:   fakeBreaker("closed"),
		Pingers:   map[string]Pinger{"database": PingFunc(repo.Ping)},
	})
	f.router = gin.New()
	h.SetupRoutes(f.router)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func pushBody(t *testing.T, messageID, email string, historyID uint64) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{"emailAddress": email, "historyId": historyID})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"message_id": messageID,
			"data":       base64.StdEncoding.EncodeToString(data),
		},
		"subscription": "projects/p/subscriptions/s",
	})
	require.NoError(t, err)
	return body
}

func TestGmailWebhookRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	for _, target := range []string{"/webhooks/gmail", "/webhooks/gmail?token=wrong"} {
		req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(pushBody(t, "pm-1", "owner@example.com", 105)))
		w := f.do(req)
		assert.Equal(t, http.StatusForbidden, w.Code, target)
	}
	assert.Empty(t, f.dispatch.calls)
}

func TestGmailWebhookDispatchesOnce(t *testing.T) {
	f := newFixture(t)
	body := pushBody(t, "pm-1", "Owner@Example.com", 105)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/gmail?token="+webhookToken, bytes.NewReader(body))
		w := f.do(req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	}

	assert.Equal(t, []dispatched{{"u1", 105}}, f.dispatch.calls)
}

func TestGmailWebhookMalformedIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	for _, body := range [][]byte{
		[]byte("not json"),
		[]byte(`{"message":{"message_id":"pm-2","data":"%%%"}}`),
		pushBody(t, "pm-3", "", 105),
		pushBody(t, "", "owner@example.com", 105),
		pushBody(t, "pm-4", "unknown@example.com", 105),
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/gmail?token="+webhookToken, bytes.NewReader(body))
		w := f.do(req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	}
	assert.Empty(t, f.dispatch.calls)
}

func TestProcessNotification(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"user_id":"u1","history_id":105}`)

	req := httptest.NewRequest(http.MethodPost, dispatch.ProcessPath, bytes.NewReader(body))
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)

	req = httptest.NewRequest(http.MethodPost, dispatch.ProcessPath, bytes.NewReader(body))
	req.Header.Set(dispatch.TokenHeader, tasksToken)
	w := f.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, []dispatched{{"u1", 105}}, f.processor.calls)
}

func TestProcessNotificationAlwaysAcknowledges(t *testing.T) {
	f := newFixture(t)
	f.processor.err = errors.New("boom")

	for _, body := range []string{`{"user_id":"u1","history_id":105}`, `{"user_id":""}`, `garbage`} {
		req := httptest.NewRequest(http.MethodPost, dispatch.ProcessPath, bytes.NewReader([]byte(body)))
		req.Header.Set(dispatch.TokenHeader, tasksToken)
		assert.Equal(t, http.StatusOK, f.do(req).Code, body)
	}
	assert.Len(t, f.processor.calls, 1)
}

func TestAdminRequiresBearerToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/watches/u1", nil)
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/watches/u1", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w := f.do(req)
	assert.Equal(t, http.StatusOK, w.Code)

	var status watch.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "u1", status.UserID)
}

func TestStartWatchAuthError(t *testing.T) {
	f := newFixture(t)
	f.watches.startErr = apperr.New(apperr.AuthRequired, "credentials", errors.New("no token"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/watches/u1/start", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w := f.do(req)
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "auth_required", resp.Error)
}

func TestRenewAndSchedulerEndpoints(t *testing.T) {
	f := newFixture(t)
	auth := func(req *http.Request) *http.Request {
		req.Header.Set("Authorization", "Bearer "+adminToken)
		return req
	}

	w := f.do(auth(httptest.NewRequest(http.MethodPost, "/api/v1/watches/renew", nil)))
	require.Equal(t, http.StatusOK, w.Code)
	var summary watch.RenewSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Renewed)
	assert.Equal(t, 1, f.scheduler.runs)

	assert.Equal(t, http.StatusOK, f.do(auth(httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/start", nil))).Code)
	assert.Equal(t, http.StatusInternalServerError, f.do(auth(httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/start", nil))).Code)

	w = f.do(auth(httptest.NewRequest(http.MethodGet, "/api/v1/scheduler/status", nil)))
	var status SchedulerStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, "6h0m0s", status.Interval)
	require.NotNil(t, status.LastSummary)
	assert.Equal(t, 2, status.LastSummary.Checked)
}

func TestGetLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"m1", "m2"} {
		_, err := f.repo.InsertLog(ctx, &model.AutoReplyLog{UserID: "u1", MessageID: id, Status: model.LogStatusSent})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/logs?limit=500", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Logs  []AutoReplyLogResponse `json:"logs"`
		Limit int                    `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Logs, 2)
	assert.Equal(t, 50, resp.Limit)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Dependencies["database"])
	assert.Equal(t, "stopped", resp.Scheduler)
	assert.Equal(t, "closed", resp.GmailBreaker)

	w = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gmail_auto_reply_notifications_received_total")
}

func TestAdminRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := NewHandlers(Config{
		AdminToken:     adminToken,
		AdminRateLimit: ratelimit.Middleware(ratelimit.New(client), 2, time.Minute),
		Gatherer:       prometheus.NewRegistry(),
	}, Deps{Watches: &fakeWatches{}, Scheduler: &fakeScheduler{}})
	r := gin.New()
	h.SetupRoutes(r)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/watches/u1", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code)
	w := do()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Routes outside /api/v1 are not limited.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}
