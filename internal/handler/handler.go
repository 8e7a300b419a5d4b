package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"gmail-auto-reply-go/internal/auth"
	"gmail-auto-reply-go/internal/dispatch"
	"gmail-auto-reply-go/internal/model"
	"gmail-auto-reply-go/internal/processor"
	"gmail-auto-reply-go/internal/watch"
	"gmail-auto-reply-go/internal/webhook"
)

// NotificationReceiver runs the post-authentication webhook steps.
type NotificationReceiver interface {
	Handle(ctx context.Context, env webhook.Envelope) (webhook.Outcome, error)
}

// NotificationProcessor processes one (user, history id) pair.
type NotificationProcessor interface {
	Process(ctx context.Context, userID string, historyID uint64) (*processor.Result, error)
}

// WatchManager controls per-user subscriptions.
type WatchManager interface {
	Start(ctx context.Context, userID string) (*watch.Status, error)
	Stop(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (*watch.Status, error)
}

// RenewScheduler runs the periodic renewal sweep.
type RenewScheduler interface {
	Start() error
	Stop() error
	IsRunning() bool
	RunOnce(ctx context.Context) (*watch.RenewSummary, error)
	GetNextRun() time.Time
	GetLastRun() time.Time
	LastSummary() *watch.RenewSummary
	Interval() time.Duration
}

// BreakerReporter exposes the provider circuit breaker state.
type BreakerReporter interface {
	BreakerState() string
}

// LogStore reads recorded actions.
type LogStore interface {
	ListLogs(ctx context.Context, userID string, limit int) ([]model.AutoReplyLog, error)
}

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config holds the secrets and verifiers guarding each route group. A nil
// verifier skips identity-token checks for that group.
type Config struct {
	WebhookToken    string
	WebhookVerifier auth.TokenVerifier
	TasksToken      string
	TasksVerifier   auth.TokenVerifier
	AdminToken      string
	Gatherer        prometheus.Gatherer

	// AdminRateLimit runs ahead of admin authentication when set.
	AdminRateLimit gin.HandlerFunc
}

// Handlers contains all HTTP handlers
type Handlers struct {
	cfg       Config
	receiver  NotificationReceiver
	processor NotificationProcessor
	watches   WatchManager
	scheduler RenewScheduler
	logs      LogStore
	breaker   BreakerReporter
	pingers   map[string]Pinger
}

// Deps bundles the collaborators of Handlers.
type Deps struct {
	Receiver  NotificationReceiver
	Processor NotificationProcessor
	Watches   WatchManager
	Scheduler RenewScheduler
	Logs      LogStore
	Breaker   BreakerReporter
	Pingers   map[string]Pinger
}

// NewHandlers creates new HTTP handlers
func NewHandlers(cfg Config, deps Deps) *Handlers {
	return &Handlers{
		cfg:       cfg,
		receiver:  deps.Receiver,
		processor: deps.Processor,
		watches:   deps.Watches,
		scheduler: deps.Scheduler,
		logs:      deps.Logs,
		breaker:   deps.Breaker,
		pingers:   deps.Pingers,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(h.metricsHandler()))

	router.POST("/webhooks/gmail",
		auth.Require(h.cfg.WebhookVerifier, h.cfg.WebhookToken, auth.FromQuery("token")),
		h.GmailWebhook)

	router.POST(dispatch.ProcessPath,
		auth.Require(h.cfg.TasksVerifier, h.cfg.TasksToken, auth.FromHeader(dispatch.TokenHeader)),
		h.ProcessNotification)

	api := router.Group("/api/v1")
	if h.cfg.AdminRateLimit != nil {
		api.Use(h.cfg.AdminRateLimit)
	}
	api.Use(auth.Require(nil, h.cfg.AdminToken, auth.FromBearer()))
	{
		api.GET("/watches/:user_id", h.GetWatch)
		api.POST("/watches/:user_id/start", h.StartWatch)
		api.POST("/watches/:user_id/stop", h.StopWatch)
		api.POST("/watches/renew", h.RenewWatches)

		api.GET("/users/:user_id/logs", h.GetLogs)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

func (h *Handlers) metricsHandler() http.Handler {
	if h.cfg.Gatherer != nil {
		return promhttp.HandlerFor(h.cfg.Gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:       "ok",
		Timestamp:    time.Now(),
		Dependencies: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	for name, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			response.Status = "error"
			response.Dependencies[name] = "error"
			logrus.Errorf("%s health check failed: %v", name, err)
			continue
		}
		response.Dependencies[name] = "ok"
	}

	if h.scheduler != nil {
		if h.scheduler.IsRunning() {
			response.Scheduler = "running"
		} else {
			response.Scheduler = "stopped"
		}
	}

	if h.breaker != nil {
		response.GmailBreaker = h.breaker.BreakerState()
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
