package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"gmail-auto-reply-go/internal/agent"
	"gmail-auto-reply-go/internal/auth"
	"gmail-auto-reply-go/internal/config"
	"gmail-auto-reply-go/internal/credentials"
	"gmail-auto-reply-go/internal/db"
	"gmail-auto-reply-go/internal/dispatch"
	"gmail-auto-reply-go/internal/eligibility"
	"gmail-auto-reply-go/internal/gmail"
	"gmail-auto-reply-go/internal/handler"
	"gmail-auto-reply-go/internal/historysync"
	"gmail-auto-reply-go/internal/metrics"
	"gmail-auto-reply-go/internal/processor"
	"gmail-auto-reply-go/internal/pubsub"
	"gmail-auto-reply-go/internal/ratelimit"
	"gmail-auto-reply-go/internal/repository"
	"gmail-auto-reply-go/internal/router"
	"gmail-auto-reply-go/internal/scheduler"
	"gmail-auto-reply-go/internal/watch"
	"gmail-auto-reply-go/internal/webhook"
)

const (
	shutdownTimeout = 30 * time.Second
	// processTimeout matches the default Cloud Tasks dispatch deadline.
	processTimeout = 10 * time.Minute
)

// App holds the long-lived components shared by the server and the
// command-line tools.
type App struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	Repo        *repository.Repository
	Metrics     *metrics.Metrics
	Credentials *credentials.Store
	Gmail       *gmail.Service
	Watches     *watch.Manager
	Processor   *processor.Processor
	Scheduler   *scheduler.Scheduler
}

// ConfigureLogging applies the log settings to the global logger
func ConfigureLogging(cfg config.LogConfig) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("Invalid log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// New opens storage and builds the processing components. Nothing is
// started; call Serve to run the HTTP server and background jobs.
func New(cfg *config.Config) (*App, error) {
	dbConn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Username:    cfg.Redis.Username,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
		ReadTimeout: cfg.Redis.ReadTimeout,
		PoolSize:    cfg.Redis.PoolSize,
	})

	repo := repository.New(dbConn)
	m := metrics.NewMetrics()

	store := credentials.NewStore(repo, credentials.OAuthConfig(
		cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, cfg.Gmail.RedirectURL))

	svc := gmail.NewService(store, cfg.Gmail.CallTimeout, gmail.BreakerSettings{
		MaxRequests:         cfg.Gmail.Breaker.MaxRequests,
		Interval:            cfg.Gmail.Breaker.Interval,
		Timeout:             cfg.Gmail.Breaker.Timeout,
		ConsecutiveFailures: cfg.Gmail.Breaker.ConsecutiveFailures,
	})

	watches := watch.NewManager(repo, svc, cfg.Gmail.PubSubTopic, watch.WithMetrics(m))

	proc := processor.New(processor.Config{
		HourlyLimit:      cfg.AutoReply.HourlyLimit,
		Window:           cfg.AutoReply.Window,
		Model:            cfg.AutoReply.Model,
		MaxErrorLength:   cfg.AutoReply.MaxErrorLength,
		SerializePerUser: cfg.AutoReply.SerializePerUser,
	}, processor.Deps{
		Repo:      repo,
		Connector: svc,
		Limiter:   ratelimit.New(rdb),
		Decider:   agent.NewHTTPClient(cfg.Agent.URL, cfg.Agent.Token, cfg.Agent.Timeout),
		Stopper:   watches,
		Timezones: store,
		History:   historysync.New(gmail.LabelInbox),
		Filter:    eligibility.New(),
		Metrics:   m,
	})

	return &App{
		Config:      cfg,
		DB:          dbConn,
		Redis:       rdb,
		Repo:        repo,
		Metrics:     m,
		Credentials: store,
		Gmail:       svc,
		Watches:     watches,
		Processor:   proc,
		Scheduler:   scheduler.NewScheduler(cfg.Scheduler.RenewInterval, watches),
	}, nil
}

// Close releases storage connections
func (a *App) Close() error {
	var errs []error
	if err := a.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Serve runs the HTTP server, the renewal scheduler and the optional pull
// subscriber until ctx is cancelled, then shuts them down in order.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config

	dispatcher, supervisor, closeDispatcher, err := a.newDispatcher(ctx)
	if err != nil {
		return err
	}
	defer closeDispatcher()

	receiver := webhook.NewReceiver(a.Repo, dispatcher, a.Metrics)

	h := handler.NewHandlers(a.handlerConfig(), handler.Deps{
		Receiver:  receiver,
		Processor: a.Processor,
		Watches:   a.Watches,
		Scheduler: a.Scheduler,
		Logs:      a.Repo,
		Breaker:   a.Gmail,
		Pingers: map[string]handler.Pinger{
			"database": handler.PingFunc(a.Repo.Ping),
			"redis": handler.PingFunc(func(ctx context.Context) error {
				return a.Redis.Ping(ctx).Err()
			}),
		},
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	pullCtx, stopPull := context.WithCancel(ctx)
	defer stopPull()
	pullDone := make(chan struct{})
	if cfg.PubSub.Subscription != "" {
		puller, err := pubsub.NewPuller(pullCtx, cfg.PubSub.Project, cfg.PubSub.Subscription, cfg.PubSub.CredentialsFile, receiver)
		if err != nil {
			return err
		}
		go func() {
			defer close(pullDone)
			defer puller.Close()
			if err := puller.Run(pullCtx); err != nil {
				logrus.Errorf("Pub/Sub puller stopped: %v", err)
			}
		}()
	} else {
		close(pullDone)
	}

	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logrus.Errorf("HTTP server error: %v", err)
		}
	}

	logrus.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.Scheduler.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	a.Scheduler.Wait()

	stopPull()
	<-pullDone

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if supervisor != nil {
		if err := supervisor.Close(shutdownCtx); err != nil {
			logrus.Errorf("Failed to drain background tasks: %v", err)
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

func (a *App) handlerConfig() handler.Config {
	cfg := a.Config
	hc := handler.Config{
		WebhookToken: cfg.Webhook.Token,
		TasksToken:   cfg.Tasks.Token,
		AdminToken:   cfg.Admin.Token,
	}
	if cfg.Admin.RateLimit > 0 && cfg.Admin.RateWindow > 0 {
		hc.AdminRateLimit = ratelimit.Middleware(ratelimit.New(a.Redis), cfg.Admin.RateLimit, cfg.Admin.RateWindow)
	}
	if cfg.Webhook.VerifyOIDC {
		hc.WebhookVerifier = auth.NewIDTokenVerifier(cfg.Webhook.OIDCAudience, cfg.Webhook.OIDCEmail)
	}
	if cfg.Tasks.DurableQueue() && cfg.Tasks.ServiceAccountEmail != "" {
		hc.TasksVerifier = auth.NewIDTokenVerifier(strings.TrimRight(cfg.Tasks.BaseURL, "/")+dispatch.ProcessPath, cfg.Tasks.ServiceAccountEmail)
	}
	return hc
}

// newDispatcher picks Cloud Tasks when a queue is configured and an
// in-process supervisor otherwise.
func (a *App) newDispatcher(ctx context.Context) (dispatch.Dispatcher, *dispatch.Supervisor, func(), error) {
	cfg := a.Config
	if cfg.Tasks.DurableQueue() {
		client, err := cloudtasks.NewClient(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create cloud tasks client: %w", err)
		}
		logrus.WithField("queue", cfg.Tasks.QueuePath()).Info("Dispatching notifications through Cloud Tasks")
		d := dispatch.NewCloudTasks(client, dispatch.CloudTasksConfig{
			QueuePath:           cfg.Tasks.QueuePath(),
			BaseURL:             cfg.Tasks.BaseURL,
			Token:               cfg.Tasks.Token,
			ServiceAccountEmail: cfg.Tasks.ServiceAccountEmail,
		})
		return d, nil, func() {
			if err := client.Close(); err != nil {
				logrus.Errorf("Failed to close cloud tasks client: %v", err)
			}
		}, nil
	}

	logrus.Info("Dispatching notifications in-process")
	sup := dispatch.NewSupervisor(func(ctx context.Context, userID string, historyID uint64) error {
		_, err := a.Processor.Process(ctx, userID, historyID)
		return err
	}, processTimeout)
	return sup, sup, func() {}, nil
}
