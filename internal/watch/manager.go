// Package watch manages the lifecycle of per-user Gmail push subscriptions.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"gmail-auto-reply-go/internal/apperr"
	"gmail-auto-reply-go/internal/gmail"
	"gmail-auto-reply-go/internal/metrics"
	"gmail-auto-reply-go/internal/model"
	"gmail-auto-reply-go/internal/repository"
)

// Renewal results recorded in metrics and summaries.
const (
	RenewResultRenewed     = "renewed"
	RenewResultStopped     = "stopped"
	RenewResultDeactivated = "deactivated"
	RenewResultFailed      = "failed"
)

// Status is the externally visible state of a user's watch.
type Status struct {
	UserID          string    `json:"user_id"`
	Email           string    `json:"email,omitempty"`
	Active          bool      `json:"is_active"`
	HistoryID       uint64    `json:"history_id,omitempty"`
	WatchExpiration time.Time `json:"watch_expiration,omitempty"`
}

// RenewSummary counts the outcomes of a renewal sweep.
type RenewSummary struct {
	Checked     int `json:"checked"`
	Renewed     int `json:"renewed"`
	Stopped     int `json:"stopped"`
	Deactivated int `json:"deactivated"`
	Failed      int `json:"failed"`
}

// Manager starts, stops and renews subscriptions.
type Manager struct {
	repo        *repository.Repository
	connector   gmail.Connector
	topic       string
	labelIDs    []string
	userTimeout time.Duration
	metrics     *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithUserTimeout bounds the work done for one user during renewal.
func WithUserTimeout(d time.Duration) Option {
	return func(m *Manager) { m.userTimeout = d }
}

// WithMetrics records renewal outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func NewManager(repo *repository.Repository, connector gmail.Connector, topic string, opts ...Option) *Manager {
	m := &Manager{
		repo:        repo,
		connector:   connector,
		topic:       topic,
		labelIDs:    []string{gmail.LabelInbox},
		userTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers a subscription for userID and records it. Calling it
// again refreshes the stored subscription. Without a configured topic it
// logs a warning and does nothing.
func (m *Manager) Start(ctx context.Context, userID string) (*Status, error) {
	log := logrus.WithField("user_id", userID)
	if m.topic == "" {
		log.Warn("PUBSUB_TOPIC not configured, skipping Gmail watch")
		return m.Status(ctx, userID)
	}

	mb, err := m.connector.Connect(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mailbox: %w", err)
	}

	email, err := mb.Profile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	resp, err := mb.Watch(ctx, m.topic, m.labelIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to start watch: %w", err)
	}

	state := &model.WatchState{
		UserID:          userID,
		Email:           email,
		HistoryID:       resp.HistoryID,
		WatchExpiration: resp.Expiration,
	}
	if err := m.repo.UpsertWatchState(ctx, state); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"email":      email,
		"history_id": state.HistoryID,
		"expiration": resp.Expiration,
	}).Info("Gmail watch started")
	return statusOf(state), nil
}

// Stop unregisters the subscription on a best-effort basis and always marks
// the local state inactive.
func (m *Manager) Stop(ctx context.Context, userID string) error {
	log := logrus.WithField("user_id", userID)

	if mb, err := m.connector.Connect(ctx, userID); err != nil {
		log.Warnf("Failed to connect for watch stop: %v", err)
	} else if err := mb.Stop(ctx); err != nil {
		log.Warnf("Failed to stop Gmail watch: %v", err)
	}

	if err := m.repo.DeactivateWatch(ctx, userID); err != nil {
		return err
	}
	log.Info("Gmail watch stopped")
	return nil
}

// Status reports the stored state of userID's watch.
func (m *Manager) Status(ctx context.Context, userID string) (*Status, error) {
	state, err := m.repo.GetWatchState(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &Status{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load watch state: %w", err)
	}
	return statusOf(state), nil
}

// RenewAll re-registers every active subscription, stopping those whose
// user has no enabled rules left. One user's failure does not affect the
// rest of the sweep.
func (m *Manager) RenewAll(ctx context.Context) (*RenewSummary, error) {
	states, err := m.repo.ListActiveWatchStates(ctx)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.ActiveWatches.Set(float64(len(states)))
	}

	summary := &RenewSummary{Checked: len(states)}
	for _, state := range states {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result := m.renewOne(ctx, state.UserID)
		switch result {
		case RenewResultRenewed:
			summary.Renewed++
		case RenewResultStopped:
			summary.Stopped++
		case RenewResultDeactivated:
			summary.Deactivated++
		default:
			summary.Failed++
		}
		if m.metrics != nil {
			m.metrics.WatchRenewals.WithLabelValues(result).Inc()
		}
	}

	logrus.WithFields(logrus.Fields{
		"checked":     summary.Checked,
		"renewed":     summary.Renewed,
		"stopped":     summary.Stopped,
		"deactivated": summary.Deactivated,
		"failed":      summary.Failed,
	}).Info("Gmail watch renewal completed")
	return summary, nil
}

func (m *Manager) renewOne(ctx context.Context, userID string) string {
	ctx, cancel := context.WithTimeout(ctx, m.userTimeout)
	defer cancel()
	log := logrus.WithField("user_id", userID)

	count, err := m.repo.CountEnabledRules(ctx, userID)
	if err != nil {
		log.Errorf("Failed to count rules: %v", err)
		return RenewResultFailed
	}
	if count == 0 {
		if err := m.Stop(ctx, userID); err != nil {
			log.Errorf("Failed to stop watch without rules: %v", err)
			return RenewResultFailed
		}
		return RenewResultStopped
	}

	if m.topic == "" {
		log.Warn("PUBSUB_TOPIC not configured, skipping renewal")
		return RenewResultFailed
	}

	resp, err := m.renewProvider(ctx, userID)
	if err != nil {
		if apperr.IsAuth(err) {
			log.WithField("kind", apperr.KindOf(err).String()).Warnf("Gmail auth error, deactivating watch: %v", err)
			if err := m.repo.DeactivateWatch(ctx, userID); err != nil {
				log.Errorf("Failed to deactivate watch: %v", err)
				return RenewResultFailed
			}
			return RenewResultDeactivated
		}
		log.WithField("kind", apperr.KindOf(err).String()).Errorf("Failed to renew watch: %v", err)
		return RenewResultFailed
	}

	if err := m.repo.UpdateWatchExpiration(ctx, userID, resp.Expiration); err != nil {
		log.Errorf("Failed to store renewed expiration: %v", err)
		return RenewResultFailed
	}
	log.WithField("expiration", resp.Expiration).Info("Gmail watch renewed")
	return RenewResultRenewed
}

func (m *Manager) renewProvider(ctx context.Context, userID string) (*gmail.WatchResponse, error) {
	mb, err := m.connector.Connect(ctx, userID)
	if err != nil {
		return nil, err
	}
	return mb.Watch(ctx, m.topic, m.labelIDs)
}

func statusOf(state *model.WatchState) *Status {
	return &Status{
		UserID:          state.UserID,
		Email:           state.Email,
		Active:          state.IsActive,
		HistoryID:       state.HistoryID,
		WatchExpiration: state.WatchExpiration,
	}
}
