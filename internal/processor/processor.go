// Package processor turns one change notification into at most one
// automated action per newly arrived message.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"gmail-auto-reply-go/internal/agent"
	"gmail-auto-reply-go/internal/apperr"
	"gmail-auto-reply-go/internal/eligibility"
	"gmail-auto-reply-go/internal/gmail"
	"gmail-auto-reply-go/internal/historysync"
	"gmail-auto-reply-go/internal/metrics"
	"gmail-auto-reply-go/internal/model"
	"gmail-auto-reply-go/internal/ratelimit"
	"gmail-auto-reply-go/internal/repository"
)

// RateLimiter is the sliding-window check used per user.
type RateLimiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (bool, int)
}

// WatchStopper tears down a subscription that has no owner row.
type WatchStopper interface {
	Stop(ctx context.Context, userID string) error
}

// TimezoneLookup resolves a user's timezone for the decision agent.
type TimezoneLookup interface {
	Timezone(ctx context.Context, userID string) string
}

// Config holds processing limits.
type Config struct {
	HourlyLimit      int
	Window           time.Duration
	Model            string
	MaxErrorLength   int
	SerializePerUser bool
}

// Processor is the per-notification state machine.
type Processor struct {
	cfg       Config
	repo      *repository.Repository
	connector gmail.Connector
	limiter   RateLimiter
	decider   agent.Decider
	stopper   WatchStopper
	timezones TimezoneLookup
	history   *historysync.Engine
	filter    *eligibility.Filter
	metrics   *metrics.Metrics
	locks     *keyedMutex
}

// Deps bundles the collaborators of a Processor.
type Deps struct {
	Repo      *repository.Repository
	Connector gmail.Connector
	Limiter   RateLimiter
	Decider   agent.Decider
	Stopper   WatchStopper
	Timezones TimezoneLookup
	History   *historysync.Engine
	Filter    *eligibility.Filter
	Metrics   *metrics.Metrics
}

func New(cfg Config, deps Deps) *Processor {
	if cfg.HourlyLimit <= 0 {
		cfg.HourlyLimit = 20
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.MaxErrorLength <= 0 {
		cfg.MaxErrorLength = 500
	}
	if deps.History == nil {
		deps.History = historysync.New(gmail.LabelInbox)
	}
	if deps.Filter == nil {
		deps.Filter = eligibility.New()
	}
	return &Processor{
		cfg:       cfg,
		repo:      deps.Repo,
		connector: deps.Connector,
		limiter:   deps.Limiter,
		decider:   deps.Decider,
		stopper:   deps.Stopper,
		timezones: deps.Timezones,
		history:   deps.History,
		filter:    deps.Filter,
		metrics:   deps.Metrics,
		locks:     newKeyedMutex(),
	}
}

// Result summarizes one Process call.
type Result struct {
	Stale       bool
	NoWatch     bool
	NoRules     bool
	Aborted     bool
	Candidates  int
	Sent        int
	Failed      int
	Ignored     int
	Skipped     int
	RateLimited bool
	Advanced    bool

	// HistoryExpired is set when the stored watermark was too old to diff
	// from and was moved to the notification's id without processing.
	HistoryExpired bool
}

// Process handles a notification that the mailbox of userID reached
// historyID.
func (p *Processor) Process(ctx context.Context, userID string, historyID uint64) (*Result, error) {
	if p.cfg.SerializePerUser {
		unlock := p.locks.Lock(userID)
		defer unlock()
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.ProcessingTime.Observe(time.Since(start).Seconds())
		}
	}()

	log := logrus.WithFields(logrus.Fields{
		"user_id":    userID,
		"history_id": historyID,
	})
	res := &Result{}

	state, err := p.repo.GetWatchState(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Info("No watch state for user, stopping watch")
		res.NoWatch = true
		if p.stopper != nil {
			if err := p.stopper.Stop(ctx, userID); err != nil {
				log.Warnf("Failed to stop orphaned watch: %v", err)
			}
		}
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load watch state: %w", err)
	}

	if historyID <= state.HistoryID {
		log.WithField("stored_history_id", state.HistoryID).Debug("Stale notification, skipping")
		res.Stale = true
		if p.metrics != nil {
			p.metrics.StaleNotifications.Inc()
		}
		return res, nil
	}

	rules, err := p.repo.EnabledRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if len(rules) == 0 {
		log.Debug("No enabled rules, skipping")
		res.NoRules = true
		return res, nil
	}

	mb, err := p.connector.Connect(ctx, userID)
	if err != nil {
		if apperr.IsAuth(err) {
			log.WithField("kind", apperr.KindOf(err).String()).Warnf("Gmail auth error, aborting: %v", err)
			res.Aborted = true
			return res, nil
		}
		return nil, fmt.Errorf("failed to connect mailbox: %w", err)
	}

	ids, err := p.history.Diff(ctx, mb, userID, state.HistoryID)
	if err != nil {
		if p.metrics != nil {
			p.metrics.HistoryFailures.Inc()
		}
		if apperr.IsHistoryExpired(err) {
			// Every retry would send the same start id; re-baseline instead.
			log.WithField("stored_history_id", state.HistoryID).
				Warn("Stored history id expired, moving watermark to notification")
			res.HistoryExpired = true
			advanced, err := p.repo.AdvanceHistoryID(ctx, userID, historyID)
			if err != nil {
				return res, err
			}
			res.Advanced = advanced
			return res, nil
		}
		if apperr.IsAuth(err) {
			log.WithField("kind", apperr.KindOf(err).String()).Warnf("Gmail auth error, aborting: %v", err)
		}
		res.Aborted = true
		return res, nil
	}
	res.Candidates = len(ids)

	agentRules := agent.RulesFrom(rules)
	timezone := ""
	if p.timezones != nil {
		timezone = p.timezones.Timezone(ctx, userID)
	}

	for _, messageID := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		mlog := log.WithField("message_id", messageID)

		if allowed, _ := p.limiter.Check(ctx, ratelimit.Key(userID), p.cfg.HourlyLimit, p.cfg.Window); !allowed {
			mlog.Info("Auto-reply rate limit reached, stopping batch")
			res.RateLimited = true
			p.outcome(metrics.OutcomeRateLimited)
			break
		}

		exists, err := p.repo.LogExists(ctx, userID, messageID)
		if err != nil {
			mlog.Errorf("Failed to check auto-reply log: %v", err)
			continue
		}
		if exists {
			res.Skipped++
			p.outcome(metrics.OutcomeDuplicate)
			continue
		}

		check, err := p.filter.Check(ctx, mb, state.Email, messageID)
		if err != nil {
			if apperr.IsAuth(err) {
				mlog.WithField("kind", apperr.KindOf(err).String()).Warnf("Gmail auth error, aborting: %v", err)
				res.Aborted = true
				return res, nil
			}
			mlog.Warnf("Failed to read message, skipping: %v", err)
			res.Skipped++
			p.outcome(metrics.OutcomeSkipped)
			continue
		}
		if check.Skip {
			res.Skipped++
			p.outcome(metrics.OutcomeSkipped)
			continue
		}

		result, err := p.decide(ctx, agent.Request{
			MessageID: messageID,
			Rules:     agentRules,
			Config: agent.UserConfig{
				UserID:   userID,
				Timezone: timezone,
				ThreadID: agent.ThreadID(userID, messageID),
			},
		})

		entry := &model.AutoReplyLog{
			UserID:    userID,
			MessageID: messageID,
			LLMModel:  p.cfg.Model,
			Subject:   check.Subject,
		}
		switch {
		case err != nil:
			mlog.Errorf("Decision agent failed: %v", err)
			msg := truncate(err.Error(), p.cfg.MaxErrorLength)
			entry.Status = model.LogStatusFailed
			entry.ErrorMessage = &msg
			res.Failed++
			p.outcome(metrics.OutcomeFailed)
		case agent.IsIgnore(result):
			mlog.Debug("Decision agent ignored message")
			res.Ignored++
			p.outcome(metrics.OutcomeIgnored)
			continue
		default:
			entry.Status = model.LogStatusSent
			entry.ReplyMessageID = &result
			res.Sent++
			p.outcome(metrics.OutcomeSent)
		}

		inserted, err := p.repo.InsertLog(ctx, entry)
		if err != nil {
			mlog.Errorf("Failed to record auto-reply: %v", err)
			continue
		}
		if !inserted {
			mlog.Debug("Auto-reply already recorded by a concurrent run")
		} else if entry.Status == model.LogStatusSent {
			mlog.WithField("reply_message_id", result).Info("Auto-reply processed")
		}
	}

	advanced, err := p.repo.AdvanceHistoryID(ctx, userID, historyID)
	if err != nil {
		return res, err
	}
	res.Advanced = advanced

	log.WithFields(logrus.Fields{
		"candidates":   res.Candidates,
		"sent":         res.Sent,
		"failed":       res.Failed,
		"ignored":      res.Ignored,
		"skipped":      res.Skipped,
		"rate_limited": res.RateLimited,
	}).Info("Notification processed")
	return res, nil
}

func (p *Processor) decide(ctx context.Context, req agent.Request) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decision agent panic: %v", r)
		}
	}()
	return p.decider.Decide(ctx, req)
}

func (p *Processor) outcome(o string) {
	if p.metrics != nil {
		p.metrics.MessagesProcessed.WithLabelValues(o).Inc()
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
