// Package webhook accepts Gmail change notifications, drops redeliveries
// and hands the rest to a dispatcher.
package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"gmail-auto-reply-go/internal/dispatch"
	"gmail-auto-reply-go/internal/metrics"
	"gmail-auto-reply-go/internal/model"
	"gmail-auto-reply-go/internal/repository"
)

// Outcome describes what Handle did with a notification.
type Outcome string

const (
	OutcomeMalformed      Outcome = "malformed"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeNoWatch        Outcome = "no_watch"
	OutcomeDispatched     Outcome = "dispatched"
	OutcomeDispatchFailed Outcome = "dispatch_failed"
)

// Envelope is a decoded notification.
type Envelope struct {
	MessageID string
	Email     string
	HistoryID uint64
}

// PushRequest is the Pub/Sub push body.
type PushRequest struct {
	Message struct {
		MessageID    string `json:"message_id"`
		MessageIDAlt string `json:"messageId"`
		Data         string `json:"data"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ID returns the delivery id, whichever spelling was used.
func (p *PushRequest) ID() string {
	if p.Message.MessageID != "" {
		return p.Message.MessageID
	}
	return p.Message.MessageIDAlt
}

type notificationData struct {
	EmailAddress string          `json:"emailAddress"`
	HistoryID    json.RawMessage `json:"historyId"`
}

// ParseNotificationData decodes the Gmail payload carried in a Pub/Sub
// message. historyId may arrive as a number or a string.
func ParseNotificationData(data []byte) (email string, historyID uint64, err error) {
	var n notificationData
	if err := json.Unmarshal(data, &n); err != nil {
		return "", 0, fmt.Errorf("failed to decode notification data: %w", err)
	}
	raw := strings.Trim(strings.TrimSpace(string(n.HistoryID)), `"`)
	if raw != "" && raw != "null" {
		historyID, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return "", 0, fmt.Errorf("invalid historyId %q: %w", raw, err)
		}
	}
	return strings.TrimSpace(n.EmailAddress), historyID, nil
}

// DecodePush turns a push body into an Envelope.
func DecodePush(body []byte) (Envelope, error) {
	var req PushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode push request: %w", err)
	}
	env := Envelope{MessageID: req.ID()}
	if req.Message.Data == "" {
		return env, nil
	}
	data, err := decodeBase64(req.Message.Data)
	if err != nil {
		return env, fmt.Errorf("failed to decode message data: %w", err)
	}
	env.Email, env.HistoryID, err = ParseNotificationData(data)
	return env, err
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// Receiver runs the notification steps that follow authentication.
type Receiver struct {
	repo       *repository.Repository
	dispatcher dispatch.Dispatcher
	metrics    *metrics.Metrics
}

func NewReceiver(repo *repository.Repository, dispatcher dispatch.Dispatcher, m *metrics.Metrics) *Receiver {
	return &Receiver{repo: repo, dispatcher: dispatcher, metrics: m}
}

// Handle deduplicates env, resolves its owner and dispatches it. The error
// is non-nil only for storage failures; every other case is reported
// through the outcome.
func (r *Receiver) Handle(ctx context.Context, env Envelope) (Outcome, error) {
	log := logrus.WithFields(logrus.Fields{
		"message_id": env.MessageID,
		"email":      env.Email,
		"history_id": env.HistoryID,
	})

	if env.MessageID == "" || env.Email == "" || env.HistoryID == 0 {
		log.Warn("Notification missing message id, email or historyId")
		return OutcomeMalformed, nil
	}
	if r.metrics != nil {
		r.metrics.NotificationsReceived.Inc()
	}

	first, err := r.repo.RecordNotification(ctx, &model.PubSubNotification{
		MessageID: env.MessageID,
		Email:     env.Email,
		HistoryID: env.HistoryID,
	})
	if err != nil {
		return "", err
	}
	if !first {
		log.Debug("Duplicate notification skipped")
		if r.metrics != nil {
			r.metrics.NotificationsDuplicate.Inc()
		}
		return OutcomeDuplicate, nil
	}

	state, err := r.repo.FindActiveWatchByEmail(ctx, env.Email)
	if errors.Is(err, repository.ErrNotFound) {
		log.Debug("No active watch for mailbox")
		return OutcomeNoWatch, nil
	}
	if err != nil {
		return "", err
	}

	if err := r.dispatcher.Dispatch(ctx, state.UserID, env.HistoryID); err != nil {
		log.WithField("user_id", state.UserID).Errorf("Failed to dispatch notification: %v", err)
		if r.metrics != nil {
			r.metrics.DispatchFailures.Inc()
		}
		return OutcomeDispatchFailed, nil
	}
	if r.metrics != nil {
		r.metrics.NotificationsDispatched.Inc()
	}
	log.WithField("user_id", state.UserID).Debug("Notification dispatched")
	return OutcomeDispatched, nil
}
