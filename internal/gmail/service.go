package gmail

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"gmail-auto-reply-go/internal/apperr"
)

const defaultCallTimeout = 30 * time.Second

// TokenSourceProvider yields an OAuth token source for a user.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error)
}

// BreakerSettings tunes the shared circuit breaker.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Service opens per-user Mailboxes backed by the Gmail API.
type Service struct {
	tokens      TokenSourceProvider
	cb          *gobreaker.CircuitBreaker
	callTimeout time.Duration
	opts        []option.ClientOption
}

// NewService creates a Gmail connector. Extra client options are appended
// to every per-user client, which lets tests point at a fake endpoint.
func NewService(tokens TokenSourceProvider, callTimeout time.Duration, bs BreakerSettings, opts ...option.ClientOption) *Service {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	if bs.ConsecutiveFailures == 0 {
		bs.ConsecutiveFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.ConsecutiveFailures
		},
		// Client-side errors say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || kindOf(err) != apperr.Transient
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &Service{
		tokens:      tokens,
		cb:          gobreaker.NewCircuitBreaker(settings),
		callTimeout: callTimeout,
		opts:        opts,
	}
}

// BreakerState returns the circuit breaker state name.
func (s *Service) BreakerState() string {
	return s.cb.State().String()
}

// Connect builds an authenticated Mailbox for userID.
func (s *Service) Connect(ctx context.Context, userID string) (Mailbox, error) {
	ts, err := s.tokens.TokenSource(ctx, userID)
	if err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, s.opts...)
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.New(apperr.Fatal, "gmail.connect", fmt.Errorf("failed to create Gmail service: %w", err))
	}

	return &mailbox{svc: svc, userID: userID, parent: s}, nil
}

type mailbox struct {
	svc    *gmailapi.Service
	userID string
	parent *Service
}

func (m *mailbox) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.parent.callTimeout)
	defer cancel()

	_, err := m.parent.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		err = Classify(op, err)
		logrus.WithFields(logrus.Fields{
			"user_id": m.userID,
			"op":      op,
			"kind":    apperr.KindOf(err).String(),
			"breaker": m.parent.cb.State().String(),
		}).Debugf("Gmail call failed: %v", err)
	}
	return err
}

func (m *mailbox) Watch(ctx context.Context, topic string, labelIDs []string) (*WatchResponse, error) {
	req := &gmailapi.WatchRequest{
		TopicName: topic,
		LabelIds:  labelIDs,
	}

	var resp *gmailapi.WatchResponse
	err := m.call(ctx, "gmail.watch", func(ctx context.Context) error {
		var err error
		resp, err = m.svc.Users.Watch("me", req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	return &WatchResponse{
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

func (m *mailbox) Stop(ctx context.Context) error {
	return m.call(ctx, "gmail.stop", func(ctx context.Context) error {
		return m.svc.Users.Stop("me").Context(ctx).Do()
	})
}

func (m *mailbox) Profile(ctx context.Context) (string, error) {
	var email string
	err := m.call(ctx, "gmail.profile", func(ctx context.Context) error {
		profile, err := m.svc.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		email = profile.EmailAddress
		return nil
	})
	return email, err
}

func (m *mailbox) ListHistory(ctx context.Context, startHistoryID uint64, labelID, pageToken string) (*HistoryPage, error) {
	var resp *gmailapi.ListHistoryResponse
	err := m.call(ctx, "gmail.history", func(ctx context.Context) error {
		req := m.svc.Users.History.List("me").
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded").
			Context(ctx)
		if labelID != "" {
			req = req.LabelId(labelID)
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		var err error
		resp, err = req.Do()
		return err
	})
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, apperr.New(apperr.HistoryExpired, "gmail.history", err)
		}
		return nil, err
	}

	page := &HistoryPage{NextPageToken: resp.NextPageToken}
	for _, h := range resp.History {
		for _, added := range h.MessagesAdded {
			if added.Message != nil && added.Message.Id != "" {
				page.MessageIDs = append(page.MessageIDs, added.Message.Id)
			}
		}
	}
	return page, nil
}

func (m *mailbox) GetMessageMetadata(ctx context.Context, messageID string, headers []string) (*MessageMeta, error) {
	var msg *gmailapi.Message
	err := m.call(ctx, "gmail.message", func(ctx context.Context) error {
		var err error
		msg, err = m.svc.Users.Messages.Get("me", messageID).
			Format("metadata").
			MetadataHeaders(headers...).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	meta := &MessageMeta{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		LabelIDs: msg.LabelIds,
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			meta.Headers = append(meta.Headers, Header{Name: h.Name, Value: h.Value})
		}
	}
	return meta, nil
}
