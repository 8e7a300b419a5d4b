// Package gmail adapts the Gmail API to the narrow mailbox surface used by
// the auto-reply pipeline. Every call is bounded by a per-call timeout,
// guarded by a shared circuit breaker and returns apperr-classified errors.
package gmail

import (
	"context"
	"strings"
	"time"
)

// Label ids used by the pipeline.
const (
	LabelInbox = "INBOX"
	LabelSent  = "SENT"
)

// Header is a single message header.
type Header struct {
	Name  string
	Value string
}

// MessageMeta is the metadata-only view of a message.
type MessageMeta struct {
	ID       string
	ThreadID string
	LabelIDs []string
	Headers  []Header
}

// Header returns the first value of the named header, compared
// case-insensitively, and whether it was present.
func (m *MessageMeta) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// WatchResponse is the provider's acknowledgement of a subscription.
type WatchResponse struct {
	HistoryID  uint64
	Expiration time.Time
}

// HistoryPage is one page of message-added history records.
type HistoryPage struct {
	MessageIDs    []string
	NextPageToken string
}

// Mailbox is an authenticated handle on one user's mailbox.
type Mailbox interface {
	Watch(ctx context.Context, topic string, labelIDs []string) (*WatchResponse, error)
	Stop(ctx context.Context) error
	Profile(ctx context.Context) (string, error)
	ListHistory(ctx context.Context, startHistoryID uint64, labelID, pageToken string) (*HistoryPage, error)
	GetMessageMetadata(ctx context.Context, messageID string, headers []string) (*MessageMeta, error)
}

// Connector opens a Mailbox on behalf of a user.
type Connector interface {
	Connect(ctx context.Context, userID string) (Mailbox, error)
}
