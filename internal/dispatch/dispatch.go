// Package dispatch hands a (user, history id) pair to the notification
// processor, either through a durable Cloud Tasks queue or in-process.
package dispatch

import "context"

// Dispatcher accepts a notification for eventual processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, historyID uint64) error
}

// ProcessRequest is the body of the internal processing endpoint.
type ProcessRequest struct {
	UserID    string `json:"user_id"`
	HistoryID uint64 `json:"history_id"`
}

// ProcessPath is the internal endpoint invoked by queued tasks.
const ProcessPath = "/internal/gmail/auto-reply/process"

// TokenHeader carries the shared secret on queued tasks.
const TokenHeader = "X-Cloud-Tasks-Token"
