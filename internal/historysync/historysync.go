// Package historysync computes the messages added to a mailbox since a
// history watermark.
package historysync

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"gmail-auto-reply-go/internal/apperr"
	"gmail-auto-reply-go/internal/gmail"
)

// maxPages bounds a single diff so a runaway page token cannot loop forever.
const maxPages = 100

// ErrPageLimit is returned when a diff stops before the history is
// exhausted.
var ErrPageLimit = errors.New("history diff exceeded page limit")

// Engine walks the provider's history API.
type Engine struct {
	labelID string
}

func New(labelID string) *Engine {
	if labelID == "" {
		labelID = gmail.LabelInbox
	}
	return &Engine{labelID: labelID}
}

// Diff returns the ids of messages added to the label since sinceHistoryID,
// deduplicated in first-seen order. On provider failure, or when the history
// is not exhausted within maxPages, it returns an empty set together with
// the error; callers must not treat that as "no new mail".
func (e *Engine) Diff(ctx context.Context, mb gmail.Mailbox, userID string, sinceHistoryID uint64) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	pageToken := ""

	for page := 0; page < maxPages; page++ {
		resp, err := mb.ListHistory(ctx, sinceHistoryID, e.labelID, pageToken)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id":    userID,
				"history_id": sinceHistoryID,
				"kind":       apperr.KindOf(err).String(),
				"error":      err,
			}).Warn("Failed to list mailbox history")
			return nil, err
		}

		for _, id := range resp.MessageIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}

		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}

	logrus.WithFields(logrus.Fields{
		"user_id":    userID,
		"history_id": sinceHistoryID,
		"pages":      maxPages,
	}).Warn("History diff truncated at page limit")
	return nil, apperr.New(apperr.Transient, "history.diff", fmt.Errorf("%w (%d pages)", ErrPageLimit, maxPages))
}
