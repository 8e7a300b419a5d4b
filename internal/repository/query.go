package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"gmail-auto-reply-go/internal/model"
)

// RuleQuery builds a filtered read over auto_reply_rules. Each filter
// method returns the same builder; nothing touches the database until Find
// or Count.
type RuleQuery struct {
	db      *gorm.DB
	userID  *string
	enabled *bool
	ordered bool
}

// Rules starts a rule query.
func (r *Repository) Rules() *RuleQuery {
	return &RuleQuery{db: r.db}
}

func (q *RuleQuery) ForUser(userID string) *RuleQuery {
	q.userID = &userID
	return q
}

func (q *RuleQuery) Enabled() *RuleQuery {
	v := true
	q.enabled = &v
	return q
}

func (q *RuleQuery) OrderedBySortOrder() *RuleQuery {
	q.ordered = true
	return q
}

func (q *RuleQuery) build(ctx context.Context) *gorm.DB {
	tx := q.db.WithContext(ctx).Model(&model.AutoReplyRule{})
	if q.userID != nil {
		tx = tx.Where("user_id = ?", *q.userID)
	}
	if q.enabled != nil {
		tx = tx.Where("is_enabled = ?", *q.enabled)
	}
	if q.ordered {
		tx = tx.Order("sort_order ASC").Order("created_at ASC")
	}
	return tx
}

// Find runs the query.
func (q *RuleQuery) Find(ctx context.Context) ([]model.AutoReplyRule, error) {
	var rules []model.AutoReplyRule
	if err := q.build(ctx).Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to get rules: %w", err)
	}
	return rules, nil
}

// Count counts the matching rows, ignoring any ordering.
func (q *RuleQuery) Count(ctx context.Context) (int64, error) {
	var count int64
	c := *q
	c.ordered = false
	if err := c.build(ctx).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return count, nil
}

// WatchStateQuery builds a filtered read over gmail_watch_state.
type WatchStateQuery struct {
	db      *gorm.DB
	userID  *string
	mailbox *string
	active  *bool
}

// WatchStates starts a watch state query.
func (r *Repository) WatchStates() *WatchStateQuery {
	return &WatchStateQuery{db: r.db}
}

func (q *WatchStateQuery) ForUser(userID string) *WatchStateQuery {
	q.userID = &userID
	return q
}

// ForMailbox matches the mailbox address case-insensitively.
func (q *WatchStateQuery) ForMailbox(address string) *WatchStateQuery {
	a := strings.TrimSpace(address)
	q.mailbox = &a
	return q
}

func (q *WatchStateQuery) Active() *WatchStateQuery {
	v := true
	q.active = &v
	return q
}

func (q *WatchStateQuery) build(ctx context.Context) *gorm.DB {
	tx := q.db.WithContext(ctx).Model(&model.WatchState{})
	if q.userID != nil {
		tx = tx.Where("user_id = ?", *q.userID)
	}
	if q.mailbox != nil {
		tx = tx.Where("LOWER(email) = LOWER(?)", *q.mailbox)
	}
	if q.active != nil {
		tx = tx.Where("is_active = ?", *q.active)
	}
	return tx.Order("user_id ASC")
}

// First returns the first match or ErrNotFound.
func (q *WatchStateQuery) First(ctx context.Context) (*model.WatchState, error) {
	var state model.WatchState
	if err := q.build(ctx).Take(&state).Error; err != nil {
		return nil, notFound(err)
	}
	return &state, nil
}

// Find returns every match.
func (q *WatchStateQuery) Find(ctx context.Context) ([]model.WatchState, error) {
	var states []model.WatchState
	if err := q.build(ctx).Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to get watch states: %w", err)
	}
	return states, nil
}
