package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gmail-auto-reply-go/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("record not found")

// Repository wraps the relational store shared by every component.
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for health checks.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// GetWatchState loads the watch state for a user.
func (r *Repository) GetWatchState(ctx context.Context, userID string) (*model.WatchState, error) {
	return r.WatchStates().ForUser(userID).First(ctx)
}

// UpsertWatchState records an acknowledged subscription. The stored history
// id never decreases, even if the provider hands back an older one.
func (r *Repository) UpsertWatchState(ctx context.Context, state *model.WatchState) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.WatchState
		err := tx.Where("user_id = ?", state.UserID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			state.IsActive = true
			if err := tx.Create(state).Error; err != nil {
				return fmt.Errorf("failed to create watch state: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("failed to load watch state: %w", err)
		}

		historyID := state.HistoryID
		if existing.HistoryID > historyID {
			historyID = existing.HistoryID
		}
		updates := map[string]interface{}{
			"email":            state.Email,
			"history_id":       historyID,
			"watch_expiration": state.WatchExpiration,
			"is_active":        true,
		}
		if err := tx.Model(&model.WatchState{}).Where("user_id = ?", state.UserID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update watch state: %w", err)
		}
		state.HistoryID = historyID
		state.IsActive = true
		return nil
	})
}

// UpdateWatchExpiration stores a renewed expiration without touching the
// watermark.
func (r *Repository) UpdateWatchExpiration(ctx context.Context, userID string, expiration time.Time) error {
	result := r.db.WithContext(ctx).Model(&model.WatchState{}).
		Where("user_id = ?", userID).
		Update("watch_expiration", expiration)
	if result.Error != nil {
		return fmt.Errorf("failed to update watch expiration: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateWatch marks the watch inactive. It is a no-op for unknown users.
func (r *Repository) DeactivateWatch(ctx context.Context, userID string) error {
	result := r.db.WithContext(ctx).Model(&model.WatchState{}).
		Where("user_id = ?", userID).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate watch: %w", result.Error)
	}
	return nil
}

// AdvanceHistoryID moves the watermark forward to historyID. It reports
// false when the stored value was already at or beyond it.
func (r *Repository) AdvanceHistoryID(ctx context.Context, userID string, historyID uint64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.WatchState{}).
		Where("user_id = ? AND history_id < ?", userID, historyID).
		Update("history_id", historyID)
	if result.Error != nil {
		return false, fmt.Errorf("failed to advance history id: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListActiveWatchStates returns every active subscription.
func (r *Repository) ListActiveWatchStates(ctx context.Context) ([]model.WatchState, error) {
	return r.WatchStates().Active().Find(ctx)
}

// FindActiveWatchByEmail resolves the subscription owning a mailbox address,
// compared case-insensitively.
func (r *Repository) FindActiveWatchByEmail(ctx context.Context, email string) (*model.WatchState, error) {
	return r.WatchStates().ForMailbox(email).Active().First(ctx)
}

// EnabledRules returns a user's enabled rules in sort order.
func (r *Repository) EnabledRules(ctx context.Context, userID string) ([]model.AutoReplyRule, error) {
	return r.Rules().ForUser(userID).Enabled().OrderedBySortOrder().Find(ctx)
}

// CountEnabledRules counts a user's enabled rules.
func (r *Repository) CountEnabledRules(ctx context.Context, userID string) (int64, error) {
	return r.Rules().ForUser(userID).Enabled().Count(ctx)
}

// LogExists reports whether an action has already been recorded for the
// message.
func (r *Repository) LogExists(ctx context.Context, userID, messageID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.AutoReplyLog{}).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check auto-reply log: %w", err)
	}
	return count > 0, nil
}

// InsertLog stores the action taken for a message. A row that already
// exists for (user_id, message_id) is left untouched and inserted is false.
func (r *Repository) InsertLog(ctx context.Context, entry *model.AutoReplyLog) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "message_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert auto-reply log: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListLogs returns the most recent log rows for a user.
func (r *Repository) ListLogs(ctx context.Context, userID string, limit int) ([]model.AutoReplyLog, error) {
	var logs []model.AutoReplyLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("replied_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-reply logs: %w", err)
	}
	return logs, nil
}

// RecordNotification stores a push delivery. It reports false when the
// message id has been seen before.
func (r *Repository) RecordNotification(ctx context.Context, n *model.PubSubNotification) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).
		Create(n)
	if result.Error != nil {
		return false, fmt.Errorf("failed to record notification: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetCredential loads the stored OAuth grant for a user.
func (r *Repository) GetCredential(ctx context.Context, userID string) (*model.GoogleCredential, error) {
	var cred model.GoogleCredential
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&cred).Error; err != nil {
		return nil, notFound(err)
	}
	return &cred, nil
}

// SaveCredential inserts or replaces the stored OAuth grant for a user.
func (r *Repository) SaveCredential(ctx context.Context, cred *model.GoogleCredential) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"refresh_token", "access_token", "token_type", "expiry", "timezone", "updated_at"}),
		}).
		Create(cred).Error
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// UpdateAccessToken persists a refreshed access token. A rotated refresh
// token replaces the stored one when non-empty.
func (r *Repository) UpdateAccessToken(ctx context.Context, userID, accessToken, refreshToken, tokenType string, expiry time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"token_type":   tokenType,
		"expiry":       expiry,
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	err := r.db.WithContext(ctx).Model(&model.GoogleCredential{}).
		Where("user_id = ?", userID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	return nil
}
