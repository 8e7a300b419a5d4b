package model

import "time"

// WatchState tracks a user's Gmail push subscription and the history
// watermark processed so far.
type WatchState struct {
	UserID          string    `json:"user_id" gorm:"primaryKey;type:varchar(64)"`
	Email           string    `json:"email" gorm:"type:varchar(320);not null;index"`
	HistoryID       uint64    `json:"history_id" gorm:"not null;default:0"`
	WatchExpiration time.Time `json:"watch_expiration"`
	IsActive        bool      `json:"is_active" gorm:"not null;default:false;index"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName specifies the table name for WatchState
func (WatchState) TableName() string {
	return "gmail_watch_state"
}
