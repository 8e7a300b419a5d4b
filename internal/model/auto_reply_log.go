package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcomes recorded in auto_reply_log.status
const (
	LogStatusSent    = "sent"
	LogStatusFailed  = "failed"
	LogStatusIgnored = "ignored"
)

// AutoReplyLog records the single automated action taken for a message.
// (user_id, message_id) is unique; it is the idempotency boundary for
// side effects.
type AutoReplyLog struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID         string    `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_auto_reply_log_user_message,priority:1"`
	MessageID      string    `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_auto_reply_log_user_message,priority:2"`
	ReplyMessageID *string   `json:"reply_message_id" gorm:"type:varchar(255)"`
	Status         string    `json:"status" gorm:"type:varchar(16);not null"`
	ErrorMessage   *string   `json:"error_message" gorm:"type:text"`
	LLMModel       string    `json:"llm_model" gorm:"column:llm_model;type:varchar(128)"`
	Subject        string    `json:"subject" gorm:"type:text"`
	RepliedAt      time.Time `json:"replied_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for AutoReplyLog
func (AutoReplyLog) TableName() string {
	return "auto_reply_log"
}

func (l *AutoReplyLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
