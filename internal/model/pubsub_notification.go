package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PubSubNotification remembers every push delivery by its provider message
// id so redeliveries can be dropped before any provider call.
type PubSubNotification struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID  string    `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	Email      string    `json:"email" gorm:"type:varchar(320)"`
	HistoryID  uint64    `json:"history_id"`
	ReceivedAt time.Time `json:"received_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for PubSubNotification
func (PubSubNotification) TableName() string {
	return "pubsub_notifications"
}

func (n *PubSubNotification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
