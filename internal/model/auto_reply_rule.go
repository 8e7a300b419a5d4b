package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AutoReplyRule is a user-authored instruction handed verbatim to the
// decision agent. Rows are managed elsewhere; this service only reads them.
type AutoReplyRule struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID        string    `json:"user_id" gorm:"type:varchar(64);not null;index"`
	Name          string    `json:"name" gorm:"type:varchar(255)"`
	WhenCondition string    `json:"when_condition" gorm:"type:text;not null"`
	DoAction      string    `json:"do_action" gorm:"type:text;not null"`
	Tone          string    `json:"tone" gorm:"type:varchar(64);default:Professional"`
	IsEnabled     bool      `json:"is_enabled" gorm:"not null"`
	SortOrder     int       `json:"sort_order" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for AutoReplyRule
func (AutoReplyRule) TableName() string {
	return "auto_reply_rules"
}

func (r *AutoReplyRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
