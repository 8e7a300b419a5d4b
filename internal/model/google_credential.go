package model

import "time"

// GoogleCredential is the stored OAuth grant used to act on a user's mailbox.
type GoogleCredential struct {
	UserID       string    `json:"user_id" gorm:"primaryKey;type:varchar(64)"`
	RefreshToken string    `json:"-" gorm:"type:text;not null"`
	AccessToken  string    `json:"-" gorm:"type:text"`
	TokenType    string    `json:"token_type" gorm:"type:varchar(32)"`
	Expiry       time.Time `json:"expiry"`
	Timezone     string    `json:"timezone" gorm:"type:varchar(64);default:UTC"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for GoogleCredential
func (GoogleCredential) TableName() string {
	return "google_credentials"
}
