// Package model holds the gorm models persisted by the auto-reply pipeline.
package model

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&WatchState{},
		&AutoReplyRule{},
		&AutoReplyLog{},
		&PubSubNotification{},
		&GoogleCredential{},
	}
}
