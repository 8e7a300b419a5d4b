package handler

import (
	"time"

	"gmail-auto-reply-go/internal/watch"
)

// StatusResponse is returned to push senders and queued tasks
type StatusResponse struct {
	Status string `json:"status"`
}

var statusOK = StatusResponse{Status: "ok"}

// AutoReplyLogResponse represents one recorded action
type AutoReplyLogResponse struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"message_id"`
	ReplyMessageID *string   `json:"reply_message_id"`
	Status         string    `json:"status"`
	ErrorMessage   *string   `json:"error_message"`
	LLMModel       string    `json:"llm_model"`
	Subject        string    `json:"subject"`
	RepliedAt      time.Time `json:"replied_at"`
}

// SchedulerStatusResponse describes the renewal scheduler
type SchedulerStatusResponse struct {
	Status      string              `json:"status"`
	Interval    string              `json:"interval"`
	NextRun     time.Time           `json:"next_run"`
	LastRun     time.Time           `json:"last_run"`
	LastSummary *watch.RenewSummary `json:"last_summary,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Dependencies map[string]string `json:"dependencies"`
	Scheduler    string            `json:"scheduler,omitempty"`
	GmailBreaker string            `json:"gmail_breaker,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
