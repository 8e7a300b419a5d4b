package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetLogs returns the most recent actions recorded for a user
func (h *Handlers) GetLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 100 {
		limit = 50
	}

	logs, err := h.logs.ListLogs(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch logs",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]AutoReplyLogResponse, 0, len(logs))
	for _, log := range logs {
		responses = append(responses, AutoReplyLogResponse{
			ID:             log.ID,
			MessageID:      log.MessageID,
			ReplyMessageID: log.ReplyMessageID,
			Status:         log.Status,
			ErrorMessage:   log.ErrorMessage,
			LLMModel:       log.LLMModel,
			Subject:        log.Subject,
			RepliedAt:      log.RepliedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  responses,
		"limit": limit,
	})
}
