package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gmail-auto-reply-go/internal/apperr"
)

// GetWatch returns the stored subscription state of a user
func (h *Handlers) GetWatch(c *gin.Context) {
	status, err := h.watches.Status(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch watch state",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// StartWatch registers a subscription for a user
func (h *Handlers) StartWatch(c *gin.Context) {
	userID := c.Param("user_id")
	status, err := h.watches.Start(c.Request.Context(), userID)
	if err != nil {
		logrus.WithField("user_id", userID).Errorf("Failed to start watch: %v", err)
		code, kind := http.StatusBadGateway, "gmail_error"
		if apperr.IsAuth(err) {
			code, kind = http.StatusConflict, "auth_required"
		}
		c.JSON(code, ErrorResponse{
			Error:   kind,
			Message: err.Error(),
			Code:    code,
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// StopWatch cancels a user's subscription
func (h *Handlers) StopWatch(c *gin.Context) {
	userID := c.Param("user_id")
	if err := h.watches.Stop(c.Request.Context(), userID); err != nil {
		logrus.WithField("user_id", userID).Errorf("Failed to stop watch: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to stop watch",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Watch stopped successfully"})
}
