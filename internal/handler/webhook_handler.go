package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gmail-auto-reply-go/internal/dispatch"
	"gmail-auto-reply-go/internal/webhook"
)

// GmailWebhook accepts a Pub/Sub push delivery. Anything past
// authentication is answered with 200 so the sender does not hold the
// delivery open or retry a notification that cannot be acted on.
func (h *Handlers) GmailWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		logrus.Warnf("Failed to read webhook body: %v", err)
		c.JSON(http.StatusOK, statusOK)
		return
	}

	env, err := webhook.DecodePush(body)
	if err != nil {
		logrus.WithField("message_id", env.MessageID).Warnf("Malformed webhook payload: %v", err)
		c.JSON(http.StatusOK, statusOK)
		return
	}

	outcome, err := h.receiver.Handle(c.Request.Context(), env)
	if err != nil {
		logrus.WithField("message_id", env.MessageID).Errorf("Failed to handle notification: %v", err)
	} else {
		logrus.WithFields(logrus.Fields{
			"message_id": env.MessageID,
			"outcome":    string(outcome),
		}).Debug("Webhook handled")
	}
	c.JSON(http.StatusOK, statusOK)
}

// ProcessNotification is invoked by queued tasks.
func (h *Handlers) ProcessNotification(c *gin.Context) {
	var req dispatch.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.HistoryID == 0 {
		logrus.Warnf("Invalid process request: %v", err)
		c.JSON(http.StatusOK, statusOK)
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"user_id":    req.UserID,
		"history_id": req.HistoryID,
	})
	if _, err := h.processor.Process(c.Request.Context(), req.UserID, req.HistoryID); err != nil {
		log.Errorf("Failed to process notification: %v", err)
	}
	c.JSON(http.StatusOK, statusOK)
}
