// internal/handlers/notification.go
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/marketsync/internal/notifications"
	"github.com/javajoker/marketsync/internal/utils"
)

// maxNotificationSize bounds a raw notification body.
const maxNotificationSize = 1 << 20

type NotificationHandler struct {
	service *notifications.Service
}

func NewNotificationHandler(service *notifications.Service) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// POST /notifications
// The body is the raw XML document. X-Notification-Id carries the upstream id.
func (h *NotificationHandler) Ingest(c *gin.Context) {
	account, ok := accountID(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxNotificationSize))
	if err != nil {
		utils.BadRequestResponse(c, "Could not read notification body", err.Error())
		return
	}
	if len(body) == 0 {
		utils.BadRequestResponse(c, "Notification body is empty", nil)
		return
	}

	n, err := h.service.Ingest(c.Request.Context(), account, c.GetHeader("X-Notification-Id"), string(body))
	if err != nil {
		respondError(c, "notification", err)
		return
	}
	utils.AcceptedResponse(c, gin.H{
		"id":              n.ID,
		"notification_id": n.NotificationID,
	})
}
