package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"vanish-drop/internal/middleware"
)

// BroadcastStarter runs a broadcast in the background and reports the
// tally to the operator's chat.
type BroadcastStarter interface {
	StartBroadcast(operatorID int64, text string) int
}

type BroadcastHandler struct {
	Starter BroadcastStarter
}

type broadcastBody struct {
	Text string `json:"text" binding:"required"`
}

func (h *BroadcastHandler) Start(c *gin.Context) {
	operatorID, ok := middleware.OperatorIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body broadcastBody
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	targets := h.Starter.StartBroadcast(operatorID, body.Text)
	c.JSON(http.StatusAccepted, gin.H{"targets": targets})
}
