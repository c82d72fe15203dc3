package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/telegram"
)

// UpdateParser decodes a webhook request after checking its secret.
type UpdateParser interface {
	ParseWebhook(r *http.Request, secret string) (*tgbotapi.Update, error)
}

type WebhookHandler struct {
	Parser UpdateParser
	Secret string

	// Handle must return without waiting for the update to be processed.
	// telegram.Dispatcher.Dispatch keeps each sender's updates in order.
	Handle func(context.Context, tgbotapi.Update)

	// Lifetime outlives the request; updates are processed after the
	// response so Telegram does not retry slow deliveries.
	Lifetime context.Context
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	update, err := h.Parser.ParseWebhook(c.Request, h.Secret)
	if err != nil {
		if errors.Is(err, telegram.ErrBadWebhookSecret) {
			jww.WARN.Printf("webhook: rejected request from %s: %v", c.ClientIP(), err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid update"})
		return
	}

	ctx := h.Lifetime
	if ctx == nil {
		ctx = context.Background()
	}
	h.Handle(ctx, *update)
	c.Status(http.StatusOK)
}
