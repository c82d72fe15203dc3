package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"vanish-drop/internal/store"
)

const maxDeliveryLimit = 500

type DeliveryHandler struct {
	Store *store.Store
}

// List pages through the audit log by sequence: pass the last seen seq as
// after to continue.
func (h *DeliveryHandler) List(c *gin.Context) {
	var after int64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid after"})
			return
		}
		after = v
	}
	limit := queryInt(c, "limit", 100)
	if limit > maxDeliveryLimit {
		limit = maxDeliveryLimit
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": h.Store.ListDeliveries(after, limit)})
}
