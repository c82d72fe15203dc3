package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pending reports the number of scheduled cleanups.
type Pending interface {
	Pending() int
}

type HealthHandler struct {
	Version   string
	StartedAt time.Time
	Cleanups  Pending
}

func (h *HealthHandler) Check(c *gin.Context) {
	resp := gin.H{
		"ok":      true,
		"version": h.Version,
		"uptime":  int64(time.Since(h.StartedAt).Seconds()),
	}
	if h.Cleanups != nil {
		resp["pendingCleanups"] = h.Cleanups.Pending()
	}
	c.JSON(http.StatusOK, resp)
}
