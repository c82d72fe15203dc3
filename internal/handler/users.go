package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"vanish-drop/internal/store"
)

const userPageSize = 30

type UserHandler struct {
	Store *store.Store
}

func (h *UserHandler) List(c *gin.Context) {
	filter := store.UserFilter(c.DefaultQuery("filter", string(store.FilterAll)))
	switch filter {
	case store.FilterAll, store.FilterActive, store.FilterBlocked:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter"})
		return
	}
	c.JSON(http.StatusOK, h.Store.ListUsers(filter, queryInt(c, "page", 1), queryInt(c, "pageSize", userPageSize)))
}

func (h *UserHandler) Block(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.Store.BlockUser(id, time.Now()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *UserHandler) Unblock(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if !h.Store.UnblockUser(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User is not blocked"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
