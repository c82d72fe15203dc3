package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"vanish-drop/internal/content"
)

type BundleHandler struct {
	Registry *content.Registry
}

func (h *BundleHandler) List(c *gin.Context) {
	page := h.Registry.List(queryInt(c, "page", 1), queryInt(c, "pageSize", 0))
	c.JSON(http.StatusOK, gin.H{
		"bundles":  page.Items,
		"total":    page.Total,
		"page":     page.Page,
		"pageSize": page.PageSize,
		"pages":    page.Pages(),
	})
}

// Revoke deletes a code. Pending cleanups for it run straight away through
// the registry's revoke hook.
func (h *BundleHandler) Revoke(c *gin.Context) {
	code := c.Param("code")
	if !h.Registry.Revoke(code) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Code not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
