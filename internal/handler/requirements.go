package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"vanish-drop/internal/membership"
)

type RequirementHandler struct {
	Gate *membership.Gate
}

type createRequirementBody struct {
	ChannelID string `json:"channelId" binding:"required"`
	Target    string `json:"target"`
	Label     string `json:"label"`
}

func (h *RequirementHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"requirements": h.Gate.Requirements()})
}

func (h *RequirementHandler) Create(c *gin.Context) {
	var body createRequirementBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	req, err := h.Gate.AddRequirement(c.Request.Context(), body.ChannelID, body.Target, body.Label)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"requirement": req})
}

func (h *RequirementHandler) Delete(c *gin.Context) {
	if !h.Gate.RemoveRequirement(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Requirement not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
