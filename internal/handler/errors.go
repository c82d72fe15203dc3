package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/apperr"
)

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindPolicy:
		c.JSON(http.StatusConflict, gin.H{"error": apperr.Message(err)})
	case apperr.KindProtocol:
		c.JSON(http.StatusBadRequest, gin.H{"error": apperr.Message(err)})
	case apperr.KindTransient:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		jww.ERROR.Printf("handler: %s %s: %+v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return 0, false
	}
	return id, true
}
