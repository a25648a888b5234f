package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/services"
)

// respondError maps a pricing error onto a status code
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var (
		upstream  *services.UpstreamError
		transport *services.TransportError
	)
	switch {
	case services.IsRateLimited(err):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.As(err, &upstream):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.As(err, &transport):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
