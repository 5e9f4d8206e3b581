package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront/internal/models"
	"storefront/internal/session"
)

// writeError maps the error taxonomy to a status and one readable message.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		validation *models.ValidationError
		partial    *models.PartialOrderError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  validation.Error(),
			"fields": validation.Fields,
		})
	case errors.As(err, &partial):
		h.logger.Error("partial order", zap.String("order_number", partial.OrderNumber), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":        "Your order was created but its items could not be saved. Please contact support.",
			"order_number": partial.OrderNumber,
		})
	case errors.Is(err, models.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Please sign in to continue"})
	case session.IsInvalidCredentials(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "You do not have access to this page"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, models.ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "A checkout is already in progress"})
	case errors.Is(err, models.ErrRemote):
		h.logger.Error("remote failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "The store is temporarily unavailable, please try again"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
