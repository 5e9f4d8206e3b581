package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/models"
)

// Reconciler exposes the set of orders flagged for manual repair.
type Reconciler interface {
	FlaggedOrders(ctx context.Context) ([]string, error)
	ResolveOrder(ctx context.Context, orderID string) error
}

// WithReconciler enables the reconciliation endpoints.
func (h *Handler) WithReconciler(r Reconciler) *Handler {
	h.reconciler = r
	return h
}

func (h *Handler) requireAdmin(c *gin.Context) {
	identity := current(c).Session.CurrentIdentity()
	if identity == nil {
		h.writeError(c, models.ErrUnauthenticated)
		c.Abort()
		return
	}
	if !identity.IsAdmin() {
		h.writeError(c, models.ErrForbidden)
		c.Abort()
		return
	}
	c.Next()
}

func (h *Handler) adminFlaggedOrders(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusOK, gin.H{"order_ids": []string{}, "enabled": false})
		return
	}

	ids, err := h.reconciler.FlaggedOrders(c.Request.Context())
	if err != nil {
		h.writeError(c, &models.RemoteError{Op: "list flagged orders", Err: err})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"order_ids": ids, "enabled": true})
}

func (h *Handler) adminResolveOrder(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reconciliation is disabled"})
		return
	}

	if err := h.reconciler.ResolveOrder(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, &models.RemoteError{Op: "resolve order", Err: err})
		return
	}
	c.Status(http.StatusNoContent)
}
