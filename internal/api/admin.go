package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/models"
	"storefront/internal/orders"
)

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (h *Handler) adminListOrders(c *gin.Context) {
	front := current(c)
	all, err := h.orders.ListAll(c.Request.Context(), front.Session.Data(), front.Session.CurrentIdentity())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": all})
}

func (h *Handler) adminUpdateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	front := current(c)
	err := h.orders.UpdateStatus(c.Request.Context(), front.Session.Data(), front.Session.CurrentIdentity(), c.Param("id"), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": req.Status})
}

func (h *Handler) adminListCustomers(c *gin.Context) {
	front := current(c)
	customers, err := h.orders.ListCustomers(c.Request.Context(), front.Session.Data(), front.Session.CurrentIdentity())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

func (h *Handler) adminSaveHero(c *gin.Context) {
	var req orders.HeroInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	front := current(c)
	hero, err := h.orders.SaveHeroContent(c.Request.Context(), front.Session.Data(), front.Session.CurrentIdentity(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hero)
}
