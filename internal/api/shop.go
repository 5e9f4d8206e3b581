package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/models"
)

type addItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *Handler) getCart(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).Cart.Snapshot())
}

// addCartItem merges quantity into the cart. A missing quantity adds one.
func (h *Handler) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	front := current(c)
	if err := front.Cart.Add(c.Request.Context(), req.ProductID, req.Quantity); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, front.Cart.Snapshot())
}

// updateCartItem sets a line's quantity. Zero or less removes the line.
func (h *Handler) updateCartItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	front := current(c)
	if err := front.Cart.UpdateQuantity(c.Request.Context(), c.Param("id"), *req.Quantity); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, front.Cart.Snapshot())
}

func (h *Handler) removeCartItem(c *gin.Context) {
	front := current(c)
	if err := front.Cart.Remove(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, front.Cart.Snapshot())
}

// checkout places an order from the cart. Blank payment method means cash on delivery.
func (h *Handler) checkout(c *gin.Context) {
	var req models.ShippingInfo
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	front := current(c)
	orderNumber, err := front.Checkout.Submit(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"order_number": orderNumber,
		"states":       front.Checkout.History(),
	})
}

// checkoutDefaults pre-fills the checkout form from the signed-in profile.
func (h *Handler) checkoutDefaults(c *gin.Context) {
	c.JSON(http.StatusOK, models.ShippingDefaults(current(c).Session.Profile()))
}

func (h *Handler) orderHistory(c *gin.Context) {
	front := current(c)
	history, err := h.orders.History(c.Request.Context(), front.Session.Data(), front.Session.CurrentIdentity())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": history})
}
