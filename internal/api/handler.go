package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"storefront/internal/catalog"
	"storefront/internal/orders"
	"storefront/internal/storefront"
	"storefront/internal/util"
)

const storefrontKey = "storefront"

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	registry *storefront.Registry
	catalog  *catalog.Service
	orders   *orders.Service
	checks   map[string]Check
	logger   *zap.Logger

	reconciler Reconciler
	authLimit  *rateLimiter
}

// NewHandler creates a new HTTP handler. checks back the readiness endpoint.
func NewHandler(registry *storefront.Registry, catalogService *catalog.Service, orderService *orders.Service, checks map[string]Check, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		catalog:  catalogService,
		orders:   orderService,
		checks:   checks,
		logger:   logger,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, allowedOrigins []string) {
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(allowedOrigins))
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		if h.authLimit != nil {
			auth.Use(h.authLimit.middleware())
		}
		{
			auth.POST("/signup", h.signUp)
			auth.POST("/signin", h.signIn)
			auth.POST("/signout", h.signOut)
		}

		v1.GET("/home", h.home)
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/products/:id/reviews", h.productReviews)
		v1.GET("/categories", h.listCategories)

		authed := v1.Group("", h.requireSession)
		{
			authed.GET("/me", h.me)
			authed.PATCH("/me/profile", h.updateProfile)

			authed.GET("/cart", h.getCart)
			authed.POST("/cart/items", h.addCartItem)
			authed.PATCH("/cart/items/:id", h.updateCartItem)
			authed.DELETE("/cart/items/:id", h.removeCartItem)

			authed.GET("/checkout/defaults", h.checkoutDefaults)
			authed.POST("/checkout", h.checkout)
			authed.GET("/orders", h.orderHistory)

			admin := authed.Group("/admin")
			{
				admin.GET("/orders", h.adminListOrders)
				admin.PATCH("/orders/:id/status", h.adminUpdateOrderStatus)
				admin.GET("/customers", h.adminListCustomers)
				admin.PUT("/content/hero", h.adminSaveHero)
				admin.GET("/reconcile", h.requireAdmin, h.adminFlaggedOrders)
				admin.DELETE("/reconcile/:id", h.requireAdmin, h.adminResolveOrder)
			}
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every dependency check
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// requireSession resolves the bearer session id to a live storefront
func (h *Handler) requireSession(c *gin.Context) {
	front, err := h.registry.Get(c.Request.Context(), sessionID(c))
	if err != nil {
		h.writeError(c, err)
		c.Abort()
		return
	}
	c.Set(storefrontKey, front)
	c.Next()
}

func current(c *gin.Context) *storefront.Storefront {
	return c.MustGet(storefrontKey).(*storefront.Storefront)
}

func sessionID(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
