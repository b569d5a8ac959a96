package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"campus-market/internal/paystack"
	"campus-market/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Pinger is a dependency checked by /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orderService  *service.OrderService
	reconciler    *service.PaymentReconciler
	notifications *service.NotificationService
	verifier      *TokenVerifier
	dependencies  map[string]Pinger
	production    bool
}

type HandlerOptions struct {
	Verifier     *TokenVerifier
	Dependencies map[string]Pinger
	Production   bool
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	reconciler *service.PaymentReconciler,
	notifications *service.NotificationService,
	opts HandlerOptions,
) *Handler {
	return &Handler{
		orderService:  orderService,
		reconciler:    reconciler,
		notifications: notifications,
		verifier:      opts.Verifier,
		dependencies:  opts.Dependencies,
		production:    opts.Production,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(corsMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments/webhook", h.paymentWebhook)
		v1.GET("/delivery-fee", h.deliveryFee)

		authed := v1.Group("", AuthRequired(h.verifier))
		authed.POST("/orders", h.createOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/payments", h.initializePayment)
		authed.GET("/notifications", h.listNotifications)
		authed.PATCH("/notifications/:id/read", h.markNotificationRead)

		admin := authed.Group("/admin", AdminOnly())
		admin.PATCH("/orders/:id/status", h.updateOrderStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
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

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	in, err := req.toInput(currentUser(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.orderService.CreateOrder(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	c.JSON(status, result.Order)
}

// listOrders returns the caller's orders
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orderService.ListOrders(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID, currentUser(c), isAdmin(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) initializePayment(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.reconciler.InitializePayment(c.Request.Context(), orderID, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.UpdateStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// paymentWebhook needs the raw body: the signature covers the exact bytes sent.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
		return
	}

	if err := h.reconciler.HandleWebhook(c.Request.Context(), body, c.GetHeader(paystack.SignatureHeader)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) deliveryFee(c *gin.Context) {
	subtotal, err := decimal.NewFromString(c.Query("subtotal"))
	if err != nil || subtotal.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subtotal must be a non-negative number"})
		return
	}

	fee := service.DeliveryFee(subtotal)
	c.JSON(http.StatusOK, gin.H{
		"subtotal":              subtotal,
		"deliveryFee":           fee,
		"total":                 subtotal.Add(fee),
		"freeDeliveryThreshold": service.FreeDeliveryThreshold,
	})
}

func (h *Handler) listNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	notes, err := h.notifications.List(c.Request.Context(), currentUser(c), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notes})
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(c.Request.Context(), id, currentUser(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}
