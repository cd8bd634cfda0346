package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sales-service/internal/apperror"
	"sales-service/internal/breaker"
	"sales-service/internal/models"
	"sales-service/internal/service"
	"sales-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const userIDKey = "userID"

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

type PurchaseService interface {
	Pay(ctx context.Context, userID string, req *service.PurchaseRequest, idempotencyKey string) (*service.PurchaseResult, error)
	Subscribe(ctx context.Context, userID string, req *service.PurchaseRequest, idempotencyKey string) (*service.PurchaseResult, error)
	ListPayments(ctx context.Context, userID string, page models.Page) ([]models.PaymentRecord, error)
}

type SubscriptionService interface {
	CancelOne(ctx context.Context, subscriptionID, userID string) (*models.SubscriptionRecord, error)
	CancelAll(ctx context.Context, userID string) (int, error)
	List(ctx context.Context, userID string, page models.Page) ([]models.SubscriptionRecord, error)
}

type HistoryService interface {
	List(ctx context.Context, userID string, page models.Page) ([]models.HistoryEntry, error)
	Delete(ctx context.Context, userID string) error
}

type BillingProfileService interface {
	Create(ctx context.Context, userID string, in service.BillingProfileInput) (*models.BillingProfile, error)
	Get(ctx context.Context, id, userID string) (*models.BillingProfile, error)
	List(ctx context.Context, userID string) ([]models.BillingProfile, error)
	Update(ctx context.Context, id, userID string, in service.BillingProfileInput) (*models.BillingProfile, error)
	Delete(ctx context.Context, id, userID string) error
}

// BreakerReporter exposes the state of every circuit breaker
type BreakerReporter interface {
	Snapshots() []breaker.Snapshot
}

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles what the handlers call into
type Services struct {
	Auth            Authenticator
	Purchases       PurchaseService
	Subscriptions   SubscriptionService
	History         HistoryService
	BillingProfiles BillingProfileService
	Breakers        BreakerReporter
	Readiness       map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services) *Handler {
	return &Handler{
		svc:    svc,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, apiPrefix string) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(h.requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group(apiPrefix)
	v1.GET("/breakers", h.breakers)

	authed := v1.Group("", h.authMiddleware())
	{
		authed.POST("/payment", h.createPayment)
		authed.GET("/payment", h.listPayments)

		authed.POST("/subscription", h.createSubscription)
		authed.GET("/subscription", h.listSubscriptions)
		authed.DELETE("/subscription", h.cancelSubscription)
		authed.DELETE("/all-subscription", h.cancelAllSubscriptions)

		authed.GET("/history", h.listHistory)
		authed.DELETE("/history", h.deleteHistory)

		authed.GET("/billing-profile", h.getBillingProfiles)
		authed.POST("/billing-profile", h.createBillingProfile)
		authed.PUT("/billing-profile", h.updateBillingProfile)
		authed.DELETE("/billing-profile", h.deleteBillingProfile)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings the store and Redis
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.svc.Readiness {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) breakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": h.svc.Breakers.Snapshots()})
}

// authMiddleware resolves the caller's token to a user id
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("userToken")
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}

		userID, err := h.svc.Auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			h.respondError(c, err)
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// respondError writes the status and public message of err
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperror.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error": apperror.PublicMessage(err),
	})
}

func badRequest(c *gin.Context, msg string, err error) {
	body := gin.H{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// parsePage reads beforeTimestamp (RFC 3339) and pageSize
func parsePage(c *gin.Context) (models.Page, error) {
	raw := c.Query("beforeTimestamp")
	if raw == "" {
		return models.Page{}, apperror.Validation("beforeTimestamp is required")
	}
	before, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return models.Page{}, apperror.Validation("beforeTimestamp must be an RFC 3339 timestamp")
	}

	size, err := strconv.Atoi(c.Query("pageSize"))
	if err != nil {
		return models.Page{}, apperror.Validation("pageSize must be an integer")
	}
	return models.Page{Before: before, Size: size}, nil
}

// requestLogger logs one line per request; health checks and scrapes log at debug
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if userID := currentUser(c); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}

		switch c.FullPath() {
		case "/health", "/ready", "/metrics":
			h.logger.Debug("Request", fields...)
		default:
			h.logger.Info("Request", fields...)
		}
	}
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
