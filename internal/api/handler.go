package api

import (
	"context"
	"net/http"
	"time"

	"isla-market/internal/service"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const webhookMaxBytes = 64 << 10

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the services the HTTP layer calls
type Services struct {
	Auth      *service.AuthService
	Orders    *service.OrderService
	Referrals *service.ReferralService
	// Catalog serves storefront reads; AdminCatalog serves back-office writes
	Catalog      *service.CatalogService
	AdminCatalog *service.CatalogService
	Dashboard    *service.DashboardService
	Uploads      *service.UploadService
	Checkout     *service.CheckoutService
	Users        *service.UserService
}

// Options configures a Handler
type Options struct {
	Production     bool
	MaxUploadBytes int64
	// ConfigStatus reports which secrets are configured
	ConfigStatus func() map[string]bool
	// Dependencies are pinged by /ready, keyed by name
	Dependencies map[string]Pinger
	// SentryEnabled installs the Sentry gin middleware
	SentryEnabled bool
}

// Handler contains HTTP handlers
type Handler struct {
	auth         *service.AuthService
	orders       *service.OrderService
	referrals    *service.ReferralService
	catalog      *service.CatalogService
	adminCatalog *service.CatalogService
	dashboard    *service.DashboardService
	uploads      *service.UploadService
	checkout     *service.CheckoutService
	users        *service.UserService

	production     bool
	maxUploadBytes int64
	configStatus   func() map[string]bool
	dependencies   map[string]Pinger
	sentryEnabled  bool
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, opts Options) *Handler {
	adminCatalog := svc.AdminCatalog
	if adminCatalog == nil {
		adminCatalog = svc.Catalog
	}
	return &Handler{
		auth:           svc.Auth,
		orders:         svc.Orders,
		referrals:      svc.Referrals,
		catalog:        svc.Catalog,
		adminCatalog:   adminCatalog,
		dashboard:      svc.Dashboard,
		uploads:        svc.Uploads,
		checkout:       svc.Checkout,
		users:          svc.Users,
		production:     opts.Production,
		maxUploadBytes: opts.MaxUploadBytes,
		configStatus:   opts.ConfigStatus,
		dependencies:   opts.Dependencies,
		sentryEnabled:  opts.SentryEnabled,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	if h.sentryEnabled {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/products", h.listProducts)
		api.GET("/products/:id", h.getProduct)
		api.GET("/products/:id/related", h.relatedProducts)
		api.GET("/categories", h.listCategories)
		api.GET("/categories/:category/products", h.categoryProducts)
		api.GET("/referrals/validate/:code", h.validateReferralCode)
		api.GET("/referrals/ranking", h.referralRanking)
		api.POST("/stripe/webhook", maxBodyBytes(webhookMaxBytes), h.stripeWebhook)
	}

	authed := api.Group("", h.RequireUser())
	{
		authed.POST("/orders", h.createOrder)
		authed.POST("/orders/create", h.createOrder)
		authed.GET("/orders", h.listMyOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/cancel", h.cancelOrder)

		authed.POST("/referrals/link", h.createReferralLink)
		authed.GET("/referrals/status", h.referrerStatus)
		authed.GET("/referrals/stats", h.referrerStats)

		authed.GET("/profile", h.getProfile)
		authed.PATCH("/profile", h.updateProfile)
		authed.GET("/addresses", h.listAddresses)

		authed.POST("/upload", h.upload)
		authed.POST("/stripe/checkout", h.stripeCheckout)
	}

	admin := api.Group("/admin", h.RequireAdmin())
	{
		admin.GET("/check", h.adminCheck)
		admin.GET("/config-status", h.configStatusCheck)

		admin.GET("/products", h.adminListProducts)
		admin.POST("/products", h.createProduct)
		admin.POST("/products/import", h.importProducts)
		admin.GET("/products/:id", h.adminGetProduct)
		admin.PATCH("/products/:id", h.updateProduct)
		admin.DELETE("/products/:id", h.deleteProduct)
		admin.POST("/products/:id/variants", h.createVariant)
		admin.PATCH("/variants/:id", h.updateVariant)
		admin.DELETE("/variants/:id", h.deleteVariant)

		admin.GET("/attributes", h.listAttributes)
		admin.POST("/attributes", h.createAttribute)
		admin.DELETE("/attributes/:id", h.deleteAttribute)
		admin.POST("/attributes/:id/values", h.createAttributeValue)
		admin.DELETE("/attribute-values/:id", h.deleteAttributeValue)

		admin.POST("/categories", h.createCategory)
		admin.PATCH("/categories/:id", h.updateCategory)
		admin.DELETE("/categories/:id", h.deleteCategory)

		admin.GET("/referrers", h.listReferrers)
		admin.POST("/referrers", h.createReferrer)
		admin.PATCH("/referrers/:id", h.updateReferrer)

		admin.GET("/orders", h.adminListOrders)
		admin.GET("/orders/:id", h.adminGetOrder)
		admin.PATCH("/orders/:id/status", h.updateOrderStatus)

		admin.GET("/users", h.listUsers)
		admin.PATCH("/users/:id/role", h.setUserRole)

		admin.GET("/dashboard", h.dashboardStats)
		admin.GET("/dashboard/top-products", h.topProducts)

		admin.POST("/upload", h.upload)
		admin.DELETE("/upload", h.deleteUpload)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency concurrently
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.dependencies))
	for name := range h.dependencies {
		names = append(names, name)
	}
	results := make([]string, len(names))

	var g errgroup.Group
	for i, name := range names {
		i, dep := i, h.dependencies[name]
		g.Go(func() error {
			if err := dep.Ping(ctx); err != nil {
				results[i] = "down"
				return err
			}
			results[i] = "up"
			return nil
		})
	}
	err := g.Wait()

	checks := make(map[string]string, len(names))
	for i, name := range names {
		checks[name] = results[i]
	}

	status, code := "ready", http.StatusOK
	if err != nil {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// configStatusCheck reports which secrets are configured, never their values
func (h *Handler) configStatusCheck(c *gin.Context) {
	status := map[string]bool{}
	if h.configStatus != nil {
		status = h.configStatus()
	}
	c.JSON(http.StatusOK, status)
}

// adminCheck confirms the caller passed the admin guard
func (h *Handler) adminCheck(c *gin.Context) {
	c.JSON(http.StatusOK, service.AdminCheck{IsAdmin: true, UserID: adminID(c)})
}
