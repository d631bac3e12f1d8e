package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"isla-market/config"
	"isla-market/internal/api"
	"isla-market/internal/broker"
	"isla-market/internal/notify"
	"isla-market/internal/objectstore"
	"isla-market/internal/redisclient"
	"isla-market/internal/service"
	"isla-market/internal/store"
	"isla-market/internal/util"
	"isla-market/internal/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"go.uber.org/zap"
)

// sessionCreatorFunc adapts a checkout session constructor to service.SessionCreator
type sessionCreatorFunc func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

func (f sessionCreatorFunc) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return f(params)
}

func main() {
	cfg := config.Load()

	if err := util.InitLogger(util.LoggerOptions{
		Env:     cfg.Server.Env,
		Service: cfg.Observ.ServiceName,
		Level:   cfg.Observ.LogLevel,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting server", zap.String("env", cfg.Server.Env), zap.Bool("memory_mode", cfg.MemoryMode()))

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	tp, err := util.InitTracer(util.TracerOptions{
		Service:     cfg.Observ.ServiceName,
		Endpoint:    cfg.Observ.JaegerEndpoint,
		SampleRatio: cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	sentryEnabled := false
	if cfg.Observ.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Observ.SentryDSN,
			Environment:      cfg.Server.Env,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			logger.Error("Sentry init failed", zap.Error(err))
		} else {
			sentryEnabled = true
			defer sentry.Flush(2 * time.Second)
		}
	}

	dependencies := map[string]api.Pinger{}

	// storage
	var adminRepo, publicRepo store.Repository
	var events worker.EventLog
	if cfg.MemoryMode() {
		mem := store.NewMemoryStore()
		seedMemory(mem, cfg.Server.DevAdminUserID)
		adminRepo, publicRepo, events = mem, mem, mem
		logger.Warn("DATABASE_URL not set, running on the in-memory store")
	} else {
		handles, err := store.Open(cfg.Database.URL, cfg.Database.PublicURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer handles.Close()
		adminRepo, publicRepo, events = handles.Admin, handles.Public, handles.Admin
		dependencies["database"] = handles.Admin
		logger.Info("Database connected")
	}

	// locks and idempotency
	var locker service.Locker = service.NewLocalLocker()
	var idempotency service.IdempotencyStore
	if cfg.MemoryMode() {
		logger.Warn("Using in-process locks, idempotency keys disabled")
	} else {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		locker, idempotency = redisClient, redisClient
		dependencies["redis"] = redisClient
		logger.Info("Redis connected")
	}

	// events
	var publisher broker.Publisher
	var loopback *broker.Loopback
	var notificationConsumer, commissionConsumer *broker.Consumer
	if cfg.MemoryMode() {
		loopback = broker.NewLoopback()
		publisher = loopback
	} else {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		publisher = producer
		notificationConsumer = broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.NotificationGroup)
		commissionConsumer = broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.CommissionGroup)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}
	eventPublisher := broker.NewEventPublisher(publisher)

	// object storage
	var objects service.ObjectStore
	publicURLBase := cfg.Storage.PublicURLBase
	if cfg.Storage.Endpoint == "" {
		objects = objectstore.NewMemory()
		if publicURLBase == "" {
			publicURLBase = fmt.Sprintf("http://localhost:%s/files", cfg.Server.Port)
		}
		logger.Warn("STORAGE_ENDPOINT not set, uploads are kept in memory")
	} else {
		client, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatal("Failed to create object storage client", zap.Error(err))
		}
		objects = client
		dependencies["storage"] = client
	}

	// payments
	var sessions service.SessionCreator
	if cfg.Payments.StripeSecretKey != "" {
		stripe.Key = cfg.Payments.StripeSecretKey
		sessions = sessionCreatorFunc(session.New)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, checkout disabled")
	}

	// email
	var mailer notify.Mailer
	if cfg.Email.APIURL != "" && cfg.Email.APIKey != "" {
		mailer = notify.NewHTTPMailer(cfg.Email.APIURL, cfg.Email.APIKey, cfg.Email.From)
	} else {
		mailer = notify.NewLogMailer()
	}

	idempotencyTTL := time.Duration(cfg.Business.IdempotencyTTLHours) * time.Hour
	orderService := service.NewOrderService(adminRepo, idempotency, idempotencyTTL, eventPublisher)
	referralService := service.NewReferralService(adminRepo, locker)
	services := api.Services{
		Auth:         service.NewAuthService(adminRepo, cfg.Auth.JWTSecret),
		Orders:       orderService,
		Referrals:    referralService,
		Catalog:      service.NewCatalogService(publicRepo),
		AdminCatalog: service.NewCatalogService(adminRepo),
		Dashboard:    service.NewDashboardService(adminRepo, cfg.Business.LowStockThreshold),
		Uploads:      service.NewUploadService(objects, publicURLBase, cfg.Business.MaxUploadBytes),
		Checkout: service.NewCheckoutService(adminRepo, orderService, sessions, service.CheckoutConfig{
			Currency:      cfg.Payments.Currency,
			SuccessURL:    cfg.Payments.SuccessURL,
			CancelURL:     cfg.Payments.CancelURL,
			WebhookSecret: cfg.Payments.StripeWebhookSecret,
		}),
		Users: service.NewUserService(adminRepo),
	}

	// workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationWorker := worker.NewNotificationWorker(notificationConsumer, mailer, events, cfg.Email.AdminEmail)
	commissionWorker := worker.NewCommissionWorker(commissionConsumer, referralService, events)
	if loopback != nil {
		loopback.Subscribe(notificationWorker.Handler())
		loopback.Subscribe(commissionWorker.Handler())
	}
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()
	go func() {
		if err := commissionWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Commission worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, api.Options{
		Production:     cfg.Server.Env == "production",
		MaxUploadBytes: cfg.Business.MaxUploadBytes,
		ConfigStatus:   cfg.Status,
		Dependencies:   dependencies,
		SentryEnabled:  sentryEnabled,
	})
	handler.SetupRoutes(router)
	if mem, ok := objects.(*objectstore.Memory); ok {
		router.GET("/files/*key", serveMemoryObject(mem))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Error stopping notification worker", zap.Error(err))
	}
	if err := commissionWorker.Stop(); err != nil {
		logger.Warn("Error stopping commission worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// serveMemoryObject serves uploads kept by the in-memory object store
func serveMemoryObject(objects *objectstore.Memory) gin.HandlerFunc {
	return func(c *gin.Context) {
		obj, ok := objects.Get(c.Param("key")[1:])
		if !ok {
			c.Status(http.StatusNotFound)
			return
		}
		c.Data(http.StatusOK, obj.ContentType, obj.Data)
	}
}
