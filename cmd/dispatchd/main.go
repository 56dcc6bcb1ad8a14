package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/internal/auth"
	"github.com/ridepulse/dispatch/internal/dispatch"
	"github.com/ridepulse/dispatch/internal/drivers"
	"github.com/ridepulse/dispatch/internal/notifications"
	"github.com/ridepulse/dispatch/internal/presence"
	"github.com/ridepulse/dispatch/internal/pricing"
	"github.com/ridepulse/dispatch/internal/realtime"
	"github.com/ridepulse/dispatch/internal/rideid"
	"github.com/ridepulse/dispatch/internal/rides"
	"github.com/ridepulse/dispatch/internal/wallet"
	"github.com/ridepulse/dispatch/internal/workinghours"
	"github.com/ridepulse/dispatch/pkg/cache"
	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/config"
	"github.com/ridepulse/dispatch/pkg/database"
	"github.com/ridepulse/dispatch/pkg/errors"
	"github.com/ridepulse/dispatch/pkg/eventbus"
	"github.com/ridepulse/dispatch/pkg/health"
	"github.com/ridepulse/dispatch/pkg/jwtkeys"
	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/middleware"
	"github.com/ridepulse/dispatch/pkg/ratelimit"
	redisclient "github.com/ridepulse/dispatch/pkg/redis"
	"github.com/ridepulse/dispatch/pkg/resilience"
	"github.com/ridepulse/dispatch/pkg/tracing"
	ws "github.com/ridepulse/dispatch/pkg/websocket"
)

const (
	serviceName    = "dispatchd"
	version        = "1.0.0"
	requestTimeout = 10 * time.Second
	migrationsPath = "file://db/migrations"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting dispatch service",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Sentry.Enabled {
		if err := errors.InitSentry(cfg.Sentry, cfg.Server.Environment, serviceName); err != nil {
			logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
		} else {
			defer errors.Flush(2 * time.Second)
			logger.Info("Sentry error tracking initialized")
		}
	}

	if cfg.Tracing.Enabled {
		tracerCfg := tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   cfg.Tracing.Endpoint,
			Enabled:        true,
		}
		if _, err := tracing.InitTracer(tracerCfg, logger.Get()); err != nil {
			logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancelTracer := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelTracer()
				if err := tracing.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown tracer", zap.Error(err))
				}
			}()
			logger.Info("OpenTelemetry tracing initialized")
		}
	}

	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	logger.Info("Connected to database")

	if err := database.RunMigrations(migrationsPath, cfg.Database.URL()); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}

	// database/sql handle for the batched location sampler.
	sampleDB, err := database.NewSQLDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open sample database handle", zap.Error(err))
	}
	defer sampleDB.Close()

	redisClient, err := redisclient.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}()

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(redisClient.Client, cfg.RateLimit)
		logger.Info("Rate limiting enabled",
			zap.Int("limit", cfg.RateLimit.Limit),
			zap.Duration("window", cfg.RateLimit.Window()),
		)
	}

	var bus *eventbus.Bus
	if cfg.NATS.Enabled {
		bus, err = eventbus.New(eventbus.Config{URL: cfg.NATS.URL, Name: serviceName})
		if err != nil {
			logger.Warn("Failed to connect to NATS, lifecycle feed disabled", zap.Error(err))
			bus = nil
		} else {
			defer bus.Close()
			logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
		}
	}

	keyManager, err := jwtkeys.NewManagerFromConfig(rootCtx, cfg.JWT, false)
	if err != nil {
		logger.Fatal("Failed to initialize JWT key manager", zap.Error(err))
	}
	keyManager.StartAutoRotation(rootCtx)

	newBreaker := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(resilience.Settings{
			Name:             name,
			Interval:         time.Duration(cfg.Resilience.IntervalSeconds) * time.Second,
			Timeout:          time.Duration(cfg.Resilience.TimeoutSeconds) * time.Second,
			FailureThreshold: cfg.Resilience.FailureThreshold,
			SuccessThreshold: cfg.Resilience.SuccessThreshold,
		}, nil)
	}

	var pushSender notifications.PushSender
	firebaseBreaker := newBreaker("firebase")
	if cfg.Firebase.Enabled {
		firebaseClient, err := notifications.NewFirebaseClient(rootCtx, cfg.Firebase.CredentialsPath)
		if err != nil {
			logger.Warn("Failed to initialize Firebase, push notifications disabled", zap.Error(err))
		} else {
			pushSender = notifications.NewResilientFirebaseClient(firebaseClient, firebaseBreaker)
			logger.Info("Firebase push notifications enabled", zap.String("project", cfg.Firebase.ProjectID))
		}
	}
	pushDispatcher := notifications.NewDispatcher(pushSender, 0)

	var smsSender auth.SMSSender
	twilioBreaker := newBreaker("twilio")
	if cfg.Twilio.Enabled {
		twilioClient := notifications.NewTwilioClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber)
		smsSender = notifications.NewResilientTwilioClient(twilioClient, twilioBreaker)
		logger.Info("Twilio SMS enabled")
	}

	var stripeProvider wallet.StripeProvider
	if cfg.Stripe.Enabled && cfg.Stripe.APIKey != "" {
		stripeProvider = wallet.NewStripeClient(cfg.Stripe.APIKey)
		logger.Info("Stripe top-ups enabled")
	}

	hub := ws.NewHub(logger.Get())
	go hub.Run()
	emitter := realtime.NewEmitter(hub)

	registry := presence.NewRegistry()
	userTracker := presence.NewUserTracker()
	priceCache := pricing.NewCache()
	cacheManager := cache.NewManager(redisClient)

	sampler := presence.NewSampler(sampleDB, presence.DefaultSamplerConfig())

	geoIndex := redisclient.NewRetryingGeo(redisClient)
	presenceRepo := presence.NewRepository(db)
	presenceService := presence.NewService(registry, userTracker, presenceRepo, nil, emitter, geoIndex, sampler)

	pricingService := pricing.NewService(pricing.NewRepository(db), priceCache, emitter, bus)
	ledger := wallet.NewLedger(wallet.NewRepository(db), cacheManager, emitter, bus, stripeProvider)

	workingHoursService := workinghours.NewService(
		workinghours.NewRepository(db, ledger), ledger, emitter, pushDispatcher, presenceService, bus,
	)

	ridesRepo := rides.NewRepository(db)
	engine := dispatch.NewEngine(
		ridesRepo, dispatch.NewRepository(db), rideid.NewAllocator(db), priceCache,
		emitter, pushDispatcher, presenceService, presenceService, bus,
	)

	ridesService := rides.NewService(ridesRepo, priceCache, ledger, emitter, engine.Active(), presenceService, bus)
	// Presence resolves ride bindings through the ride service, which in turn
	// mirrors status through presence, so one side binds late.
	presenceService.SetRideReader(ridesService)

	driversService := drivers.NewService(drivers.NewRepository(db), presenceService)
	authService := auth.NewService(auth.NewRepository(db), redisClient, smsSender, keyManager, cfg.JWT.Expiration)

	gateway := realtime.NewGateway(hub, presenceService, workingHoursService, pricingService, engine, ridesService, driversService, ridesRepo)
	gateway.RegisterHandlers()

	// Warm the price cache and re-arm countdowns left over from the last run
	// before any traffic is accepted.
	startupCtx, cancelStartup := context.WithTimeout(rootCtx, 30*time.Second)
	if err := pricingService.Load(startupCtx); err != nil {
		logger.Warn("Failed to load ride prices, serving defaults", zap.Error(err))
	}
	if err := workingHoursService.Recover(startupCtx); err != nil {
		logger.Warn("Failed to recover working-hours timers", zap.Error(err))
	}
	cancelStartup()

	go pushDispatcher.Run(rootCtx)
	go presence.NewBroadcaster(registry, emitter).Run(rootCtx)
	go presence.NewSweeper(registry, userTracker, presenceRepo, geoIndex, presence.DriverGeoKey, engine.Active(), engine.Dedup()).Run(rootCtx)
	go sampler.Run(rootCtx)

	workingHoursDone := make(chan struct{})
	go func() {
		workingHoursService.Run(rootCtx)
		close(workingHoursDone)
	}()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(requestTimeout))
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))
	router.Use(middleware.SanitizeRequest())
	router.Use(middleware.Metrics(serviceName))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware(serviceName))
	}
	router.Use(middleware.ErrorHandler())

	router.GET("/healthz", common.HealthCheck(serviceName, version))

	deep := health.NewDeepChecker(health.DeepCheckerConfig{Version: version, CacheTTL: 10 * time.Second})
	deep.AddCheck("postgres", true, health.PostgresChecker(db))
	deep.AddCheck("samples-db", false, health.DatabaseChecker(sampleDB))
	deep.AddCheck("redis", true, health.RedisChecker(redisClient.Client))
	if bus != nil {
		deep.AddCheck("nats", false, health.ConnectedChecker("nats", bus.Connected))
	}
	deep.AddCircuitBreaker("firebase", firebaseBreaker)
	deep.AddCircuitBreaker("twilio", twilioBreaker)
	router.GET("/readyz", gin.WrapH(deep.Handler()))

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")

	public := v1.Group("")
	if limiter != nil {
		public.Use(middleware.RateLimit(limiter, cfg.RateLimit))
	}
	auth.NewHandler(authService).RegisterRoutes(public)

	protected := v1.Group("")
	protected.Use(middleware.AuthMiddlewareWithProvider(keyManager))
	protected.Use(middleware.Idempotency(redisClient))

	realtime.NewHandler(hub, gateway).RegisterRoutes(protected)

	driversGroup := protected.Group("/drivers")
	drivers.NewHandler(driversService).RegisterRoutes(driversGroup)

	walletHandler := wallet.NewHandler(ledger)
	walletHandler.RegisterDriverRoutes(driversGroup)
	walletHandler.RegisterUserRoutes(protected)

	workinghours.NewHandler(workingHoursService).RegisterRoutes(protected)
	rides.NewHandler(ridesService, engine).RegisterRoutes(protected)

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	pricing.NewHandler(pricingService).RegisterRoutes(admin)
	walletHandler.RegisterAdminRoutes(admin)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	// Stop the background loops. The working-hours runner checkpoints every
	// live countdown on its way out, so wait for it before closing stores.
	cancel()
	select {
	case <-workingHoursDone:
	case <-time.After(10 * time.Second):
		logger.Warn("Timed out waiting for working-hours checkpoint")
	}

	logger.Info("Server stopped")
}

// corsConfig builds the CORS policy from the comma-separated origin list,
// falling back to the local dev origin when unset.
func corsConfig(origins string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-Request-ID"}
	c.AllowCredentials = true

	if origins == "" {
		c.AllowOrigins = []string{"http://localhost:3000"}
		return c
	}
	if strings.TrimSpace(origins) == "*" {
		// A wildcard origin cannot carry credentials.
		c.AllowAllOrigins = true
		c.AllowCredentials = false
		return c
	}
	for _, o := range strings.Split(origins, ",") {
		c.AllowOrigins = append(c.AllowOrigins, strings.TrimSpace(o))
	}
	return c
}
