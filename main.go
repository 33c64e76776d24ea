package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger-svc/config"
	"ledger-svc/database"
	"ledger-svc/gateway"
	"ledger-svc/handlers"
	"ledger-svc/jobs"
	"ledger-svc/kafka"
	"ledger-svc/ledger"
	"ledger-svc/middleware"
	"ledger-svc/promo"
	"ledger-svc/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	grpcLib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "ledger-service"

func main() {
	confPath := flag.String("conf", "", "path to the YAML config file")
	flag.Parse()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*confPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize OpenTelemetry
	if cfg.Tracing.Enabled {
		shutdown, err := middleware.InitTracing(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer shutdown()
	}

	// Initialize database
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.InitDB(initCtx, cfg.Database, logger)
	initCancel()
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Rate limiters share state through Redis; the in-process fallback only
	// holds for a single instance.
	var limiter ratelimit.Limiter
	var memLimiter *ratelimit.MemoryLimiter
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Warn("Redis unavailable, falling back to in-process rate limiting", zap.Error(err))
			rdb.Close()
		} else {
			defer rdb.Close()
			limiter = ratelimit.NewRedisLimiter(rdb, "ledger")
			logger.Info("Redis rate limiter connected", zap.String("addr", cfg.Redis.Addr))
		}
	}
	if limiter == nil {
		memLimiter = ratelimit.NewMemoryLimiter()
		limiter = memLimiter
	}

	promos := promo.NewStore(db, limiter, logger,
		promo.WithLockout(cfg.Ledger.PromoLockoutLimit, cfg.Ledger.PromoLockoutWindow),
	)

	var adapters []gateway.Adapter
	if cfg.Gateways.Epay.Enabled {
		adapters = append(adapters, gateway.NewEpay(cfg.Gateways.Epay))
	}
	if cfg.Gateways.Checkout.Enabled {
		adapters = append(adapters, gateway.NewCheckout(cfg.Gateways.Checkout, logger))
	}
	registry := gateway.NewRegistry(cfg.Gateways.Default, adapters...)
	logger.Info("Payment gateways configured", zap.Strings("providers", registry.Names()))

	opts := []ledger.Option{ledger.WithOrderTTL(cfg.Ledger.OrderTTL)}

	// Initialize Kafka producer
	if cfg.Kafka.Enabled {
		producer, err := kafka.InitProducer(cfg.Kafka, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
		}
		defer producer.Close()
		opts = append(opts, ledger.WithPublisher(kafka.NewPublisher(producer, cfg.Kafka.LedgerTopic, logger)))
	}

	svc := ledger.NewService(db, promos, registry, logger, opts...)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize Kafka consumer
	if cfg.Kafka.Enabled {
		group, err := kafka.InitConsumerGroup(cfg.Kafka, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
		}
		defer group.Close()

		reports := kafka.NewReportConsumer(group, cfg.Kafka.ReportTopic, svc, logger)
		go func() {
			if err := reports.Start(ctx); err != nil {
				logger.Error("Kafka consumer error", zap.Error(err))
			}
		}()
	}

	// Scheduled maintenance
	var sweeper jobs.LimiterSweeper
	if memLimiter != nil {
		sweeper = memLimiter
	}
	sweepAge := cfg.Ledger.PromoLockoutWindow
	if cfg.Ledger.StatusPollWindow > sweepAge {
		sweepAge = cfg.Ledger.StatusPollWindow
	}
	scheduler, err := jobs.NewScheduler(promos, sweeper, cfg.Ledger.AttemptLogRetention, sweepAge, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cron jobs", zap.Error(err))
	}
	scheduler.Start()

	// Setup REST API with Gin
	secret := []byte(cfg.Auth.JWTSecret)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	orders := handlers.NewOrderHandler(svc, limiter, cfg.Ledger.StatusPollLimit, cfg.Ledger.StatusPollWindow, logger)
	credits := handlers.NewCreditsHandler(svc, logger)
	promoHandler := handlers.NewPromoHandler(promos, logger)
	notify := handlers.NewNotifyHandler(svc, registry, logger)

	// Gateway callbacks authenticate by signature, not by user token.
	router.GET("/notify/epay", notify.Epay)
	router.POST("/notify/epay", notify.Epay)
	router.POST("/webhooks/checkout", notify.Checkout)

	router.GET("/api/orders/:orderNo", middleware.OptionalAuth(secret), orders.GetOrderStatus)

	api := router.Group("/api", middleware.AuthMiddleware(secret))
	api.POST("/orders", orders.CreateOrder)
	api.POST("/orders/retry", orders.RetryOrder)
	api.POST("/promo/validate", promoHandler.Validate)
	api.GET("/credits", credits.GetAccount)
	api.POST("/credits/deduct", credits.Deduct)
	api.POST("/credits/refund", credits.Refund)
	api.GET("/reports/:reportId/image-eligibility", credits.ImageEligibility)

	admin := router.Group("/admin", middleware.AuthMiddleware(secret), middleware.RequireAdmin())
	admin.POST("/promo-codes", promoHandler.Generate)
	admin.DELETE("/promo-codes/:code", promoHandler.Void)

	// Start REST server
	restSrv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Ledger Service REST API started", zap.String("addr", cfg.Server.HTTPAddr))

	// Start gRPC server
	grpcListener, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}

	grpcServer := grpcLib.NewServer(
		grpcLib.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	logger.Info("Ledger Service gRPC server started", zap.String("addr", cfg.Server.GRPCAddr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")
	healthServer.Shutdown()
	stop()
	scheduler.Stop(5 * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := restSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	}

	grpcServer.GracefulStop()

	logger.Info("Servers exited")
}
