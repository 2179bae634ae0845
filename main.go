package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"

	"ticketing-core/internal/analytics"
	analytics_api "ticketing-core/internal/analytics/api"
	"ticketing-core/internal/auth"
	"ticketing-core/internal/cache"
	"ticketing-core/internal/config"
	"ticketing-core/internal/database"
	"ticketing-core/internal/database/migrations"
	"ticketing-core/internal/inventory"
	"ticketing-core/internal/inventory/events_api"
	"ticketing-core/internal/kafka"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/order"
	orderdb "ticketing-core/internal/order/db"
	"ticketing-core/internal/order/order_api"
	"ticketing-core/internal/outbox"
	"ticketing-core/internal/payment"
	"ticketing-core/internal/ratelimit"
	"ticketing-core/internal/resale"
	"ticketing-core/internal/resale/resale_api"
	"ticketing-core/internal/sse"
	"ticketing-core/internal/tickets"
	"ticketing-core/internal/tickets/credential"
	ticketdb "ticketing-core/internal/tickets/db"
	"ticketing-core/internal/tickets/ticket_api"
	"ticketing-core/internal/users"
	"ticketing-core/internal/utils"
	"ticketing-core/internal/waitlist"
	waitlistdb "ticketing-core/internal/waitlist/db"
	"ticketing-core/internal/waitlist/waitlist_api"
)

func newPaymentAuthority(cfg config.PaymentConfig, log *logger.Logger) payment.Authority {
	if cfg.Provider == "stripe" {
		if cfg.StripeSecretKey == "" {
			log.Fatal("CONFIG", "PAYMENT_PROVIDER=stripe requires STRIPE_SECRET_KEY")
		}
		log.Info("PAYMENT", "Using Stripe payment authority")
		return payment.NewStripeAuthority(cfg.StripeSecretKey, log)
	}
	log.Warn("PAYMENT", "Using mock payment authority, every non-declined proof is accepted")
	return payment.MockAuthority{}
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, rdb *redis.Client, log *logger.Logger) auth.Verifier {
	var base auth.Verifier
	switch {
	case cfg.OIDCIssuer != "":
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("OIDC discovery failed for %s: %v", cfg.OIDCIssuer, err))
		}
		log.Info("AUTH", fmt.Sprintf("Verifying tokens against OIDC issuer %s", cfg.OIDCIssuer))
		base = v
	case cfg.JWTSecret != "":
		log.Info("AUTH", "Verifying HS256 tokens with JWT_SECRET")
		base = auth.HMACVerifier{Secret: []byte(cfg.JWTSecret)}
	default:
		log.Fatal("CONFIG", "either OIDC_ISSUER or JWT_SECRET must be set")
	}
	return auth.NewCachingVerifier(base, rdb, 5*time.Minute, log)
}

func healthHandler(db *bun.DB, rdb *redis.Client, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"database": "ok", "redis": "ok"}
		code := http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			log.Error("HEALTH", fmt.Sprintf("database ping failed: %v", err))
			status["database"] = "down"
			code = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("HEALTH", fmt.Sprintf("redis ping failed: %v", err))
			status["redis"] = "down"
		}
		utils.WriteJSON(w, code, status)
	}
}

func main() {
	logger := logger.NewLogger("ticketing")
	defer logger.Close()

	logger.Info("APP", "Starting ticketing service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, logger)
		if err := runner.MigrateUp(); err != nil {
			logger.Fatal("MIGRATE", err.Error())
		}
		runner.Close()
	}

	redisClient, err := cache.Connect(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("REDIS", err.Error())
	}
	defer redisClient.Close()

	codec, err := credential.NewCodec(cfg.Tickets.QRSecretKey, cfg.Tickets.QRSize)
	if err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("ticket credential codec: %v", err))
	}

	// --- Domain services ---
	ledger := inventory.NewLedger(bunDB, logger)
	directory := users.NewDirectory(bunDB)
	ticketDB := &ticketdb.DB{Bun: bunDB}
	ticketService := tickets.NewService(ticketDB, ledger, directory, codec, logger, tickets.Options{
		MaxTransfers:   cfg.Tickets.MaxTransfers,
		TransferCutoff: cfg.Tickets.TransferCutoff,
	})

	queue := waitlist.NewQueue(&waitlistdb.DB{Bun: bunDB}, ledger, logger, cfg.Waitlist.NotifyWindow)
	ledger.OnSeatsRestored(queue)

	payments := newPaymentAuthority(cfg.Payment, logger)
	orderService := order.NewOrderService(&orderdb.DB{Bun: bunDB}, ledger, ticketService, payments, logger, order.Options{
		MaxQuantity: cfg.Orders.MaxQuantity,
		PendingTTL:  cfg.Orders.PendingTTL,
		Currency:    cfg.Payment.Currency,
	})

	resaleService := resale.NewService(&resale.Store{Bun: bunDB}, ticketService, payments, cfg.Payment.Currency, logger)
	ticketService.Listings = resaleService

	analyticsService := analytics.NewService(analytics.NewDB(bunDB), ledger, ticketDB)
	eventCache := cache.NewEventCache(redisClient, ledger, cfg.Redis.CacheTTL, logger)

	// --- Outbox relay ---
	hub := sse.NewHub()
	sinks := []outbox.Sink{hub}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, cfg.Kafka.WriteTimeout, logger)
		defer producer.Close()

		topics := make([]string, 0, len(outbox.Topics()))
		for _, t := range outbox.Topics() {
			topics = append(topics, producer.TopicName(t))
		}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		sinks = append(sinks, producer)
	} else {
		logger.Warn("KAFKA", "Kafka disabled, outbox only feeds SSE subscribers")
	}
	relay := outbox.NewRelay(bunDB, logger, cfg.Kafka.RelayBatch, cfg.Kafka.RelayEvery, sinks...)

	go relay.Run(ctx)
	go orderService.RunExpirySweep(ctx, cfg.Orders.SweepInterval)
	go queue.RunSweep(ctx, cfg.Waitlist.SweepInterval)

	// --- HTTP ---
	verifier := newVerifier(ctx, cfg.Auth, redisClient, logger)

	orderHandler := order_api.NewHandler(orderService, logger)
	ticketHandler := ticket_api.NewHandler(ticketService, logger)
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(redisClient, "scan", cfg.RateLimit.ScansPerMinute, time.Minute, logger)
		ticketHandler.ScanLimit = limiter.Middleware(func(r *http.Request) string {
			return auth.UserID(r.Context())
		})
	}
	waitlistHandler := waitlist_api.NewHandler(queue, logger)
	resaleHandler := resale_api.NewHandler(resaleService, logger)
	eventsHandler := events_api.NewHandler(ledger, eventCache, eventCache, logger)
	analyticsHandler := analytics_api.NewHandler(analyticsService, logger)
	streamHandler := sse.NewHandler(hub, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(utils.Recoverer(logger))
	r.Use(utils.RequestLogger(logger))

	r.Get("/healthz", healthHandler(bunDB, redisClient, logger))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// --- Public Routes ---
		eventsHandler.RegisterRoutes(r)
		r.Get("/events/{eventId}/stream", streamHandler.HandleEventStream)

		// --- Protected Routes ---
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(verifier, directory, logger))

			orderHandler.RegisterRoutes(r)
			ticketHandler.RegisterRoutes(r)
			waitlistHandler.RegisterRoutes(r)
			resaleHandler.RegisterRoutes(r)
			r.Get("/me/stream", streamHandler.HandleUserStream)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				eventsHandler.RegisterAdminRoutes(r)
				waitlistHandler.RegisterAdminRoutes(r)
				analyticsHandler.RegisterRoutes(r)
				r.Get("/events/{eventId}/tickets/count", ticketHandler.GetEventTicketCounts)
			})
		})
	})

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Ticketing service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
		os.Exit(1)
	}
	logger.Info("HTTP", "Ticketing service shutdown complete")
}
