package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"

	"fanzone/config"
	"fanzone/internal/handlers"
	"fanzone/internal/intake"
	"fanzone/internal/realtime"
	"fanzone/internal/services"
	_ "fanzone/migrations"
	"fanzone/monitoring"
	"fanzone/security"
	"fanzone/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		if cfg.Environment != "development" {
			return err
		}
		slog.Warn("running with incomplete configuration", "error", err)
	}

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize the outbound broadcaster. Without publish keys the no-op
	// variant keeps every service callable.
	var broadcaster realtime.Broadcaster = &realtime.Noop{}
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		pnConfig.UUID = "fanzone-core"

		broadcaster = realtime.NewPubNubBroadcaster(pubnub.NewPubNub(pnConfig))
	}

	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor(redisClient)
	}

	// Initialize services
	checkoutService := services.NewCheckoutService(app, cfg)
	passService := services.NewPassService(app, cfg, broadcaster, redisClient, monitor)
	reconcileService := services.NewReconcileService(app, cfg, broadcaster, passService, redisClient, monitor)
	membershipService := services.NewMembershipService(app, cfg)
	commerceService := services.NewCommerceService(app, cfg)

	// Initialize handlers
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService)
	passHandler := handlers.NewPassHandler(passService)
	paymentHandler := handlers.NewPaymentHandler(app, cfg, reconcileService)
	membershipHandler := handlers.NewMembershipHandler(membershipService, commerceService)

	rateLimiter := security.NewRateLimiter(redisClient)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Parsed SMS intake starts once the store is ready.
		listener, err := intake.New(app, cfg, reconcileService)
		if err != nil {
			return err
		}
		if listener != nil {
			listener.Start(ctx)
			slog.Info("sms intake listener started", "channel", cfg.IntakeChannel)
		}

		// Catalog and checkout
		e.Router.GET("/api/fanzone/catalog", checkoutHandler.Catalog)
		e.Router.POST("/api/fanzone/checkout", checkoutHandler.CreateOrder).BindFunc(rateLimiter.CheckoutLimit())
		e.Router.GET("/api/fanzone/orders", checkoutHandler.ListOrders)
		e.Router.GET("/api/fanzone/orders/{orderId}", checkoutHandler.GetOrder)
		e.Router.POST("/api/fanzone/orders/{orderId}/cancel", checkoutHandler.CancelOrder)

		// Passes and gates
		e.Router.GET("/api/fanzone/passes", passHandler.ListActive)
		e.Router.POST("/api/fanzone/passes/{passId}/rotate", passHandler.Rotate)
		e.Router.POST("/api/fanzone/passes/{passId}/transfer", passHandler.Transfer)
		e.Router.POST("/api/fanzone/passes/{passId}/claim", passHandler.Claim)
		e.Router.POST("/api/fanzone/gate/verify", passHandler.Verify).BindFunc(rateLimiter.GateLimit())
		e.Router.GET("/api/fanzone/matches/{matchId}/gate-history", passHandler.GateHistory)
		e.Router.GET("/api/fanzone/matches/{matchId}/gate-metrics", passHandler.GateMetrics)

		// Payments and manual review
		e.Router.POST("/api/fanzone/payments/process-parsed", paymentHandler.ProcessParsed)
		e.Router.GET("/api/fanzone/payments/manual-review", paymentHandler.ListManualReview)
		e.Router.POST("/api/fanzone/payments/{paymentId}/attach", paymentHandler.AttachSms)

		// Membership, shop and donations
		e.Router.GET("/api/fanzone/membership/plans", membershipHandler.ListPlans)
		e.Router.POST("/api/fanzone/membership/upgrade", membershipHandler.Upgrade)
		e.Router.GET("/api/fanzone/membership/status", membershipHandler.Status)
		e.Router.POST("/api/fanzone/shop/orders", membershipHandler.CreateShopOrder)
		e.Router.POST("/api/fanzone/donations", membershipHandler.CreateDonation)

		// Test endpoint for payment simulation
		if cfg.Environment == "development" {
			e.Router.POST("/api/fanzone/test/simulate-payment", paymentHandler.SimulatePayment)
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	if cfg.EnableMetrics {
		go serveMetrics(cfg.MetricsPort)
	}

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
