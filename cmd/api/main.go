package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
	"github.com/sokoni-dev/sokoni-payments/internal/fees"
	"github.com/sokoni-dev/sokoni-payments/internal/messaging"
	"github.com/sokoni-dev/sokoni-payments/internal/notify"
	"github.com/sokoni-dev/sokoni-payments/internal/orders"
	"github.com/sokoni-dev/sokoni-payments/internal/payouts"
	"github.com/sokoni-dev/sokoni-payments/internal/provider"
	"github.com/sokoni-dev/sokoni-payments/internal/reconcile"
	"github.com/sokoni-dev/sokoni-payments/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "payments-api", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("payments-api", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}
	brokers := strings.Split(kafkaBrokers, ",")
	notificationProducer := messaging.NewProducer(brokers, messaging.TopicPaymentNotification)
	defer func() { _ = notificationProducer.Close() }()
	confirmedProducer := messaging.NewProducer(brokers, messaging.TopicOrderConfirmed)
	defer func() { _ = confirmedProducer.Close() }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	checkout := provider.NewCheckoutClient(
		os.Getenv("CHECKOUT_BASE_URL"),
		os.Getenv("CHECKOUT_API_KEY"),
		httpClient,
	)
	mobileMoney := provider.NewMobileMoneyClient(
		os.Getenv("MOMO_BASE_URL"),
		os.Getenv("MOMO_CONSUMER_KEY"),
		os.Getenv("MOMO_CONSUMER_SECRET"),
		httpClient,
	)

	var notifier orders.Notifier
	if notifyURL := os.Getenv("NOTIFY_SERVICE_URL"); notifyURL != "" {
		notifier = notify.New(notifyURL, httpClient, logger)
	}

	calculator, err := fees.NewDefaultCalculator()
	if err != nil {
		logger.Error("invalid fee schedule", "error", err)
		os.Exit(1)
	}

	repo := orders.NewOrderRepository(db)
	lifecycle := orders.NewLifecycle(repo, confirmedProducer, notifier, commissionPct(logger), logger)
	payments := orders.NewPaymentService(repo, lifecycle, map[domain.PaymentMethod]provider.Gateway{
		domain.PaymentMethodCard:        checkout,
		domain.PaymentMethodMobileMoney: mobileMoney,
	}, currency(), logger)
	ordersHandler := orders.NewHandler(repo, lifecycle, payments, logger)

	parked := reconcile.NewParkedRepository(db)
	webhooks := reconcile.NewHandler(notificationProducer, parked, logger)

	payoutRepo := payouts.NewPayoutRepository(db)
	engine := payouts.NewEngine(payoutRepo, calculator, mobileMoney, logger)
	payoutsHandler := payouts.NewHandler(engine, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(ordersHandler.HandleCreate))
	mux.HandleFunc("GET /orders/{number}", telemetry.WithHTTPRoute(ordersHandler.HandleGet))
	mux.HandleFunc("PATCH /orders/{number}/status", telemetry.WithHTTPRoute(ordersHandler.HandleUpdateStatus))
	mux.HandleFunc("POST /orders/{number}/deliver", telemetry.WithHTTPRoute(ordersHandler.HandleDeliver))
	mux.HandleFunc("POST /orders/{number}/payments", telemetry.WithHTTPRoute(ordersHandler.HandleInitiatePayment))
	mux.HandleFunc("POST /orders/{number}/payments/verify", telemetry.WithHTTPRoute(ordersHandler.HandleVerifyPayment))
	mux.HandleFunc("POST /webhooks/{provider}", telemetry.WithHTTPRoute(webhooks.HandleWebhook))
	mux.HandleFunc("GET /reconciliation/parked", telemetry.WithHTTPRoute(webhooks.HandleListParked))
	mux.HandleFunc("POST /reconciliation/parked/{id}/resolve", telemetry.WithHTTPRoute(webhooks.HandleResolveParked))
	mux.HandleFunc("GET /payouts/pending", telemetry.WithHTTPRoute(payoutsHandler.HandleListPending))
	mux.HandleFunc("POST /payouts", telemetry.WithHTTPRoute(payoutsHandler.HandleCreate))
	mux.HandleFunc("GET /payouts/{id}", telemetry.WithHTTPRoute(payoutsHandler.HandleGet))
	mux.HandleFunc("POST /payouts/{id}/process", telemetry.WithHTTPRoute(payoutsHandler.HandleProcess))
	mux.HandleFunc("POST /payouts/{id}/retry", telemetry.WithHTTPRoute(payoutsHandler.HandleRetry))
	mux.Handle("GET /metrics", metricsHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "payments-api",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting payments api", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func commissionPct(logger *slog.Logger) int64 {
	raw := os.Getenv("COMMISSION_PCT")
	if raw == "" {
		return 10
	}
	pct, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || pct < 0 || pct > 100 {
		logger.Error("invalid COMMISSION_PCT", "value", raw)
		os.Exit(1)
	}
	return pct
}

func currency() string {
	if c := os.Getenv("CURRENCY"); c != "" {
		return c
	}
	return "KES"
}
