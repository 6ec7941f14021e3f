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

	"github.com/sokoni-dev/sokoni-payments/internal/messaging"
	"github.com/sokoni-dev/sokoni-payments/internal/notify"
	"github.com/sokoni-dev/sokoni-payments/internal/orders"
	"github.com/sokoni-dev/sokoni-payments/internal/reconcile"
	"github.com/sokoni-dev/sokoni-payments/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "payments-reconciler", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
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

	brokers := strings.Split(kafkaBrokers, ",")
	consumer := messaging.NewConsumer(brokers, messaging.TopicPaymentNotification, "payment-reconciler")
	defer func() { _ = consumer.Close() }()

	confirmedProducer := messaging.NewProducer(brokers, messaging.TopicOrderConfirmed)
	defer func() { _ = confirmedProducer.Close() }()

	var notifier orders.Notifier
	if notifyURL := os.Getenv("NOTIFY_SERVICE_URL"); notifyURL != "" {
		httpClient := &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		notifier = notify.New(notifyURL, httpClient, logger)
	}

	repo := orders.NewOrderRepository(db)
	lifecycle := orders.NewLifecycle(repo, confirmedProducer, notifier, commissionPct(logger), logger)
	parked := reconcile.NewParkedRepository(db)
	reconciler := reconcile.NewReconciler(repo, lifecycle, parked, logger)
	handler := reconcile.NewConsumerHandler(reconciler, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting payment reconciler", "brokers", brokers)

	if err := consumer.Consume(runCtx, handler.Handle); err != nil {
		if runCtx.Err() == context.Canceled {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
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
