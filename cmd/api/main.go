package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-pos-checkout/internal/checkout"
	"github.com/ariefcatur/go-pos-checkout/internal/config"
	"github.com/ariefcatur/go-pos-checkout/internal/httpx"
	"github.com/ariefcatur/go-pos-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-pos-checkout/internal/kafka"
	"github.com/ariefcatur/go-pos-checkout/internal/loyalty"
	"github.com/ariefcatur/go-pos-checkout/internal/metrics"
	"github.com/ariefcatur/go-pos-checkout/internal/orders"
	"github.com/ariefcatur/go-pos-checkout/internal/payment"
	"github.com/ariefcatur/go-pos-checkout/internal/postgres"
	"github.com/ariefcatur/go-pos-checkout/internal/reconcile"
	"github.com/ariefcatur/go-pos-checkout/internal/redisx"
	"github.com/ariefcatur/go-pos-checkout/internal/sessions"
)

func main() {
	_ = godotenv.Load()
	logrus.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.WithField("service", "checkout-api")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.WithError(err).Fatal("migrate")
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pCompleted := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicCheckoutCompleted, 1024)
	pCompleted.Start(ctx)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicCheckoutCancelled, 1024)
	pCancelled.Start(ctx)
	pReconcile := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicReconciliationEnqueued, 1024)
	pReconcile.Start(ctx)

	queue := &reconcile.Queue{DB: db}
	orch := &checkout.Orchestrator{
		Orders:    &orders.Repo{DB: db},
		Inventory: &inventory.Manager{DB: db, TTL: cfg.ReservationTTL},
		Loyalty:   &loyalty.Ledger{DB: db},
		Sessions:  &sessions.Repo{DB: db},
		Queue:     queue,
		Gateway: payment.NewTerminal(cfg.TerminalBaseURL, cfg.PaymentTimeout,
			cfg.PaymentPollInterval, cfg.PaymentPollAttempts),
		Events: &checkout.KafkaEvents{
			Completed:      pCompleted,
			Cancelled:      pCancelled,
			Reconciliation: pReconcile,
			Service:        cfg.ServiceName,
		},
		EarnRate: cfg.LoyaltyEarnRate,
		Log:      log.WithField("component", "checkout"),
	}

	// Router timeout must outlive a full checkout, card wait included.
	router := httpx.NewRouter(cfg.CheckoutTimeout + 10*time.Second)
	h := &httpx.CheckoutHandler{
		Checkouts: orch,
		Orders:    &orders.Repo{DB: db},
		Queue:     queue,
		Cache:     httpx.NewRedisCache(rdb),
		Metrics:   metrics.NewCheckoutMetrics("api"),
		Timeout:   cfg.CheckoutTimeout,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	pCompleted.Close()
	pCancelled.Close()
	pReconcile.Close()
	cancel()
	pCompleted.WaitClosed()
	pCancelled.WaitClosed()
	pReconcile.WaitClosed()
}
