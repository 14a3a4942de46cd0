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

	"github.com/ariefcatur/go-pos-checkout/internal/config"
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

// The reconciler repairs what a checkout could not finish after its payment
// landed: event-driven off the reconciliation topic for promptness, plus a
// periodic full pass and an expired-hold sweep as the safety net.
func main() {
	_ = godotenv.Load()
	logrus.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.WithField("service", "reconciler")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	m := metrics.NewCheckoutMetrics("reconciler")
	inv := &inventory.Manager{DB: db, TTL: cfg.ReservationTTL}
	rep := &reconcile.Repairer{
		Queue:     &reconcile.Queue{DB: db},
		Orders:    &orders.Repo{DB: db},
		Loyalty:   &loyalty.Ledger{DB: db},
		Sessions:  &sessions.Repo{DB: db},
		Inventory: inv,
		Gateway: payment.NewTerminal(cfg.TerminalBaseURL, cfg.PaymentTimeout,
			cfg.PaymentPollInterval, cfg.PaymentPollAttempts),
		Redis:   rdb,
		Service: cfg.ServiceName + "-reconciler",
		Metrics: m,
		Log:     log.WithField("component", "repairer"),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	msrv := &http.Server{Addr: cfg.ReconcilerAddr, Handler: mux}
	go func() {
		log.WithField("addr", cfg.ReconcilerAddr).Info("metrics listening")
		if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics listen")
		}
	}()

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup,
		orders.TopicReconciliationEnqueued, cfg.ReconcilerWorkers)
	go func() {
		log.WithFields(logrus.Fields{
			"group": cfg.ReconcilerGroup, "topic": orders.TopicReconciliationEnqueued,
		}).Info("consumer started")
		if err := cons.Start(ctx, rep.HandleEnqueued); err != nil {
			log.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := inv.SweepExpired(ctx, time.Now().UTC()); err != nil {
					log.WithError(err).Error("sweep expired holds")
				} else if n > 0 {
					log.WithField("reclaimed", n).Info("expired holds swept")
				}
				if n, err := rep.RepairAll(ctx); err != nil {
					log.WithError(err).Error("repair pass")
				} else if n > 0 {
					log.WithField("repaired", n).Info("reconciliation pass done")
				}
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = msrv.Shutdown(sctx)
	cancel()
	time.Sleep(500 * time.Millisecond)
}
