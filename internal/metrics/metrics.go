// Package metrics exposes Prometheus collectors for the bot and a tiny HTTP
// server with /metrics and /healthz. Label values are fixed small sets
// ("reminder", "congratulation") so cardinality stays bounded.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	KindReminder       = "reminder"
	KindCongratulation = "congratulation"
)

var (
	// Deliveries counts successful scheduled sends by kind.
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savings_bot_deliveries_total",
			Help: "Scheduled messages delivered, by kind.",
		},
		[]string{"kind"},
	)

	// DeliveryFailures counts per-recipient send errors by kind.
	DeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savings_bot_delivery_failures_total",
			Help: "Scheduled messages that failed to send, by kind.",
		},
		[]string{"kind"},
	)

	// Broadcasts counts (day, hour) broadcasts started.
	Broadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "savings_bot_broadcasts_total",
		Help: "Hourly reminder broadcasts started.",
	})

	// Ticks counts scheduler ticks.
	Ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "savings_bot_scheduler_ticks_total",
		Help: "Scheduler ticks executed.",
	})

	// TopUps counts accepted top-ups.
	TopUps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "savings_bot_topups_total",
		Help: "Top-ups recorded in the ledger.",
	})
)

func init() {
	prometheus.MustRegister(Deliveries, DeliveryFailures, Broadcasts, Ticks, TopUps)
}

// RegisterUsers exports the ledger size, read at scrape time.
func RegisterUsers(count func() int) error {
	return prometheus.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "savings_bot_users",
			Help: "Users known to the ledger.",
		},
		func() float64 { return float64(count()) },
	))
}

// Handler serves /metrics and /healthz.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}

// Serve runs Handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, log *zap.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			log.Warn("http server shutdown error", zap.Error(err))
		}
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server error", zap.Error(err))
	}
}
