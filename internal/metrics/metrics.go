// Package metrics exposes Prometheus collectors for sessions and commands.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/errs"
	"github.com/disconic/disconic/internal/player"
)

const namespace = "disconic"

// Collectors holds the bot's metrics
type Collectors struct {
	commands       *prometheus.CounterVec
	commandSeconds *prometheus.HistogramVec
	tracksStarted  prometheus.Counter
	sessionsClosed prometheus.Counter
}

// New registers the collectors with reg. The live session gauge reads
// registry on every scrape.
func New(reg prometheus.Registerer, registry *player.Registry) (*Collectors, error) {
	c := &Collectors{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by intent and result.",
		}, []string{"intent", "result"}),
		commandSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent executing commands, catalog lookups and joins included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"intent"}),
		tracksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_started_total",
			Help:      "Tracks that started streaming.",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Voice sessions torn down by leave or disconnect.",
		}),
	}
	sessions := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Voice sessions currently registered.",
	}, func() float64 { return float64(registry.Len()) })

	for _, col := range []prometheus.Collector{c.commands, c.commandSeconds, c.tracksStarted, c.sessionsClosed, sessions} {
		if err := reg.Register(col); err != nil {
			return nil, errors.Wrap(err, "failed to register collector")
		}
	}
	return c, nil
}

// ObserveCommand counts one executed command
func (c *Collectors) ObserveCommand(intent string, kind errs.Kind, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = strings.ReplaceAll(kind.String(), " ", "_")
	}
	c.commands.WithLabelValues(intent, result).Inc()
	c.commandSeconds.WithLabelValues(intent).Observe(elapsed.Seconds())
}

// Notify is a player.Notifier
func (c *Collectors) Notify(ev player.Event) {
	if ev.Started != nil {
		c.tracksStarted.Inc()
	}
	if ev.Closed {
		c.sessionsClosed.Inc()
	}
}

// Serve exposes gatherer on addr under /metrics until ctx is done
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "metrics server on %s", addr)
	}
	return nil
}
