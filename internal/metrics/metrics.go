package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Recorder interface {
	IncSent(kind string, ok bool)
	IncDeleted(ok bool)
	IncPageRendered(dataset string, trigger string)
	IncSyncRun(trigger string, skipped bool)
	IncSyncFile(outcome string)
	ObserveSyncDuration(d time.Duration)
}

type Prometheus struct {
	registry     *prometheus.Registry
	sent         *prometheus.CounterVec
	deleted      *prometheus.CounterVec
	pages        *prometheus.CounterVec
	syncRuns     *prometheus.CounterVec
	syncFiles    *prometheus.CounterVec
	syncDuration prometheus.Histogram
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	m := &Prometheus{
		registry: reg,
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpb_messages_sent_total",
			Help: "Outbound messages by kind and result",
		}, []string{"kind", "result"}),
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpb_messages_deleted_total",
			Help: "Scheduled deletions by result",
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpb_pages_rendered_total",
			Help: "Rendered pages by dataset and trigger",
		}, []string{"dataset", "trigger"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpb_sync_runs_total",
			Help: "Snapshot sync runs by trigger, including skipped ones",
		}, []string{"trigger", "skipped"}),
		syncFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpb_sync_files_total",
			Help: "Per-file sync outcomes",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpb_sync_duration_seconds",
			Help:    "Duration of completed sync runs",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.sent, m.deleted, m.pages, m.syncRuns, m.syncFiles, m.syncDuration)
	return m
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (m *Prometheus) IncSent(kind string, ok bool) {
	m.sent.WithLabelValues(kind, result(ok)).Inc()
}

func (m *Prometheus) IncDeleted(ok bool) {
	m.deleted.WithLabelValues(result(ok)).Inc()
}

func (m *Prometheus) IncPageRendered(dataset, trigger string) {
	m.pages.WithLabelValues(dataset, trigger).Inc()
}

func (m *Prometheus) IncSyncRun(trigger string, skipped bool) {
	s := "false"
	if skipped {
		s = "true"
	}
	m.syncRuns.WithLabelValues(trigger, s).Inc()
}

func (m *Prometheus) IncSyncFile(outcome string) {
	m.syncFiles.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) ObserveSyncDuration(d time.Duration) {
	m.syncDuration.Observe(d.Seconds())
}

func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Prometheus) Serve(ctx context.Context, addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
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
	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

type Noop struct{}

func (Noop) IncSent(string, bool)              {}
func (Noop) IncDeleted(bool)                   {}
func (Noop) IncPageRendered(string, string)    {}
func (Noop) IncSyncRun(string, bool)           {}
func (Noop) IncSyncFile(string)                {}
func (Noop) ObserveSyncDuration(time.Duration) {}
