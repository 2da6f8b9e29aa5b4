// Package telemetry wires structured logging and metrics, the same dual
// logrus/zap texture the teacher shows: logrus for everyday domain logging
// (core/access_control.go, core/ai_model_management.go, ...) and
// zap.L().Sugar() for the hot paths the teacher reserves it for
// (core/ai.go). Metrics follow core/system_health_logging.go's
// Prometheus registry + gauge/counter pattern, fronted by a chi admin mux.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Logger returns the process-wide structured logger. Call sites attach a
// correlation id with Logger().WithField("corr_id", id) per spec §7.
func Logger() *logrus.Logger {
	return base
}

var base = newBaseLogger()

func newBaseLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the base logger's verbosity, called once at startup from
// the loaded Config.
func SetLevel(level string) {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		base.Warnf("unknown log level %q, keeping %s", level, base.GetLevel())
		return
	}
	base.SetLevel(lv)
}

// InitZap installs a production zap logger as the global zap logger. No
// other package in this module logs through zap; all of them use logrus.
func InitZap() (*zap.Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(l)
	return l, nil
}

// Metrics is the process-wide Prometheus registry and gauge/counter set,
// the generalization of core/system_health_logging.go's HealthLogger.
type Metrics struct {
	registry *prometheus.Registry

	PipelineStepSeconds *prometheus.HistogramVec
	PipelineStepTotal   *prometheus.CounterVec
	IndexSizeGauge      *prometheus.GaugeVec
	BatchFlushTotal     *prometheus.CounterVec
	DecryptApprovalTotal *prometheus.CounterVec
	BlobCacheHitTotal   prometheus.Counter
	BlobCacheMissTotal  prometheus.Counter
}

// NewMetrics builds and registers the metric families.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		PipelineStepSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "pdw_pipeline_step_seconds",
			Help: "Duration of each pipeline step.",
		}, []string{"step", "status"}),
		PipelineStepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdw_pipeline_step_total",
			Help: "Count of pipeline step completions by status.",
		}, []string{"step", "status"}),
		IndexSizeGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pdw_hnsw_index_size",
			Help: "Non-tombstoned vector count per user index.",
		}, []string{"user"}),
		BatchFlushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdw_batch_flush_total",
			Help: "Batch coordinator flush attempts by outcome.",
		}, []string{"outcome"}),
		DecryptApprovalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdw_decrypt_approval_total",
			Help: "Key server approval outcomes during decryption.",
		}, []string{"outcome"}),
		BlobCacheHitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdw_blob_cache_hit_total",
			Help: "Blob content-cache hits.",
		}),
		BlobCacheMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdw_blob_cache_miss_total",
			Help: "Blob content-cache misses.",
		}),
	}
	reg.MustRegister(
		m.PipelineStepSeconds, m.PipelineStepTotal, m.IndexSizeGauge,
		m.BatchFlushTotal, m.DecryptApprovalTotal,
		m.BlobCacheHitTotal, m.BlobCacheMissTotal,
	)
	return m
}

// ObserveStep records a pipeline step's duration and outcome.
func (m *Metrics) ObserveStep(step, status string, d time.Duration) {
	m.PipelineStepSeconds.WithLabelValues(step, status).Observe(d.Seconds())
	m.PipelineStepTotal.WithLabelValues(step, status).Inc()
}

// AdminServer builds the small chi-based admin mux exposing /healthz and
// /metrics, grounded in the pack's chi-based services (e.g. vecdex,
// nightowl) rather than the teacher (which never imports chi directly).
type AdminServer struct {
	srv *http.Server
}

// NewAdminServer wires a chi.Mux with health and metrics endpoints.
func NewAdminServer(addr string, m *Metrics) *AdminServer {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &AdminServer{srv: &http.Server{Addr: addr, Handler: r}}
}

// Start runs the admin server until ctx is canceled.
func (a *AdminServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
