package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服务指标集合，所有方法对 nil 接收者安全
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	ruleChecks     *prometheus.CounterVec
	trainingRuns   *prometheus.CounterVec
	trainingEpochs prometheus.Counter
	trainingLoss   prometheus.Gauge
	predictions    prometheus.Counter
	cacheHits      prometheus.Counter
	storeErrors    *prometheus.CounterVec
}

// NewMetrics 创建指标并注册到独立的 registry
func NewMetrics(namespace string, withRuntime bool) *Metrics {
	if namespace == "" {
		namespace = "labcheck"
	}
	registry := prometheus.NewRegistry()
	if withRuntime {
		registry.MustRegister(
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}),
			prometheus.NewGoCollector(),
		)
	}

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"route"}),
		ruleChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rules", Name: "checks_total",
			Help: "Rule-based checks by verdict.",
		}, []string{"verdict"}),
		trainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "model", Name: "training_runs_total",
			Help: "Completed training runs by outcome.",
		}, []string{"outcome"}),
		trainingEpochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "model", Name: "training_epochs_total",
			Help: "Training epochs run.",
		}),
		trainingLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "model", Name: "training_loss",
			Help: "Loss reported by the most recent epoch.",
		}),
		predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "model", Name: "predictions_total",
			Help: "Risk predictions served.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "model", Name: "prediction_cache_hits_total",
			Help: "Predictions answered from the cache.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "errors_total",
			Help: "Model store failures by operation.",
		}, []string{"op"}),
	}
	registry.MustRegister(
		m.httpRequests, m.httpDuration, m.ruleChecks, m.trainingRuns,
		m.trainingEpochs, m.trainingLoss, m.predictions, m.cacheHits, m.storeErrors,
	)
	return m
}

// Handler 返回 /metrics 的 exposition handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) RuleCheck(verdict string) {
	if m == nil {
		return
	}
	m.ruleChecks.WithLabelValues(verdict).Inc()
}

func (m *Metrics) TrainingRun(outcome string) {
	if m == nil {
		return
	}
	m.trainingRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TrainingEpoch(loss float64) {
	if m == nil {
		return
	}
	m.trainingEpochs.Inc()
	m.trainingLoss.Set(loss)
}

func (m *Metrics) Prediction(cached bool) {
	if m == nil {
		return
	}
	m.predictions.Inc()
	if cached {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}
