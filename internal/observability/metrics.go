package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver so callers
// need not check whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	eventsTotal   *prometheus.CounterVec
	handlerTotal  *prometheus.CounterVec
	handlerTime   *prometheus.HistogramVec
	writesTotal   *prometheus.CounterVec
	staleRebased  prometheus.Counter
	queueDepth    prometheus.Gauge
	redisUp       prometheus.Gauge
	redisPingTime prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ht_api_requests_total",
			Help: "Webhook and health requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ht_api_request_duration_seconds",
			Help:    "Request latency in seconds by method/route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ht_trigger_events_total",
			Help: "Trigger events by kind/outcome.",
		}, []string{"kind", "outcome"}),
		handlerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ht_trigger_handler_total",
			Help: "Handler invocations by handler/status.",
		}, []string{"handler", "status"}),
		handlerTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ht_trigger_handler_duration_seconds",
			Help:    "Handler duration including applied writes.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
		}, []string{"handler"}),
		writesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ht_trigger_writes_total",
			Help: "Pending writes by handler/outcome (applied, skipped).",
		}, []string{"handler", "outcome"}),
		staleRebased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ht_trigger_stale_events_total",
			Help: "Document events rebased on the current document because a newer version was already processed.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ht_trigger_queue_depth",
			Help: "Events waiting in the in-process bus.",
		}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ht_redis_up",
			Help: "1 when the last redis ping succeeded.",
		}),
		redisPingTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ht_redis_ping_seconds",
			Help: "Latency of the last redis ping.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency,
		m.eventsTotal, m.handlerTotal, m.handlerTime, m.writesTotal, m.staleRebased,
		m.queueDepth, m.redisUp, m.redisPingTime,
	)
	return m
}

// Handler serves the Prometheus exposition.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ObserveEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveHandler(handler, status string, dur time.Duration, applied, skipped int) {
	if m == nil {
		return
	}
	m.handlerTotal.WithLabelValues(handler, status).Inc()
	m.handlerTime.WithLabelValues(handler).Observe(dur.Seconds())
	if applied > 0 {
		m.writesTotal.WithLabelValues(handler, "applied").Add(float64(applied))
	}
	if skipped > 0 {
		m.writesTotal.WithLabelValues(handler, "skipped").Add(float64(skipped))
	}
}

func (m *Metrics) IncStaleEvent() {
	if m == nil {
		return
	}
	m.staleRebased.Inc()
}

// StartQueueDepthCollector samples depth every interval until ctx is done.
func (m *Metrics) StartQueueDepthCollector(ctx context.Context, interval time.Duration, depth func() int) {
	if m == nil || depth == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.queueDepth.Set(float64(depth()))
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string, interval time.Duration) {
	if m == nil || addr == "" {
		return
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPingTime.Set(time.Since(start).Seconds())
			}
		}
	}()
}
