package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pokersync"

// Metrics holds every collector the server exports. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	activeConnections prometheus.Gauge
	activeRooms       prometheus.Gauge
	connectionsClosed *prometheus.CounterVec
	events            *prometheus.CounterVec
	broadcasts        prometheus.Counter
	droppedPushes     prometheus.Counter
	heartbeatTimeouts prometheus.Counter

	cacheLookups  *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_active_connections",
			Help:      "Admitted websocket connections.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_active_rooms",
			Help:      "Rooms with a running actor.",
		}),
		connectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_connections_closed_total",
			Help:      "Closed websocket connections by close code.",
		}, []string{"code"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_events_total",
			Help:      "Inbound events by type and outcome.",
		}, []string{"event", "outcome"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_broadcasts_total",
			Help:      "Room updates fanned out.",
		}),
		droppedPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_dropped_pushes_total",
			Help:      "Pushes that failed because a send buffer was full or closed.",
		}),
		heartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_heartbeat_timeouts_total",
			Help:      "Connections closed for missing a pong.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_cache_lookups_total",
			Help:      "Room cache lookups by result.",
		}, []string{"result"}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "room_store_duration_seconds",
			Help:      "Durable storage latency by operation.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpRequestDuration,
		m.activeConnections,
		m.activeRooms,
		m.connectionsClosed,
		m.events,
		m.broadcasts,
		m.droppedPushes,
		m.heartbeatTimeouts,
		m.cacheLookups,
		m.storeDuration,
	)

	return m
}

// Handler exposes the registry at /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordHTTP(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) ConnectionAdmitted() {
	m.activeConnections.Inc()
}

func (m *Metrics) ConnectionRemoved() {
	m.activeConnections.Dec()
}

func (m *Metrics) ConnectionClosed(code int) {
	m.connectionsClosed.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) RoomOpened() {
	m.activeRooms.Inc()
}

func (m *Metrics) RoomReleased() {
	m.activeRooms.Dec()
}

func (m *Metrics) Event(event, outcome string) {
	m.events.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) Broadcast() {
	m.broadcasts.Inc()
}

func (m *Metrics) DroppedPush() {
	m.droppedPushes.Inc()
}

func (m *Metrics) HeartbeatTimeout() {
	m.heartbeatTimeouts.Inc()
}

func (m *Metrics) CacheHit() {
	m.cacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) ObserveStore(operation string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.storeDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}
