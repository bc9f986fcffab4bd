// Package metrics provides Prometheus instrumentation for the simulator.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts order status changes, partitioned by resulting status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simx_orders_total",
		Help: "Order status transitions by resulting status",
	}, []string{"status"})

	// RejectionsTotal counts orders refused at acceptance, by reason code.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simx_order_rejections_total",
		Help: "Orders rejected at acceptance by reason code",
	}, []string{"code"})

	// RiskRejections counts orders denied by the risk manager, by rule.
	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simx_risk_rejections_total",
		Help: "Orders denied by the risk manager",
	}, []string{"reason"})

	// UnfundedCancels counts buy remainders withdrawn because the order's
	// reservation and free cash no longer cover a lot.
	UnfundedCancels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simx_unfunded_cancels_total",
		Help: "Partially filled buy orders cancelled for lack of funds",
	})

	// FillsTotal counts executions by side.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simx_fills_total",
		Help: "Total number of fills executed",
	}, []string{"side"})

	// FillVolume tracks cumulative filled shares per symbol and side.
	FillVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simx_fill_volume_shares_total",
		Help: "Cumulative filled volume in shares",
	}, []string{"symbol", "side"})

	// FeesPaid tracks cumulative costs by component.
	FeesPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simx_fees_paid_total",
		Help: "Cumulative commission and levies paid",
	}, []string{"kind"})

	// RestingOrders tracks limit orders waiting in the queues.
	RestingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simx_resting_orders",
		Help: "Number of open limit orders in the queues",
	})

	// EventLatency tracks the per-event cycle duration by controller mode.
	EventLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "simx_event_latency_seconds",
		Help:    "Market event processing latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"mode"})

	// EventsProcessed counts market events driven through the engine.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simx_events_processed_total",
		Help: "Market events processed by controller mode",
	}, []string{"mode"})

	// ControllerState is 1 for the controller's current state, 0 otherwise.
	ControllerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "simx_controller_state",
		Help: "Simulation controller state",
	}, []string{"state"})

	// PersistenceFailures counts recoverable store errors by operation.
	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simx_persistence_failures_total",
		Help: "Store writes that failed and were skipped",
	}, []string{"op"})

	// MarketDataErrors counts failed quote or bar fetches.
	MarketDataErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simx_market_data_errors_total",
		Help: "Market data fetches that failed",
	})

	// BackupsTotal counts backup attempts by result.
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simx_backups_total",
		Help: "Database backups by result",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventsPublished counts events handed to the event stream, by topic and result.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simx_events_published_total",
		Help: "Order and trade events published",
	}, []string{"topic", "result"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "simx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// SetControllerState flips the state gauge to state.
func SetControllerState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		ControllerState.WithLabelValues(s).Set(v)
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps label cardinality bounded (/orders/{orderID}).
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
