package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"RewardPool/internal/ledger"
	"RewardPool/internal/model"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reward_pool_build_info",
			Help: "Build information of the reward pool daemon",
		},
		[]string{"version", "commit", "date"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_pool_operations_total",
			Help: "Total number of ledger operations by outcome",
		},
		[]string{"operation", "status"},
	)

	EventAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_pool_event_amount_total",
			Help: "Sum of amounts carried by committed ledger events, in base units",
		},
		[]string{"kind"},
	)

	RewardRemainderTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reward_pool_reward_remainder_total",
			Help: "Reward value retained in the pool because it could not be split evenly or had no contributors",
		},
	)

	CurrentPeriod = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reward_pool_current_period",
			Help: "Id of the open accounting period",
		},
	)

	LastRewardTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reward_pool_last_reward_timestamp_seconds",
			Help: "Unix time of the most recent reward injection",
		},
	)

	OutstandingBalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reward_pool_outstanding_balance",
			Help: "Sum of all withdrawable balances, in base units",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_pool_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reward_pool_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Status classifies a ledger error into a metric label.
func Status(err error) string {
	var rl *ledger.RateLimitError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidParticipant):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrUnauthorized):
		return "unauthorized"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.Is(err, ledger.ErrNothingToWithdraw):
		return "nothing_to_withdraw"
	case errors.Is(err, ledger.ErrIntegrity):
		return "integrity"
	default:
		return "error"
	}
}

// RecordOperation counts one ledger operation and its outcome.
func RecordOperation(op string, err error) {
	OperationsTotal.WithLabelValues(op, Status(err)).Inc()
}

// Sink updates collectors from committed ledger events.
type Sink struct {
	ledger *ledger.Ledger
}

// NewSink returns a sink that also samples gauges from l. l may be nil.
func NewSink(l *ledger.Ledger) *Sink { return &Sink{ledger: l} }

// Attach sets the ledger after construction, for wiring where the sink must
// exist before the ledger does.
func (s *Sink) Attach(l *ledger.Ledger) {
	s.ledger = l
	s.Refresh()
}

func (s *Sink) Emit(_ context.Context, evt model.Event) {
	EventAmountTotal.WithLabelValues(string(evt.Kind)).Add(float64(evt.Amount))
	switch evt.Kind {
	case model.EventRewardDeposited:
		RewardRemainderTotal.Add(float64(evt.Remainder))
		LastRewardTimestamp.Set(float64(evt.At.Unix()))
		CurrentPeriod.Set(float64(evt.Period + 1))
	case model.EventDeposit:
		CurrentPeriod.Set(float64(evt.Period))
	}
}

// Refresh samples gauges that are not derivable from a single event. It must
// not be called from inside Emit, which runs under the ledger lock.
func (s *Sink) Refresh() {
	if s.ledger == nil {
		return
	}
	CurrentPeriod.Set(float64(s.ledger.CurrentPeriod()))
	if ts := s.ledger.LastRewardTimestamp(); !ts.IsZero() {
		LastRewardTimestamp.Set(float64(ts.Unix()))
	}
	if out, err := s.ledger.Outstanding(); err == nil {
		OutstandingBalance.Set(float64(out))
	}
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
