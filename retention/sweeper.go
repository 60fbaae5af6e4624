// Package retention implements a background sweeper: a periodic task that
// evicts observations older than a retention horizon from an Index.
//
// The supervising goroutine pairs a time.Ticker with a done channel
// observed in the same select, so Stop is prompt rather than waiting out
// a full period.
package retention

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Evictor is the capability the Sweeper needs from the Index: delete
// everything strictly older than cutoff and report how much was removed.
type Evictor interface {
	EvictBefore(cutoff int64) (evicted int)
}

// Sweeper runs a periodic eviction pass against an Evictor.
type Sweeper struct {
	evictor  Evictor
	horizon  time.Duration
	period   time.Duration
	now      func() time.Time
	logger   log.Logger
	passes   prometheus.Counter
	evicted  prometheus.Counter
	lastScan prometheus.Gauge

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Sweeper at construction time.
type Option func(*Sweeper)

// WithLogger attaches a structured logger for sweep diagnostics.
func WithLogger(logger log.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// WithRegisterer attaches a Prometheus registerer for sweeper metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Sweeper) {
		s.passes = promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tsstore_retention_sweeps_total",
			Help: "Number of retention sweep passes completed.",
		})
		s.evicted = promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tsstore_retention_evicted_total",
			Help: "Number of observations evicted by retention sweeps.",
		})
		s.lastScan = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "tsstore_retention_last_sweep_unix_seconds",
			Help: "Unix time of the most recently completed retention sweep.",
		})
	}
}

// withClock overrides the sweeper's notion of "now", for deterministic
// tests. Unexported: not part of the public configuration surface.
func withClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New returns a Sweeper that, once Start is called, evicts observations
// older than horizon from evictor every period.
func New(evictor Evictor, horizon, period time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		evictor: evictor,
		horizon: horizon,
		period:  period,
		now:     time.Now,
		logger:  log.NewNopLogger(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.passes == nil {
		// No registerer supplied; keep counters live but unexposed so call
		// sites never need a nil check.
		WithRegisterer(nil)(s)
	}
	return s
}

// Start schedules the first sweep `period` from now and continues firing
// every period until Stop is called. Errors during a sweep are logged and
// swallowed; the next tick always retries.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce()
			case <-s.done:
				return
			}
		}
	}()
}

func (s *Sweeper) runOnce() {
	cutoff := s.now().Add(-s.horizon).UnixMilli()

	evicted := s.evictor.EvictBefore(cutoff)

	s.passes.Inc()
	s.evicted.Add(float64(evicted))
	s.lastScan.Set(float64(s.now().Unix()))

	if evicted > 0 {
		level.Debug(s.logger).Log("msg", "retention sweep evicted observations", "count", evicted, "cutoff", cutoff)
	}
}

// Stop signals the sweeper goroutine to exit and waits for it to do so.
// Safe to call even if Start was never called.
func (s *Sweeper) Stop() {
	select {
	case <-s.done:
		// already stopped
		return
	default:
		close(s.done)
	}
	s.wg.Wait()
}
