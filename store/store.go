// Package store implements the Store façade: it binds a WAL, an Index and
// a Retention Sweeper into the four lifecycle operations (Initialize,
// Insert, Query, Shutdown) plus the internal InsertWithoutLog path used by
// the bulk loader. WAL replay during Initialize inserts straight into the
// new Index without logging.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"tsstore/datapoint"
	"tsstore/index"
	"tsstore/retention"
	"tsstore/wal"
)

// Store lifecycle states. Valid transitions are uninitialized -> running
// -> closed. Only a failed Initialize puts a Store back to uninitialized;
// a closed Store never returns to uninitialized in place, a fresh
// instance is constructed instead.
const (
	stateUninitialized uint32 = iota
	stateRunning
	stateClosed
)

const (
	// DefaultRetentionHorizon is the fixed 24h retention window.
	DefaultRetentionHorizon = 24 * time.Hour

	// DefaultSweepPeriod is the fixed 60s sweeper cadence.
	DefaultSweepPeriod = 60 * time.Second

	defaultWALFilename = "timeseries.log"
)

// Store is an embeddable, in-process, tagged time-series store.
type Store struct {
	walPath     string
	horizon     time.Duration
	sweepPeriod time.Duration
	logger      log.Logger
	registerer  prometheus.Registerer
	now         func() time.Time

	state atomic.Uint32

	wal     *wal.WAL
	idx     *index.Index
	sweeper *retention.Sweeper
	metrics *storeMetrics
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithWALPath overrides the default `<cwd>/timeseries.log` WAL location.
func WithWALPath(path string) Option {
	return func(s *Store) { s.walPath = path }
}

// WithRetentionHorizon overrides DefaultRetentionHorizon, primarily for
// tests that don't want to wait 24 hours for eviction to matter.
func WithRetentionHorizon(d time.Duration) Option {
	return func(s *Store) { s.horizon = d }
}

// WithSweepPeriod overrides DefaultSweepPeriod, primarily for tests.
func WithSweepPeriod(d time.Duration) Option {
	return func(s *Store) { s.sweepPeriod = d }
}

// WithLogger attaches a structured logger for replay/rejection diagnostics.
func WithLogger(logger log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithRegisterer attaches a Prometheus registerer for store, WAL and
// sweeper metrics. A nil registerer (the default) disables exposition
// without disabling the counting itself.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Store) { s.registerer = reg }
}

// withClock overrides the Store's notion of "now". Unexported: test-only,
// not part of the public configuration surface.
func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New constructs a Store in the UNINITIALIZED state. Call Initialize before
// Insert or Query.
func New(opts ...Option) *Store {
	s := &Store{
		horizon:     DefaultRetentionHorizon,
		sweepPeriod: DefaultSweepPeriod,
		logger:      log.NewNopLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.walPath == "" {
		s.walPath = defaultWALPath()
	}
	s.metrics = newStoreMetrics(s.registerer)
	return s
}

func defaultWALPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return defaultWALFilename
	}
	return filepath.Join(cwd, defaultWALFilename)
}

// Initialize opens the WAL, replays it into a fresh Index respecting the
// retention cut-off, and schedules the Retention Sweeper. It fails if the
// Store has already been initialized.
func (s *Store) Initialize() error {
	if !s.state.CAS(stateUninitialized, stateRunning) {
		return ErrAlreadyInitialized
	}

	w, err := wal.Open(s.walPath, wal.WithLogger(s.logger), wal.WithRegisterer(s.registerer))
	if err != nil {
		s.state.Store(stateUninitialized)
		return fmt.Errorf("store: open wal: %w", err)
	}

	idx := index.New()
	cutoff := s.cutoffMillis()

	if err := w.Replay(cutoff, func(obs datapoint.Observation) {
		idx.Insert(obs)
	}); err != nil {
		_ = w.Close()
		s.state.Store(stateUninitialized)
		return fmt.Errorf("store: replay wal: %w", err)
	}

	sweeper := retention.New(idx, s.horizon, s.sweepPeriod,
		retention.WithLogger(s.logger),
		retention.WithRegisterer(s.registerer),
	)
	sweeper.Start()

	s.wal = w
	s.idx = idx
	s.sweeper = sweeper
	return nil
}

func (s *Store) cutoffMillis() int64 {
	return s.now().Add(-s.horizon).UnixMilli()
}

// Insert durably records an observation. It rejects observations older
// than the retention horizon and observations that fail to reach the WAL;
// in both cases the Index is left untouched.
func (s *Store) Insert(timestamp int64, metric string, value float64, tags map[string]string) error {
	if timestamp < s.cutoffMillis() {
		s.metrics.insertsRejected.WithLabelValues("retention").Inc()
		return ErrRetentionRejected
	}

	obs := datapoint.Observation{
		Timestamp: timestamp,
		Metric:    metric,
		Value:     value,
		Tags:      datapoint.CloneTags(tags),
	}

	if err := s.wal.Append(obs); err != nil {
		s.metrics.insertsRejected.WithLabelValues("io").Inc()
		level.Warn(s.logger).Log("msg", "insert rejected: wal append failed", "metric", metric, "err", err)
		return fmt.Errorf("store: wal append: %w", err)
	}

	s.idx.Insert(obs)
	s.metrics.insertsAccepted.Inc()
	return nil
}

// InsertWithoutLog inserts directly into the Index, bypassing the WAL. It is
// used by collaborators such as the bulk CSV loader that perform their own
// durability; WAL replay in Initialize does not call it but inserts into
// the Index directly, filtered by the replay cut-off. It still enforces the retention admission rule so callers
// get the same "too old" signal Insert would give them.
func (s *Store) InsertWithoutLog(timestamp int64, metric string, value float64, tags map[string]string) error {
	if timestamp < s.cutoffMillis() {
		return ErrRetentionRejected
	}
	s.idx.Insert(datapoint.Observation{
		Timestamp: timestamp,
		Metric:    metric,
		Value:     value,
		Tags:      datapoint.CloneTags(tags),
	})
	return nil
}

// Query returns every indexed observation for metric whose timestamp falls
// in the half-open interval [start, end) and whose tags are a superset of
// filters. Never fails: an unknown metric or an empty (start,end) range
// yields an empty, non-nil-checked result.
func (s *Store) Query(metric string, start, end int64, filters map[string]string) []datapoint.Observation {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(s.metrics.queryLatency.Observe))
	defer timer.ObserveDuration()

	candidates := s.idx.RangeScan(metric, start, end)
	if len(candidates) == 0 {
		s.metrics.queryResults.Observe(0)
		return nil
	}

	out := make([]datapoint.Observation, 0, len(candidates))
	for _, obs := range candidates {
		if obs.MatchesFilter(filters) {
			out = append(out, obs)
		}
	}
	s.metrics.queryResults.Observe(float64(len(out)))
	return out
}

// Shutdown stops the Sweeper and flushes and closes the WAL. It is a no-op
// if the Store is not RUNNING. A successfully-shut-down Store cannot be
// reused; construct a fresh Store against the same WAL path to re-enter
// UNINITIALIZED.
func (s *Store) Shutdown() error {
	if !s.state.CAS(stateRunning, stateClosed) {
		return nil
	}

	s.sweeper.Stop()

	if err := s.wal.Close(); err != nil {
		level.Error(s.logger).Log("msg", "wal close failed during shutdown", "err", err)
		return fmt.Errorf("store: close wal: %w", err)
	}
	return nil
}
