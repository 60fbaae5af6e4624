// Package index implements a concurrent, time-ordered Index: metric ->
// ordered-by-timestamp map -> bucket of observations sharing that
// timestamp.
//
// Concurrency model: metrics are sharded by an FNV-1a hash over a fixed
// shard count, each shard independently lockable, rather than layering a
// lock-free structure underneath a second global lock. One mechanism,
// not two.
package index

import (
	"hash/fnv"
	"sync"

	"github.com/benbjohnson/immutable"

	"tsstore/datapoint"
)

// numShards partitions metrics across independent locks. A fixed count is
// enough here: the number of distinct metric names in an observability
// workload is small relative to the number of concurrent callers, so
// striping by metric already spreads contention well.
const numShards = 32

type bucket struct {
	points []datapoint.Observation
}

type shard struct {
	mu      sync.RWMutex
	metrics map[string]*immutable.SortedMap[int64, *bucket]
}

// Index is the concurrent, time-ordered store of Observations owned by the
// Store façade.
type Index struct {
	shards [numShards]*shard
}

// New returns an empty Index.
func New() *Index {
	idx := &Index{}
	for i := range idx.shards {
		idx.shards[i] = &shard{metrics: make(map[string]*immutable.SortedMap[int64, *bucket])}
	}
	return idx
}

func (idx *Index) shardFor(metric string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(metric))
	return idx.shards[h.Sum32()%numShards]
}

// Insert adds obs to the index under its own metric and timestamp. If
// another observation already shares that (metric, timestamp), obs is
// appended to that bucket, preserving insertion order within the bucket;
// it is never deduplicated against (duplicates are permitted).
func (idx *Index) Insert(obs datapoint.Observation) {
	s := idx.shardFor(obs.Metric)
	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.metrics[obs.Metric]
	if !ok {
		series = &immutable.SortedMap[int64, *bucket]{}
	}

	if b, found := series.Get(obs.Timestamp); found {
		b.points = append(b.points, obs)
	} else {
		series = series.Set(obs.Timestamp, &bucket{points: []datapoint.Observation{obs}})
	}
	s.metrics[obs.Metric] = series
}

// RangeScan returns, in timestamp-ascending order with insertion order
// preserved within a timestamp, every observation for metric whose
// timestamp falls in the half-open interval [start, end). It returns nil
// if the metric is unknown or the interval is empty.
//
// The result is a materialized snapshot: the shard lock is held only while
// walking the persistent map, so a concurrent sweep or insert can never
// produce a torn or partially-deleted bucket in the returned slice.
func (idx *Index) RangeScan(metric string, start, end int64) []datapoint.Observation {
	if end <= start {
		return nil
	}

	s := idx.shardFor(metric)
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.metrics[metric]
	if !ok {
		return nil
	}

	var out []datapoint.Observation
	iter := series.Iterator()
	iter.Seek(start)
	for !iter.Done() {
		ts, b, ok := iter.Next()
		if !ok {
			break
		}
		if ts >= end {
			break
		}
		out = append(out, b.points...)
	}
	return out
}

// EvictBefore deletes every observation across every metric whose
// timestamp is strictly less than cutoff. Each shard is locked
// independently and only for the duration of its own sweep, so a long
// sweep over one shard never blocks readers of another.
func (idx *Index) EvictBefore(cutoff int64) (evicted int) {
	for _, s := range idx.shards {
		s.mu.Lock()
		for metric, series := range s.metrics {
			iter := series.Iterator()
			iter.First()

			var stale []int64
			for !iter.Done() {
				ts, b, ok := iter.Next()
				if !ok || ts >= cutoff {
					break
				}
				evicted += len(b.points)
				stale = append(stale, ts)
			}
			for _, ts := range stale {
				series = series.Delete(ts)
			}
			if series.Len() == 0 {
				delete(s.metrics, metric)
			} else {
				s.metrics[metric] = series
			}
		}
		s.mu.Unlock()
	}
	return evicted
}
