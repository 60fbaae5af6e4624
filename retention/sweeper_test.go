package retention

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeEvictor struct {
	calls       int32
	lastCutoff  int64
	evictReturn int
}

func (f *fakeEvictor) EvictBefore(cutoff int64) int {
	atomic.AddInt32(&f.calls, 1)
	atomic.StoreInt64(&f.lastCutoff, cutoff)
	return f.evictReturn
}

func TestSweeperRunsPeriodically(t *testing.T) {
	ev := &fakeEvictor{evictReturn: 3}
	s := New(ev, time.Hour, 10*time.Millisecond)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ev.calls) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestSweeperUsesHorizonRelativeCutoff(t *testing.T) {
	fixedNow := time.Unix(1_700_000_000, 0)
	ev := &fakeEvictor{}
	s := New(ev, 24*time.Hour, 10*time.Millisecond, withClock(func() time.Time { return fixedNow }))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ev.calls) >= 1
	}, time.Second, 5*time.Millisecond)

	wantCutoff := fixedNow.Add(-24 * time.Hour).UnixMilli()
	require.Equal(t, wantCutoff, atomic.LoadInt64(&ev.lastCutoff))
}

func TestSweeperStopIsPromptAndIdempotent(t *testing.T) {
	ev := &fakeEvictor{}
	s := New(ev, time.Hour, time.Minute)
	s.Start()

	start := time.Now()
	s.Stop()
	require.Less(t, time.Since(start), 5*time.Second)

	s.Stop() // must not panic or block
}

func TestSweeperStopWithoutStart(t *testing.T) {
	ev := &fakeEvictor{}
	s := New(ev, time.Hour, time.Minute)
	s.Stop() // must not block
}
