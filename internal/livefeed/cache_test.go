package livefeed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/NewsLens/internal/logger"
	"github.com/LJTian/NewsLens/internal/news"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingLoader struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	err     error
	empty   bool
}

func (l *countingLoader) Load(context.Context) ([]news.HeadlineItem, error) {
	n := l.calls.Add(1)
	if l.started != nil {
		l.started <- struct{}{}
	}
	if l.gate != nil {
		<-l.gate
	}
	if l.err != nil {
		return nil, l.err
	}
	if l.empty {
		return nil, nil
	}
	return []news.HeadlineItem{{
		Headline:  "Live headline number " + string(rune('0'+n)),
		Category:  "general",
		Sentiment: news.Neutral,
		Timestamp: time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC),
	}}, nil
}

// ctxLoader 放行后若 ctx 已被取消，只返回部分结果
type ctxLoader struct {
	gate     chan struct{}
	started  chan struct{}
	canceled atomic.Bool
}

func (l *ctxLoader) Load(ctx context.Context) ([]news.HeadlineItem, error) {
	l.started <- struct{}{}
	<-l.gate
	items := []news.HeadlineItem{{Headline: "Fast source headline"}}
	if ctx.Err() != nil {
		l.canceled.Store(true)
		return items, nil
	}
	return append(items, news.HeadlineItem{Headline: "Slow source headline"}), nil
}

func TestGetWithinTTLReturnsSameSnapshot(t *testing.T) {
	clk := newClock()
	l := &countingLoader{}
	c := New(l, 30*time.Minute, logger.Discard(), WithClock(clk.Now))
	ctx := context.Background()

	require.Equal(t, StateIdle, c.Status().State)
	require.Equal(t, "Ready", c.Status().Message)

	first, fromCache, err := c.Get(ctx, false)
	require.NoError(t, err)
	require.False(t, fromCache)
	require.Len(t, first.Headlines, 1)

	clk.Advance(10 * time.Minute)
	second, fromCache, err := c.Get(ctx, false)
	require.NoError(t, err)
	require.True(t, fromCache)
	require.Equal(t, first.FetchedAt, second.FetchedAt)
	require.EqualValues(t, 1, l.calls.Load())

	clk.Advance(time.Second)
	forced, fromCache, err := c.Get(ctx, true)
	require.NoError(t, err)
	require.False(t, fromCache)
	require.True(t, forced.FetchedAt.After(second.FetchedAt))
	require.EqualValues(t, 2, l.calls.Load())

	st := c.Status()
	require.Equal(t, StateReady, st.State)
	require.Equal(t, "1 headlines available", st.Message)
}

func TestGetExpiredRefetches(t *testing.T) {
	clk := newClock()
	l := &countingLoader{}
	c := New(l, 30*time.Minute, logger.Discard(), WithClock(clk.Now))

	_, _, err := c.Get(context.Background(), false)
	require.NoError(t, err)
	clk.Advance(31 * time.Minute)
	_, fromCache, err := c.Get(context.Background(), false)
	require.NoError(t, err)
	require.False(t, fromCache)
	require.EqualValues(t, 2, l.calls.Load())
}

func TestFailedRefreshKeepsSnapshot(t *testing.T) {
	clk := newClock()
	l := &countingLoader{}
	c := New(l, 30*time.Minute, logger.Discard(), WithClock(clk.Now))

	good, err := c.Refresh(context.Background())
	require.NoError(t, err)

	l.empty = true
	clk.Advance(time.Minute)
	got, err := c.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoHeadlines)
	require.Equal(t, good.FetchedAt, got.FetchedAt)
	require.Equal(t, StateError, c.Status().State)
	require.Equal(t, "No headlines found", c.Status().Message)

	l.empty = false
	l.err = errors.New("upstream down")
	_, err = c.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, "upstream down", c.Status().Message)
	require.Equal(t, good.FetchedAt, c.Snapshot().FetchedAt)
}

func TestConcurrentRefreshRunsOneFetch(t *testing.T) {
	l := &countingLoader{gate: make(chan struct{}), started: make(chan struct{}, 4)}
	c := New(l, time.Minute, logger.Discard())

	var wg sync.WaitGroup
	results := make([]Snapshot, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = c.Refresh(context.Background())
	}()
	<-l.started
	require.Equal(t, StateFetching, c.Status().State)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = c.Refresh(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(l.gate)
	wg.Wait()

	require.EqualValues(t, 1, l.calls.Load())
	require.Equal(t, results[0].FetchedAt, results[1].FetchedAt)
}

func TestRefreshAsyncIsNoOpWhileRunning(t *testing.T) {
	l := &countingLoader{gate: make(chan struct{}), started: make(chan struct{}, 4)}
	c := New(l, time.Minute, logger.Discard())

	require.True(t, c.RefreshAsync(context.Background()))
	<-l.started
	require.False(t, c.RefreshAsync(context.Background()))
	require.True(t, c.Refreshing())

	close(l.gate)
	require.Eventually(t, func() bool { return !c.Refreshing() }, time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, l.calls.Load())
	require.Len(t, c.Snapshot().Headlines, 1)
}

func TestCancelledReaderDoesNotTruncateFetch(t *testing.T) {
	l := &ctxLoader{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := New(l, time.Minute, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, _, err := c.Get(ctx, false)
		errc <- err
	}()
	<-l.started
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
	require.Equal(t, StateFetching, c.Status().State)

	close(l.gate)
	require.Eventually(t, func() bool { return c.Status().State == StateReady }, time.Second, 10*time.Millisecond)
	require.False(t, l.canceled.Load())

	snap, fromCache, err := c.Get(context.Background(), false)
	require.NoError(t, err)
	require.True(t, fromCache)
	require.Len(t, snap.Headlines, 2)
}

func TestRefreshAsyncDuringForegroundFetch(t *testing.T) {
	l := &countingLoader{gate: make(chan struct{}), started: make(chan struct{}, 4)}
	c := New(l, time.Minute, logger.Discard())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Refresh(context.Background())
	}()
	<-l.started
	require.False(t, c.RefreshAsync(context.Background()))
	require.False(t, c.Refreshing())

	close(l.gate)
	<-done
	require.EqualValues(t, 1, l.calls.Load())
}

func TestRedisMirrorWarm(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clk := newClock()
	mirror := NewRedisMirror(rdb)
	c := New(&countingLoader{}, 30*time.Minute, logger.Discard(), WithClock(clk.Now), WithMirror(mirror))
	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, mr.TTL(snapshotKey))
	require.True(t, mr.Exists(statusKey))

	l := &countingLoader{}
	restarted := New(l, 30*time.Minute, logger.Discard(), WithClock(clk.Now), WithMirror(mirror))
	require.True(t, restarted.Warm(context.Background()))
	require.Equal(t, StateReady, restarted.Status().State)

	got, fromCache, err := restarted.Get(context.Background(), false)
	require.NoError(t, err)
	require.True(t, fromCache)
	require.True(t, snap.FetchedAt.Equal(got.FetchedAt))
	require.Equal(t, snap.Headlines[0].Headline, got.Headlines[0].Headline)
	require.EqualValues(t, 0, l.calls.Load())
}

func TestWarmWithoutMirror(t *testing.T) {
	c := New(&countingLoader{}, time.Minute, logger.Discard())
	require.False(t, c.Warm(context.Background()))
	require.Equal(t, StateIdle, c.Status().State)
}
