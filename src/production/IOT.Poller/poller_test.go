package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
)

// fakeClock hands out tickers that only fire when the test advances time
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	clock   *fakeClock
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: t0}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{clock: c, period: d, next: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}

// Advance moves time forward, firing every running ticker whose deadline passed.
// Like time.Ticker, a ticker holds at most one undelivered tick.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.tickers {
		for !t.stopped && !t.next.After(c.now) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

func (c *fakeClock) running() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.tickers {
		if !t.stopped {
			out = append(out, t.period)
		}
	}
	return out
}

// countingFetcher answers immediately with a scripted result
type countingFetcher struct {
	mu       sync.Mutex
	calls    []int
	readings []hardware_models.Reading
	err      error
}

func (f *countingFetcher) FetchHistory(_ context.Context, deviceID int) ([]hardware_models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, deviceID)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]hardware_models.Reading, len(f.readings))
	copy(out, f.readings)
	return out, nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *countingFetcher) set(readings []hardware_models.Reading, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = readings
	f.err = err
}

// pendingFetch is one FetchHistory call waiting for the test to answer it
type pendingFetch struct {
	deviceID int
	ctx      context.Context
	reply    chan fetchReply
}

type fetchReply struct {
	readings []hardware_models.Reading
	err      error
}

func (p *pendingFetch) respond(readings []hardware_models.Reading, err error) {
	p.reply <- fetchReply{readings, err}
}

// manualFetcher blocks every call until the test responds to it
type manualFetcher struct {
	calls chan *pendingFetch
}

func newManualFetcher() *manualFetcher {
	return &manualFetcher{calls: make(chan *pendingFetch, 64)}
}

func (f *manualFetcher) FetchHistory(ctx context.Context, deviceID int) ([]hardware_models.Reading, error) {
	call := &pendingFetch{deviceID: deviceID, ctx: ctx, reply: make(chan fetchReply, 1)}
	f.calls <- call
	r := <-call.reply
	return r.readings, r.err
}

func (f *manualFetcher) next(t *testing.T) *pendingFetch {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fetch")
		return nil
	}
}

func (f *manualFetcher) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected fetch for device %d", c.deviceID)
	case <-time.After(50 * time.Millisecond):
	}
}

// snapshotRecorder collects applied snapshots
type snapshotRecorder struct {
	ch chan Snapshot
}

func newRecorder(p *Poller) *snapshotRecorder {
	r := &snapshotRecorder{ch: make(chan Snapshot, 64)}
	p.AddObserver(ObserverFunc(func(s Snapshot) { r.ch <- s }))
	return r
}

func (r *snapshotRecorder) next(t *testing.T) Snapshot {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("expected a snapshot")
		return Snapshot{}
	}
}

func (r *snapshotRecorder) assertNone(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.ch:
		t.Fatalf("unexpected snapshot with %d readings", len(s.Series))
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFetches(t *testing.T, f *countingFetcher, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.count() >= n }, 2*time.Second, time.Millisecond, "waiting for %d fetches", n)
	// give a stray extra fetch a chance to show up
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, n, f.count())
}

func newTestPoller(f Fetcher, clock Clock) *Poller {
	return New(f, logger.Nop(), Options{Clock: clock})
}

func TestPoller_StartsIdle(t *testing.T) {
	p := newTestPoller(&countingFetcher{}, newFakeClock())
	assert.Equal(t, StateIdle, p.State())

	snap := p.Snapshot()
	assert.Equal(t, DefaultRate, snap.RefreshRate)
	assert.Nil(t, snap.Latest)
	assert.Nil(t, snap.LastUpdated)
}

func TestPoller_ImmediateFetchThenEveryInterval(t *testing.T) {
	clock := newFakeClock()
	f := &countingFetcher{}
	p := newTestPoller(f, clock)
	defer p.Stop()

	require.NoError(t, p.Start(1, Rate5s))
	assert.Equal(t, StatePolling, p.State())
	waitFetches(t, f, 1)

	clock.Advance(4 * time.Second)
	waitFetches(t, f, 1)

	for i := 2; i <= 4; i++ {
		clock.Advance(Rate5s.Duration())
		waitFetches(t, f, i)
	}
}

func TestPoller_TickSortsAndReplacesSeries(t *testing.T) {
	clock := newFakeClock()
	f := &countingFetcher{}
	f.set([]hardware_models.Reading{reading(3, 30, 60), reading(1, 10, 80), reading(2, 20, 70)}, nil)
	p := newTestPoller(f, clock)
	rec := newRecorder(p)
	defer p.Stop()

	require.NoError(t, p.Start(1, Rate1s))
	snap := rec.next(t)
	require.Len(t, snap.Series, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{snap.Series[0].ID, snap.Series[1].ID, snap.Series[2].ID})
	require.NotNil(t, snap.Latest)
	assert.Equal(t, 3, snap.Latest.ID)
	assert.Equal(t, Gauge{Level: 60, Empty: 40}, snap.Gauge)
	require.NotNil(t, snap.LastUpdated)
	assert.True(t, snap.LastUpdated.Equal(t0))
	assert.False(t, snap.Loading)

	// The next tick replaces rather than merges
	f.set([]hardware_models.Reading{reading(9, 90, 15)}, nil)
	clock.Advance(time.Second)
	snap = rec.next(t)
	require.Len(t, snap.Series, 1)
	assert.Equal(t, 9, snap.Series[0].ID)
	assert.Equal(t, Gauge{Level: 15, Empty: 85, Critical: true}, snap.Gauge)
	assert.True(t, snap.LastUpdated.Equal(t0.Add(time.Second)))
	assert.Equal(t, uint64(2), snap.Ticks)
}

func TestPoller_EmptyResponse(t *testing.T) {
	f := &countingFetcher{readings: []hardware_models.Reading{}}
	p := newTestPoller(f, newFakeClock())
	rec := newRecorder(p)
	defer p.Stop()

	require.NoError(t, p.Start(1, Rate5s))
	snap := rec.next(t)

	assert.Empty(t, snap.Series)
	assert.Nil(t, snap.Latest)
	assert.Len(t, snap.Recent, 0)
	assert.Equal(t, Gauge{Level: 0, Empty: 100, Critical: false}, snap.Gauge)
	assert.NotNil(t, snap.LastUpdated)
}

func TestPoller_FailedTickKeepsPreviousSeries(t *testing.T) {
	clock := newFakeClock()
	f := &countingFetcher{readings: []hardware_models.Reading{reading(1, 1, 50), reading(2, 2, 55)}}
	p := newTestPoller(f, clock)
	rec := newRecorder(p)
	defer p.Stop()

	require.NoError(t, p.Start(1, Rate1s))
	good := rec.next(t)
	require.Len(t, good.Series, 2)

	f.set(nil, errors.New("connection refused"))
	clock.Advance(time.Second)
	waitFetches(t, f, 2)
	rec.assertNone(t)

	snap := p.Snapshot()
	assert.Equal(t, good.Series, snap.Series)
	assert.Equal(t, good.LastUpdated, snap.LastUpdated)
	assert.Equal(t, uint64(1), snap.Failures)
	assert.Equal(t, StatePolling, snap.State)

	// and keeps polling
	f.set([]hardware_models.Reading{reading(3, 3, 60)}, nil)
	clock.Advance(time.Second)
	snap = rec.next(t)
	assert.Len(t, snap.Series, 1)
}

func TestPoller_FailedFirstFetchClearsLoading(t *testing.T) {
	f := &countingFetcher{err: errors.New("boom")}
	p := newTestPoller(f, newFakeClock())
	defer p.Stop()

	require.NoError(t, p.Start(1, Rate5s))
	assert.Eventually(t, func() bool { return !p.Snapshot().Loading }, time.Second, time.Millisecond)
	assert.Empty(t, p.Snapshot().Series)
}

func TestPoller_StopPreventsFurtherFetches(t *testing.T) {
	clock := newFakeClock()
	f := &countingFetcher{}
	p := newTestPoller(f, clock)

	require.NoError(t, p.Start(1, Rate1s))
	waitFetches(t, f, 1)

	p.Stop()
	assert.Equal(t, StateStopped, p.State())
	assert.Empty(t, clock.running())

	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
	}
	waitFetches(t, f, 1)
}

func TestPoller_StopWithTickPending(t *testing.T) {
	clock := newFakeClock()
	f := newManualFetcher()
	p := newTestPoller(f, clock)
	rec := newRecorder(p)

	require.NoError(t, p.Start(1, Rate1s))
	first := f.next(t)
	first.respond([]hardware_models.Reading{reading(1, 1, 50)}, nil)
	rec.next(t)

	// A tick is due and its fetch is in flight when the view unmounts
	clock.Advance(time.Second)
	inflight := f.next(t)
	p.Stop()

	assert.Error(t, inflight.ctx.Err(), "in-flight fetch is cancelled")
	inflight.respond([]hardware_models.Reading{reading(2, 2, 10)}, nil)
	rec.assertNone(t)
	assert.Len(t, p.Snapshot().Series, 1)

	clock.Advance(time.Second)
	f.assertNoCall(t)
}

func TestPoller_RestartNeverRunsTwoTimers(t *testing.T) {
	clock := newFakeClock()
	f := &countingFetcher{}
	p := newTestPoller(f, clock)
	defer p.Stop()

	require.NoError(t, p.Start(1, Rate5s))
	require.NoError(t, p.SetRefreshRate(Rate3s))
	require.NoError(t, p.SetRefreshRate(Rate10s))
	require.NoError(t, p.Start(1, Rate1s))
	assert.Equal(t, []time.Duration{time.Second}, clock.running())

	// one immediate fetch per (re)start
	waitFetches(t, f, 4)

	// then exactly one fetch per second
	for i := 5; i <= 9; i++ {
		clock.Advance(time.Second)
		waitFetches(t, f, i)
	}
}

func TestPoller_RateChangeFiveToOne(t *testing.T) {
	clock := newFakeClock()
	f := &countingFetcher{}
	p := newTestPoller(f, clock)
	defer p.Stop()

	require.NoError(t, p.Start(1, Rate5s))
	waitFetches(t, f, 1)
	clock.Advance(3 * time.Second)
	waitFetches(t, f, 1)

	require.NoError(t, p.SetRefreshRate(Rate1s))
	assert.Equal(t, []time.Duration{time.Second}, clock.running())
	waitFetches(t, f, 2)
	assert.Equal(t, Rate1s, p.Snapshot().RefreshRate)

	// the old 5s deadline (2s from now) passes without an extra fetch
	for i := 3; i <= 7; i++ {
		clock.Advance(time.Second)
		waitFetches(t, f, i)
	}
}

func TestPoller_RateChangeKeepsSeries(t *testing.T) {
	f := &countingFetcher{readings: []hardware_models.Reading{reading(1, 1, 50)}}
	p := newTestPoller(f, newFakeClock())
	rec := newRecorder(p)
	defer p.Stop()

	require.NoError(t, p.Start(1, Rate5s))
	rec.next(t)

	f.set(nil, errors.New("slow backend"))
	require.NoError(t, p.SetRefreshRate(Rate1s))
	waitFetches(t, f, 2)
	snap := p.Snapshot()
	assert.Len(t, snap.Series, 1)
	assert.False(t, snap.Loading)
}

func TestPoller_SetRefreshRateWhileIdleOnlyRecords(t *testing.T) {
	clock := newFakeClock()
	f := &countingFetcher{}
	p := newTestPoller(f, clock)

	require.NoError(t, p.SetRefreshRate(Rate10s))
	assert.Equal(t, StateIdle, p.State())
	assert.Empty(t, clock.running())
	assert.Zero(t, f.count())
	assert.Equal(t, Rate10s, p.Snapshot().RefreshRate)

	assert.Error(t, p.SetRefreshRate(RefreshRate(2*time.Second)))
}

func TestPoller_SetDeviceSwitchesAndResets(t *testing.T) {
	clock := newFakeClock()
	f := &countingFetcher{readings: []hardware_models.Reading{reading(1, 1, 50)}}
	p := newTestPoller(f, clock)
	rec := newRecorder(p)
	defer p.Stop()

	require.NoError(t, p.Start(1, Rate3s))
	rec.next(t)

	f.set(nil, errors.New("not yet"))
	require.NoError(t, p.SetDevice(2))
	waitFetches(t, f, 2)

	snap := p.Snapshot()
	assert.Equal(t, 2, snap.DeviceID)
	assert.Equal(t, Rate3s, snap.RefreshRate)
	assert.Empty(t, snap.Series, "series belongs to the previous device")

	f.mu.Lock()
	assert.Equal(t, []int{1, 2}, f.calls)
	f.mu.Unlock()
}

func TestPoller_StartValidatesArguments(t *testing.T) {
	p := newTestPoller(&countingFetcher{}, newFakeClock())
	assert.Error(t, p.Start(0, Rate5s))
	assert.Error(t, p.Start(1, RefreshRate(time.Minute)))
	assert.Equal(t, StateIdle, p.State())
}

func TestPoller_DiscardsOutOfOrderResponses(t *testing.T) {
	clock := newFakeClock()
	f := newManualFetcher()
	p := newTestPoller(f, clock)
	rec := newRecorder(p)
	defer p.Stop()

	require.NoError(t, p.Start(1, Rate1s))
	f.next(t).respond([]hardware_models.Reading{reading(1, 1, 50)}, nil)
	rec.next(t)

	// tick 2 is slow, tick 3 overtakes it
	clock.Advance(time.Second)
	slow := f.next(t)
	clock.Advance(time.Second)
	fast := f.next(t)

	fast.respond([]hardware_models.Reading{reading(1, 1, 50), reading(2, 2, 40), reading(3, 3, 30)}, nil)
	snap := rec.next(t)
	assert.Len(t, snap.Series, 3)

	slow.respond([]hardware_models.Reading{reading(1, 1, 50), reading(2, 2, 40)}, nil)
	rec.assertNone(t)
	assert.Len(t, p.Snapshot().Series, 3)
}

func TestPoller_OverlappingFetchesBothIssued(t *testing.T) {
	clock := newFakeClock()
	f := newManualFetcher()
	p := newTestPoller(f, clock)
	defer p.Stop()

	require.NoError(t, p.Start(1, Rate1s))
	first := f.next(t)

	// the first fetch has not returned but the schedule keeps going
	clock.Advance(time.Second)
	second := f.next(t)
	assert.Equal(t, uint64(2), p.Snapshot().Ticks)

	first.respond(nil, nil)
	second.respond(nil, nil)
}

func TestPoller_ShutdownWaitsForInflight(t *testing.T) {
	f := newManualFetcher()
	p := newTestPoller(f, newFakeClock())

	require.NoError(t, p.Start(1, Rate5s))
	call := f.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	call.respond(nil, context.Canceled)
	assert.NoError(t, p.Shutdown(context.Background()))
}
