package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
)

// State is the lifecycle state of a Poller
type State int

const (
	StateIdle State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePolling:
		return "POLLING"
	case StateStopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Fetcher returns a device's full reading history in any order
type Fetcher interface {
	FetchHistory(ctx context.Context, deviceID int) ([]hardware_models.Reading, error)
}

// Observer is told about every snapshot the poller applies
type Observer interface {
	OnSnapshot(Snapshot)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Snapshot)

func (f ObserverFunc) OnSnapshot(s Snapshot) { f(s) }

// Snapshot is the poller state handed to presentation
type Snapshot struct {
	DeviceID    int                      `json:"deviceId"`
	State       State                    `json:"state"`
	RefreshRate RefreshRate              `json:"refreshRateMs"`
	Loading     bool                     `json:"loading"`
	Series      Series                   `json:"series"`
	Latest      *hardware_models.Reading `json:"latest"`
	Recent      Series                   `json:"recent"`
	Gauge       Gauge                    `json:"gauge"`
	LastUpdated *time.Time               `json:"lastUpdated"`
	Ticks       uint64                   `json:"ticks"`
	Failures    uint64                   `json:"failures"`
}

// Options configures a Poller
type Options struct {
	Clock           Clock
	CriticalBattery int
	RecentWindow    int
}

// Poller repeatedly fetches one device's history and keeps it as a sorted Series.
//
// Ticks are scheduled from the previous scheduling point, so when a fetch takes
// longer than the period several fetches may be in flight. Every fetch carries
// the generation (bumped on each Start and Stop) and a sequence number. Results
// from an older generation are dropped, and a result is only applied if no later
// fetch has been applied already.
type Poller struct {
	fetcher         Fetcher
	clock           Clock
	log             *logger.Logger
	criticalBattery int
	recentWindow    int

	// ctl serializes Start/Stop/SetRefreshRate/SetDevice
	ctl sync.Mutex

	mu          sync.Mutex
	state       State
	deviceID    int
	rate        RefreshRate
	loading     bool
	series      Series
	lastUpdated time.Time
	ticks       uint64
	failures    uint64
	gen         uint64
	nextSeq     uint64
	appliedSeq  uint64
	cancel      context.CancelFunc
	done        chan struct{}
	observers   []Observer

	notifyMu    sync.Mutex
	notifiedSeq uint64
	inflight    sync.WaitGroup
}

// New creates an idle poller
func New(fetcher Fetcher, log *logger.Logger, opts Options) *Poller {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.CriticalBattery <= 0 {
		opts.CriticalBattery = DefaultCriticalBattery
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = RecentWindow
	}
	return &Poller{
		fetcher:         fetcher,
		clock:           opts.Clock,
		log:             log.WithComponent("poller"),
		criticalBattery: opts.CriticalBattery,
		recentWindow:    opts.RecentWindow,
		state:           StateIdle,
		rate:            DefaultRate,
		series:          Series{},
	}
}

// AddObserver registers o for every applied snapshot
func (p *Poller) AddObserver(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Start cancels any running schedule, waits for it to exit, fetches once
// immediately and then every rate. Switching to another device starts from an
// empty series, as does starting after Stop.
func (p *Poller) Start(deviceID int, rate RefreshRate) error {
	if !rate.Valid() {
		return fmt.Errorf("invalid refresh rate %s", rate)
	}
	if deviceID <= 0 {
		return errors.New("invalid device id")
	}

	p.ctl.Lock()
	defer p.ctl.Unlock()
	p.restart(deviceID, rate)
	return nil
}

// SetRefreshRate restarts the schedule with the new period. On a poller that
// is not polling the rate is only recorded.
func (p *Poller) SetRefreshRate(rate RefreshRate) error {
	if !rate.Valid() {
		return fmt.Errorf("invalid refresh rate %s", rate)
	}

	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.mu.Lock()
	polling := p.state == StatePolling
	deviceID := p.deviceID
	if !polling {
		p.rate = rate
	}
	p.mu.Unlock()

	if polling {
		p.restart(deviceID, rate)
	}
	return nil
}

// SetDevice restarts polling for another device at the current rate
func (p *Poller) SetDevice(deviceID int) error {
	if deviceID <= 0 {
		return errors.New("invalid device id")
	}

	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.mu.Lock()
	rate := p.rate
	p.mu.Unlock()

	p.restart(deviceID, rate)
	return nil
}

// Stop cancels the schedule and returns once the scheduling goroutine has
// exited. No fetch is issued after Stop returns and results of fetches still
// in flight are discarded.
func (p *Poller) Stop() {
	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.halt()

	p.mu.Lock()
	p.state = StateStopped
	p.loading = false
	p.mu.Unlock()
}

// Shutdown stops the poller and waits for in-flight fetches to return
func (p *Poller) Shutdown(ctx context.Context) error {
	p.Stop()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the lifecycle state
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns the current state and projections
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// restart must be called with ctl held
func (p *Poller) restart(deviceID int, rate RefreshRate) {
	p.halt()

	p.mu.Lock()
	if deviceID != p.deviceID || p.state != StatePolling {
		p.series = Series{}
		p.lastUpdated = time.Time{}
		p.ticks = 0
		p.failures = 0
		p.loading = true
	}
	p.deviceID = deviceID
	p.rate = rate
	p.state = StatePolling
	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	ticker := p.clock.NewTicker(rate.Duration())
	p.mu.Unlock()

	p.log.WithFields(map[string]interface{}{
		"device_id": deviceID,
		"rate":      rate.String(),
	}).Info("live polling started")

	p.launch(ctx, gen, deviceID)
	go p.loop(ctx, ticker, gen, deviceID, done)
}

// halt cancels the running schedule and waits for its goroutine. Must be called with ctl held.
func (p *Poller) halt() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	// bump the generation under mu so a tick racing with cancellation cannot launch
	p.gen++
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context, ticker Ticker, gen uint64, deviceID int, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.launch(ctx, gen, deviceID)
		}
	}
}

// launch issues one fetch in its own goroutine unless gen is no longer current
func (p *Poller) launch(ctx context.Context, gen uint64, deviceID int) {
	p.mu.Lock()
	if gen != p.gen || p.state != StatePolling {
		p.mu.Unlock()
		return
	}
	p.nextSeq++
	seq := p.nextSeq
	p.ticks++
	p.inflight.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.inflight.Done()
		readings, err := p.fetcher.FetchHistory(ctx, deviceID)
		p.apply(gen, seq, deviceID, readings, err)
	}()
}

func (p *Poller) apply(gen, seq uint64, deviceID int, readings []hardware_models.Reading, err error) {
	log := p.log.WithFields(map[string]interface{}{"device_id": deviceID, "seq": seq})

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		log.Debug("discarding result from a previous polling configuration")
		return
	}
	p.loading = false
	if err != nil {
		p.failures++
		p.mu.Unlock()
		log.WithError(err).Error("live fetch failed, keeping previous series")
		return
	}
	if seq < p.appliedSeq {
		p.mu.Unlock()
		log.Debug("discarding out-of-order result")
		return
	}
	p.appliedSeq = seq
	p.series = NewSeries(readings)
	p.lastUpdated = p.clock.Now()
	snap := p.snapshotLocked()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.Unlock()

	// observers see snapshots in sequence order; one overtaken while waiting here is skipped
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	if seq <= p.notifiedSeq {
		return
	}
	p.notifiedSeq = seq
	for _, o := range observers {
		o.OnSnapshot(snap)
	}
}

func (p *Poller) snapshotLocked() Snapshot {
	snap := Snapshot{
		DeviceID:    p.deviceID,
		State:       p.state,
		RefreshRate: p.rate,
		Loading:     p.loading,
		Series:      p.series,
		Recent:      p.series.Recent(p.recentWindow),
		Gauge:       p.series.BatteryGauge(p.criticalBattery),
		Ticks:       p.ticks,
		Failures:    p.failures,
	}
	if latest, ok := p.series.Latest(); ok {
		snap.Latest = &latest
	}
	if !p.lastUpdated.IsZero() {
		t := p.lastUpdated
		snap.LastUpdated = &t
	}
	return snap
}
