package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	poller "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Poller"
)

// Kind identifies the alert transition
type Kind string

const (
	KindBatteryCritical  Kind = "battery_critical"
	KindBatteryRecovered Kind = "battery_recovered"
)

// Alert is raised when a device's battery crosses the critical threshold
type Alert struct {
	Kind      Kind      `json:"kind"`
	DeviceID  int       `json:"deviceId"`
	Battery   int       `json:"battery"`
	Threshold int       `json:"threshold"`
	ReadingTs time.Time `json:"readingTs"`
}

// Message renders the alert as one line of text
func (a Alert) Message() string {
	switch a.Kind {
	case KindBatteryCritical:
		return fmt.Sprintf("Device %d battery critical: %d%% (below %d%%) at %s",
			a.DeviceID, a.Battery, a.Threshold, a.ReadingTs.Format(time.RFC3339))
	case KindBatteryRecovered:
		return fmt.Sprintf("Device %d battery recovered: %d%% at %s",
			a.DeviceID, a.Battery, a.ReadingTs.Format(time.RFC3339))
	}
	return fmt.Sprintf("Device %d: %s", a.DeviceID, a.Kind)
}

// Notifier delivers alerts somewhere a human will see them
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// BatteryMonitor watches live snapshots and raises one alert when a device's
// latest battery drops below the threshold, and one when it recovers.
type BatteryMonitor struct {
	threshold int
	notifiers []Notifier
	timeout   time.Duration
	log       *logger.Logger

	mu       sync.Mutex
	critical map[int]bool
}

func NewBatteryMonitor(threshold int, log *logger.Logger, notifiers ...Notifier) *BatteryMonitor {
	return &BatteryMonitor{
		threshold: threshold,
		notifiers: notifiers,
		timeout:   5 * time.Second,
		log:       log.WithComponent("battery_monitor"),
		critical:  make(map[int]bool),
	}
}

// OnSnapshot implements poller.Observer
func (m *BatteryMonitor) OnSnapshot(s poller.Snapshot) {
	if s.Latest == nil {
		return
	}
	battery := s.Latest.Battery
	critical := battery < m.threshold

	m.mu.Lock()
	was := m.critical[s.DeviceID]
	m.critical[s.DeviceID] = critical
	m.mu.Unlock()

	if critical == was {
		return
	}

	kind := KindBatteryRecovered
	if critical {
		kind = KindBatteryCritical
	}
	m.dispatch(Alert{
		Kind:      kind,
		DeviceID:  s.DeviceID,
		Battery:   battery,
		Threshold: m.threshold,
		ReadingTs: s.Latest.Ts,
	})
}

func (m *BatteryMonitor) dispatch(a Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.log.WithError(err).WithDevice(a.DeviceID).Error("failed to deliver battery alert")
	}
}

// LogNotifier writes alerts to the log
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log.WithComponent("alerts")}
}

func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	l := n.log.WithFields(map[string]interface{}{
		"device_id": a.DeviceID,
		"battery":   a.Battery,
		"kind":      string(a.Kind),
	})
	if a.Kind == KindBatteryCritical {
		l.Warn(a.Message())
	} else {
		l.Info(a.Message())
	}
	return nil
}
