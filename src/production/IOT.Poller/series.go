package poller

import (
	"sort"

	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
)

const (
	// RecentWindow is how many readings the chart projections show
	RecentWindow = 5

	// DefaultCriticalBattery is the battery percentage below which the gauge is critical
	DefaultCriticalBattery = 20
)

// Series is a device's readings ordered ascending by timestamp.
// A Series is never modified after it is built; polling replaces it wholesale.
type Series []hardware_models.Reading

// NewSeries returns a sorted copy of readings. Readings with equal timestamps
// keep their relative order.
func NewSeries(readings []hardware_models.Reading) Series {
	s := make(Series, len(readings))
	copy(s, readings)
	SortReadings(s)
	return s
}

// SortReadings sorts in place, ascending by timestamp
func SortReadings(rs []hardware_models.Reading) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Ts.Before(rs[j].Ts)
	})
}

// Latest returns the most recent reading
func (s Series) Latest() (hardware_models.Reading, bool) {
	if len(s) == 0 {
		return hardware_models.Reading{}, false
	}
	return s[len(s)-1], true
}

// Recent returns a copy of the last n readings in chronological order
func (s Series) Recent(n int) Series {
	if n <= 0 || len(s) == 0 {
		return Series{}
	}
	if n > len(s) {
		n = len(s)
	}
	out := make(Series, n)
	copy(out, s[len(s)-n:])
	return out
}

// Gauge splits 100 into the latest battery level and the remainder
type Gauge struct {
	Level    int  `json:"level"`
	Empty    int  `json:"empty"`
	Critical bool `json:"critical"`
}

// BatteryGauge derives the gauge from the latest reading. Without a reading the
// gauge is entirely empty and not critical.
func (s Series) BatteryGauge(criticalBelow int) Gauge {
	latest, ok := s.Latest()
	if !ok {
		return Gauge{Level: 0, Empty: 100}
	}
	level := latest.Battery
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return Gauge{
		Level:    level,
		Empty:    100 - level,
		Critical: level < criticalBelow,
	}
}

// Metric selects a numeric field of a reading for charting
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricBattery     Metric = "battery"
)

// ParseMetric validates a metric name
func ParseMetric(name string) (Metric, bool) {
	switch m := Metric(name); m {
	case MetricTemperature, MetricHumidity, MetricBattery:
		return m, true
	}
	return "", false
}

// Value extracts the metric from r
func (m Metric) Value(r hardware_models.Reading) float64 {
	switch m {
	case MetricTemperature:
		return r.Temperature
	case MetricHumidity:
		return r.Humidity
	case MetricBattery:
		return float64(r.Battery)
	}
	return 0
}
