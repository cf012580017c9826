package poller

import (
	"encoding/json"
	"fmt"
	"time"
)

// RefreshRate is the period between two scheduled fetches
type RefreshRate time.Duration

const (
	Rate1s  = RefreshRate(1 * time.Second)
	Rate3s  = RefreshRate(3 * time.Second)
	Rate5s  = RefreshRate(5 * time.Second)
	Rate10s = RefreshRate(10 * time.Second)

	DefaultRate = Rate5s
)

// Rates lists every selectable refresh rate, fastest first
var Rates = []RefreshRate{Rate1s, Rate3s, Rate5s, Rate10s}

// ParseRefreshRate converts milliseconds to one of the enumerated rates
func ParseRefreshRate(ms int) (RefreshRate, error) {
	r := RefreshRate(time.Duration(ms) * time.Millisecond)
	if !r.Valid() {
		return 0, fmt.Errorf("refresh rate %dms is not one of 1000, 3000, 5000, 10000", ms)
	}
	return r, nil
}

func (r RefreshRate) Valid() bool {
	for _, v := range Rates {
		if v == r {
			return true
		}
	}
	return false
}

func (r RefreshRate) Duration() time.Duration {
	return time.Duration(r)
}

func (r RefreshRate) Milliseconds() int {
	return int(time.Duration(r).Milliseconds())
}

func (r RefreshRate) String() string {
	return time.Duration(r).String()
}

// MarshalJSON encodes the rate as milliseconds, the unit the refresh selector uses
func (r RefreshRate) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Milliseconds())
}
