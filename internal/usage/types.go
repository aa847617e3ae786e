// Package usage turns counter readings into per-interface throughput.
package usage

import (
	"time"
)

// Speed is the throughput of one interface in bytes per second.
type Speed struct {
	RxBytesPerSec float64 `json:"rxBytesPerSec"`
	TxBytesPerSec float64 `json:"txBytesPerSec"`
}

// Snapshot is the result of one tick.
type Snapshot struct {
	Time    time.Time        `json:"time"`
	Elapsed time.Duration    `json:"elapsed"`
	Speeds  map[string]Speed `json:"speeds"`

	// Reset names interfaces whose counters went backwards this tick. They
	// have no entry in Speeds and are rebaselined.
	Reset []string `json:"reset,omitempty"`
}

// Options configures a Stream.
type Options struct {
	// Interval between readings. Zero or negative means one second.
	Interval time.Duration

	// MaxMalformed is how many consecutive malformed readings are skipped
	// before the stream fails. Zero fails on the first one.
	MaxMalformed int

	// Buffer is the capacity of the snapshot channel.
	Buffer int

	now func() time.Time
}

const DefaultInterval = time.Second

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxMalformed < 0 {
		o.MaxMalformed = 0
	}
	if o.Buffer < 0 {
		o.Buffer = 0
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}
