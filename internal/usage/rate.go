package usage

import (
	"sort"
	"time"

	"github.com/dmdmdm-nz/netusage/internal/counters"
)

// computeSpeeds derives rates for interfaces present in both readings.
// Interfaces whose counters decreased are reported in reset instead.
func computeSpeeds(prev, cur counters.Reading, elapsed time.Duration) (speeds map[string]Speed, reset []string) {
	speeds = make(map[string]Speed, len(cur))
	secs := elapsed.Seconds()
	if secs <= 0 {
		return speeds, nil
	}

	for name, now := range cur {
		old, ok := prev[name]
		if !ok {
			continue
		}
		if now.RxBytes < old.RxBytes || now.TxBytes < old.TxBytes {
			reset = append(reset, name)
			continue
		}
		speeds[name] = Speed{
			RxBytesPerSec: float64(now.RxBytes-old.RxBytes) / secs,
			TxBytesPerSec: float64(now.TxBytes-old.TxBytes) / secs,
		}
	}

	sort.Strings(reset)
	return speeds, reset
}
