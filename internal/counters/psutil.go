package counters

import (
	"context"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// Psutil reads per-NIC counters through gopsutil, which works on every
// platform gopsutil supports.
type Psutil struct {
	filter   Filter
	counters func(ctx context.Context, pernic bool) ([]psnet.IOCountersStat, error)
}

func NewPsutil(filter Filter) *Psutil {
	return &Psutil{filter: filter, counters: psnet.IOCountersWithContext}
}

func (p *Psutil) Name() string { return string(KindPsutil) }

func (p *Psutil) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats, err := p.counters(ctx, true)
	if err != nil {
		return nil, unavailable(p.Name(), err)
	}

	reading := make(Reading, len(stats))
	for _, st := range stats {
		if !p.filter.Allows(st.Name) {
			continue
		}
		reading.add(Sample{Name: st.Name, RxBytes: st.BytesRecv, TxBytes: st.BytesSent})
	}
	return reading, nil
}
