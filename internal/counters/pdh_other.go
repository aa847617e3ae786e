//go:build !windows

package counters

import (
	"context"
	"fmt"
	"runtime"
)

type PDH struct{}

func NewPDH(Filter) (*PDH, error) {
	return nil, fmt.Errorf("performance counters on %s: %w", runtime.GOOS, ErrUnsupportedPlatform)
}

func (p *PDH) Name() string { return string(KindPDH) }

func (p *PDH) ReadRates(context.Context) (map[string]Rate, error) {
	return nil, ErrUnsupportedPlatform
}

func (p *PDH) Close() error { return nil }
