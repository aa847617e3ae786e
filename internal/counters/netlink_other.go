//go:build !linux

package counters

import (
	"context"
	"fmt"
	"runtime"
)

type Netlink struct{}

func NewNetlink(Filter) (*Netlink, error) {
	return nil, fmt.Errorf("netlink on %s: %w", runtime.GOOS, ErrUnsupportedPlatform)
}

func (n *Netlink) Name() string { return string(KindNetlink) }

func (n *Netlink) Read(context.Context) (Reading, error) {
	return nil, ErrUnsupportedPlatform
}
