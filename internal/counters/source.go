// Package counters reads per-interface network byte counters from the
// operating system.
package counters

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// Sample holds one interface's absolute counters at a sampling instant.
type Sample struct {
	Name    string
	RxBytes uint64
	TxBytes uint64
}

// Reading is one read of a source, keyed by interface name.
type Reading map[string]Sample

// add records s unless the interface was already seen in this reading.
func (r Reading) add(s Sample) {
	if _, exists := r[s.Name]; exists {
		return
	}
	r[s.Name] = s
}

// Rate is a throughput value supplied directly by the operating system.
type Rate struct {
	RxBytesPerSec float64
	TxBytesPerSec float64
}

// Source returns absolute byte counters. Implementations are not safe for
// concurrent use; every stream owns its own Source.
type Source interface {
	Name() string
	Read(ctx context.Context) (Reading, error)
}

// RateSource returns rates that the platform has already computed.
type RateSource interface {
	Name() string
	ReadRates(ctx context.Context) (map[string]Rate, error)
}

// Kind selects a Source implementation.
type Kind string

const (
	KindAuto    Kind = "auto"
	KindNetstat Kind = "netstat"
	KindProcfs  Kind = "procfs"
	KindNetlink Kind = "netlink"
	KindPsutil  Kind = "psutil"
	KindPDH     Kind = "pdh"
)

// ParseKind validates a user supplied source name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindAuto, nil
	case KindAuto, KindNetstat, KindProcfs, KindNetlink, KindPsutil, KindPDH:
		return k, nil
	default:
		return "", fmt.Errorf("unknown counter source %q", s)
	}
}

// DefaultKind is the source used for KindAuto on the running platform.
func DefaultKind() Kind {
	switch runtime.GOOS {
	case "linux":
		return KindProcfs
	case "darwin", "freebsd", "netbsd", "openbsd", "dragonfly":
		return KindNetstat
	case "windows":
		return KindPDH
	default:
		return KindPsutil
	}
}

// Options configures New.
type Options struct {
	Filter      Filter
	ProcPath    string
	NetstatPath string
}

// New constructs the source for kind. Exactly one of the returned sources
// is non-nil: PDH yields a RateSource, everything else a Source.
func New(kind Kind, opts Options) (Source, RateSource, error) {
	if kind == KindAuto || kind == "" {
		kind = DefaultKind()
	}

	switch kind {
	case KindNetstat:
		src, err := NewNetstat(opts.NetstatPath, opts.Filter)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	case KindProcfs:
		src, err := NewProcfs(opts.ProcPath, opts.Filter)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	case KindNetlink:
		src, err := NewNetlink(opts.Filter)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	case KindPsutil:
		return NewPsutil(opts.Filter), nil, nil
	case KindPDH:
		src, err := NewPDH(opts.Filter)
		if err != nil {
			return nil, nil, err
		}
		return nil, src, nil
	default:
		return nil, nil, fmt.Errorf("unknown counter source %q", kind)
	}
}
