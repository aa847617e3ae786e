package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netusage/internal/counters"
)

// Stream delivers one Snapshot per tick until its context is cancelled or
// the source fails. It cannot be restarted.
type Stream struct {
	source string
	opts   Options
	poll   poller

	c    chan Snapshot
	done chan struct{}
	err  error
}

type poller interface {
	// poll reads the source and returns the speeds since the previous
	// successful poll.
	poll(ctx context.Context) (Snapshot, error)
}

// Open takes a baseline reading from src and starts sampling it every
// opts.Interval. A failing baseline read is returned and no stream is
// started.
func Open(ctx context.Context, src counters.Source, opts Options) (*Stream, error) {
	opts = opts.withDefaults()

	baseline, err := src.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("baseline read from %s: %w", src.Name(), err)
	}

	log.WithFields(log.Fields{
		"source":     src.Name(),
		"interval":   opts.Interval,
		"interfaces": len(baseline),
	}).Debug("Baseline reading taken")

	p := &deltaPoller{src: src, now: opts.now, prev: baseline, prevAt: opts.now()}
	return start(ctx, src.Name(), opts, p), nil
}

// OpenRates samples a source whose values are already rates. Every polled
// interface is emitted on every tick.
func OpenRates(ctx context.Context, src counters.RateSource, opts Options) (*Stream, error) {
	opts = opts.withDefaults()

	if _, err := src.ReadRates(ctx); err != nil {
		return nil, fmt.Errorf("baseline read from %s: %w", src.Name(), err)
	}

	p := &ratePoller{src: src, now: opts.now, prevAt: opts.now()}
	return start(ctx, src.Name(), opts, p), nil
}

func start(ctx context.Context, source string, opts Options, p poller) *Stream {
	s := &Stream{
		source: source,
		opts:   opts,
		poll:   p,
		c:      make(chan Snapshot, opts.Buffer),
		done:   make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// C returns the snapshot channel. It is closed when the stream stops.
func (s *Stream) C() <-chan Snapshot { return s.c }

// Done is closed once the stream has stopped.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, or nil if the stream was cancelled or is
// still running.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the stream stops and returns its terminal error.
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

func (s *Stream) run(ctx context.Context) {
	// done is closed before c so Err is settled once c is drained.
	defer close(s.c)
	defer close(s.done)

	logger := log.WithFields(log.Fields{"source": s.source, "interval": s.opts.Interval})
	logger.Info("Starting network usage stream")

	malformed := 0
	for {
		if ctx.Err() != nil {
			logger.Info("Stopping network usage stream")
			return
		}

		timer := time.NewTimer(s.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Stopping network usage stream")
			return
		case <-timer.C:
		}

		snap, err := s.poll.poll(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				logger.Info("Stopping network usage stream")
				return
			}

			if errors.Is(err, counters.ErrMalformedReading) && malformed < s.opts.MaxMalformed {
				malformed++
				logger.WithError(err).WithField("consecutive", malformed).Warn("Skipping malformed counter reading")
				continue
			}

			logger.WithError(err).Error("Network usage stream failed")
			s.err = err
			return
		}
		malformed = 0

		for _, name := range snap.Reset {
			logger.WithField("interface", name).Debug("Counters went backwards, rebaselining")
		}

		// A read that completed after cancellation is dropped.
		if ctx.Err() != nil {
			logger.Info("Stopping network usage stream")
			return
		}

		select {
		case s.c <- snap:
		case <-ctx.Done():
			logger.Info("Stopping network usage stream")
			return
		}
	}
}

type deltaPoller struct {
	src    counters.Source
	now    func() time.Time
	prev   counters.Reading
	prevAt time.Time
}

func (p *deltaPoller) poll(ctx context.Context) (Snapshot, error) {
	cur, err := p.src.Read(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	at := p.now()
	elapsed := at.Sub(p.prevAt)

	speeds, reset := computeSpeeds(p.prev, cur, elapsed)

	p.prev = cur
	p.prevAt = at

	return Snapshot{Time: at, Elapsed: elapsed, Speeds: speeds, Reset: reset}, nil
}

type ratePoller struct {
	src    counters.RateSource
	now    func() time.Time
	prevAt time.Time
}

func (p *ratePoller) poll(ctx context.Context) (Snapshot, error) {
	rates, err := p.src.ReadRates(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	at := p.now()
	elapsed := at.Sub(p.prevAt)
	p.prevAt = at

	speeds := make(map[string]Speed, len(rates))
	for name, r := range rates {
		speeds[name] = Speed{RxBytesPerSec: r.RxBytesPerSec, TxBytesPerSec: r.TxBytesPerSec}
	}
	return Snapshot{Time: at, Elapsed: elapsed, Speeds: speeds}, nil
}
