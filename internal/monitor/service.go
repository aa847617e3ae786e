// Package monitor runs one usage stream and shares its snapshots with any
// number of subscribers.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netusage/internal/runtime"
	"github.com/dmdmdm-nz/netusage/internal/usage"
)

const (
	latestKey = "latest"

	// A snapshot older than this many intervals is no longer served.
	staleIntervals = 3

	subscriberBuffer = 4
	subscriberQueue  = 8
)

// Opener starts the stream the service publishes.
type Opener func(ctx context.Context) (*usage.Stream, error)

type Service struct {
	open     Opener
	interval time.Duration
	latest   *cache.Cache

	subsMu sync.Mutex
	subs   map[string]*runtime.SubQueue[usage.Snapshot]
	closed bool

	readyOnce sync.Once
	ready     chan struct{}
}

func NewService(open Opener, interval time.Duration) *Service {
	if interval <= 0 {
		interval = usage.DefaultInterval
	}
	stale := staleIntervals * interval
	return &Service{
		open:     open,
		interval: interval,
		latest:   cache.New(stale, 2*stale),
		subs:     make(map[string]*runtime.SubQueue[usage.Snapshot]),
		ready:    make(chan struct{}),
	}
}

// Start opens the stream and publishes every snapshot until the stream
// stops. Cancellation returns nil; a source failure is returned.
func (s *Service) Start(ctx context.Context) error {
	log.WithField("interval", s.interval).Info("Starting network usage monitor")
	defer log.Info("Stopping network usage monitor")

	stream, err := s.open(ctx)
	if err != nil {
		return err
	}

	for snap := range stream.C() {
		s.publish(snap)
	}
	return stream.Wait()
}

func (s *Service) Close() error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, q := range s.subs {
		q.Close()
		delete(s.subs, id)
	}
	return nil
}

// Subscribe returns a channel of snapshots and a function that ends the
// subscription. The latest snapshot, if still fresh, is delivered first.
// Subscribers that fall behind lose their oldest snapshots.
func (s *Service) Subscribe() (<-chan usage.Snapshot, func()) {
	sub := runtime.NewSubQueue[usage.Snapshot](subscriberBuffer, subscriberQueue)
	id := uuid.NewString()

	// Register in paused mode so live snapshots queue up behind the
	// initial one. publish stores and fans out under the same lock, so the
	// initial snapshot is never delivered twice. The initial send also
	// happens under the lock so Close cannot close the channel first; the
	// fresh queue's buffer always has room for it.
	s.subsMu.Lock()
	if s.closed {
		s.subsMu.Unlock()
		sub.Close()
		return sub.Chan(), func() {}
	}
	if initial, ok := s.Latest(); ok {
		sub.OutOfBandSend(initial)
	}
	s.subs[id] = sub
	sub.SetPaused(false)
	s.subsMu.Unlock()

	log.WithField("subscriber", id).Debug("Snapshot subscriber added")

	unsub := func() {
		s.subsMu.Lock()
		if q, ok := s.subs[id]; ok {
			delete(s.subs, id)
			q.Close()
			log.WithFields(log.Fields{
				"subscriber": id,
				"dropped":    q.Dropped(),
			}).Debug("Snapshot subscriber removed")
		}
		s.subsMu.Unlock()
	}
	return sub.Chan(), unsub
}

// Latest returns the most recent snapshot unless it has gone stale.
func (s *Service) Latest() (usage.Snapshot, bool) {
	v, ok := s.latest.Get(latestKey)
	if !ok {
		return usage.Snapshot{}, false
	}
	return v.(usage.Snapshot), true
}

// Ready is closed when the first snapshot has been published.
func (s *Service) Ready() <-chan struct{} { return s.ready }

func (s *Service) Subscribers() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

func (s *Service) publish(snap usage.Snapshot) {
	log.WithField("interfaces", len(snap.Speeds)).Trace("Publishing snapshot")

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.latest.Set(latestKey, snap, cache.DefaultExpiration)
	s.readyOnce.Do(func() { close(s.ready) })

	for _, sub := range s.subs {
		sub.Enqueue(snap)
	}
}
