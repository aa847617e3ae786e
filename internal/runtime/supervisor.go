// Package runtime supervises the long-lived services of the process.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type worker struct {
	name   string
	run    func(context.Context) error
	closeF func() error
}

// Supervisor runs a group of workers. The first worker to return, with or
// without an error, cancels the others.
type Supervisor struct {
	mu      sync.Mutex
	workers []worker
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Add registers a worker. Workers added after Start are not run.
func (s *Supervisor) Add(name string, run func(context.Context) error, closeF func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker{name: name, run: run, closeF: closeF})
}

func (s *Supervisor) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return errors.New("supervisor already started")
	}

	s.ctx, s.cancel = context.WithCancel(parent)
	for _, w := range s.workers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.cancel()

			err := w.run(s.ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.WithField("worker", w.name).WithError(err).Error("Worker failed")
				s.errOnce.Do(func() { s.err = fmt.Errorf("%s: %w", w.name, err) })
				return
			}
			log.WithField("worker", w.name).Debug("Worker stopped")
		}()
	}
	return nil
}

// Wait blocks until the parent context is cancelled or a worker returns,
// closes the workers in reverse order and returns the first worker error.
func (s *Supervisor) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	workers := append([]worker(nil), s.workers...)
	s.mu.Unlock()
	if ctx == nil {
		return nil
	}

	<-ctx.Done()
	for i := len(workers) - 1; i >= 0; i-- {
		if workers[i].closeF == nil {
			continue
		}
		if err := workers[i].closeF(); err != nil {
			log.WithField("worker", workers[i].name).WithError(err).Warn("Close failed")
		}
	}
	s.wg.Wait()
	return s.err
}
