// Package api serves usage snapshots over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/dmdmdm-nz/netusage/internal/usage"
)

const shutdownTimeout = 5 * time.Second

// Monitor is the part of the monitor service the API reads from.
type Monitor interface {
	Latest() (usage.Snapshot, bool)
	Ready() <-chan struct{}
	Subscribe() (<-chan usage.Snapshot, func())
}

type Options struct {
	// Listen is a host:port address.
	Listen string

	// MaxConns caps concurrent connections. Zero means no cap.
	MaxConns int

	// Advertise registers the API over mDNS.
	Advertise bool

	// Metrics is served on /metrics when set.
	Metrics prometheus.Gatherer
}

// Service represents the HTTP server for the API
type Service struct {
	opts Options
	mon  Monitor

	mu     sync.Mutex
	addr   net.Addr
	server *http.Server
	closed bool

	// done is closed when Start returns so hijacked WebSocket handlers
	// stop as well.
	done     chan struct{}
	doneOnce sync.Once
}

func NewService(mon Monitor, opts Options) *Service {
	return &Service{
		opts: opts,
		mon:  mon,
		done: make(chan struct{}),
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) error {
	defer s.doneOnce.Do(func() { close(s.done) })

	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Listen, err)
	}
	if s.opts.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConns)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.addr = ln.Addr()
	s.server = server
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"addr":     ln.Addr().String(),
		"maxConns": s.opts.MaxConns,
	}).Info("Starting netusage API service")
	defer log.Info("Stopping netusage API service")

	if s.opts.Advertise {
		adv, err := advertise(ln.Addr())
		if err != nil {
			log.WithError(err).Warn("Failed to advertise API over mDNS")
		} else {
			defer adv.Shutdown()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("API shutdown did not complete cleanly")
	}
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.doneOnce.Do(func() { close(s.done) })

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Addr is the bound listen address, or nil before Start has listened.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the API routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		select {
		case <-s.mon.Ready():
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "No snapshot yet", http.StatusServiceUnavailable)
		}
	})
	mux.HandleFunc("/usage", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap, ok := s.mon.Latest()
		if !ok {
			http.Error(w, "No recent snapshot", http.StatusServiceUnavailable)
			return
		}
		w.Header().Add("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, fmt.Sprintf("Failed to encode snapshot: %v", err), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/ws/usage", func(w http.ResponseWriter, r *http.Request) {
		StreamUsage(s, w, r)
	})
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Metrics, promhttp.HandlerOpts{}))
	}
	return mux
}
