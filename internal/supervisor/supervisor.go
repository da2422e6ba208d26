// Package supervisor runs the daemon's single-threaded event loop: poll the
// ring, drain and dispatch decoded events inline, sweep expired namespaces,
// and rescan the plugin directory on a timer or on an fsnotify change -- all
// on one goroutine, which is what lets the tuner registry and host dispense
// with their own locking.
package supervisor

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ptr1337/bpftune/internal/metrics"
	"github.com/ptr1337/bpftune/internal/netns"
	"github.com/ptr1337/bpftune/internal/ring"
	"github.com/ptr1337/bpftune/internal/tuner"
)

// ExitCode reports why the daemon's process exited.
type ExitCode int

const (
	ExitClean            ExitCode = 0
	ExitInitFailure      ExitCode = 1
	ExitRingUnhealthy    ExitCode = 2
	ExitFatalPluginError ExitCode = 3
)

// DrainTimeout bounds how long the loop keeps polling already-queued events
// after a shutdown signal before invoking fini on every live tuner.
const DrainTimeout = 500 * time.Millisecond

// FiniTimeout is the default per-tuner fini deadline during shutdown.
const FiniTimeout = 2 * time.Second

// pollInterval bounds a single ring poll so the loop can service rescans,
// namespace eviction, and context cancellation between reads even when the
// ring is quiet.
const pollInterval = 200 * time.Millisecond

// Supervisor wires the consumer, namespace tracker, and tuner host into
// one single-threaded event loop.
type Supervisor struct {
	consumer *ring.Consumer
	tracker  *netns.Tracker
	host     *tuner.Host
	metrics  *metrics.Metrics
	logger   *zap.Logger

	rescanInterval time.Duration
	pluginDir      string
}

func New(consumer *ring.Consumer, tracker *netns.Tracker, host *tuner.Host, m *metrics.Metrics,
	rescanInterval time.Duration, pluginDir string, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		consumer:       consumer,
		tracker:        tracker,
		host:           host,
		metrics:        m,
		rescanInterval: rescanInterval,
		pluginDir:      pluginDir,
		logger:         logger,
	}
}

// Run drives the event loop until ctx is cancelled or the ring reports
// itself unhealthy, returning the exit code describing why it stopped.
func (s *Supervisor) Run(ctx context.Context) ExitCode {
	if err := s.host.Rescan(); err != nil && s.logger != nil {
		s.logger.Warn("initial plugin scan failed", zap.Error(err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("fsnotify watcher unavailable, relying on timer rescans only", zap.Error(err))
		}
	} else {
		defer watcher.Close()
		if err := watcher.Add(s.pluginDir); err != nil && s.logger != nil {
			s.logger.Warn("could not watch plugin directory", zap.Error(err))
		}
	}

	rescanTicker := time.NewTicker(s.rescanInterval)
	defer rescanTicker.Stop()

	evictTicker := time.NewTicker(netns.EvictionGrace)
	defer evictTicker.Stop()

	var watchEvents <-chan fsnotify.Event
	if watcher != nil {
		watchEvents = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			s.drainAndShutdown()
			return ExitClean

		case <-rescanTicker.C:
			s.rescan()

		case <-watchEvents:
			s.rescan()

		case <-evictTicker.C:
			s.tracker.EvictExpired()

		default:
			if err := s.consumer.Poll(time.Now().Add(pollInterval)); err != nil {
				if s.logger != nil {
					s.logger.Error("ring unhealthy, shutting down", zap.Error(err))
				}
				s.drainAndShutdown()
				return ExitRingUnhealthy
			}
		}
	}
}

func (s *Supervisor) rescan() {
	if err := s.host.Rescan(); err != nil && s.logger != nil {
		s.logger.Warn("plugin rescan failed", zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.TunersLoaded.Set(float64(s.host.LiveCount()))
	}
}

// drainAndShutdown stops polling for new events, drains already-decoded
// events for up to DrainTimeout, then finis every live tuner in reverse
// load order.
func (s *Supervisor) drainAndShutdown() {
	deadline := time.Now().Add(DrainTimeout)
	for time.Now().Before(deadline) {
		if err := s.consumer.Poll(deadline); err != nil {
			break
		}
	}
	s.host.ShutdownAll(FiniTimeout)
}
