package ring

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ptr1337/bpftune/internal/domain"
	"github.com/ptr1337/bpftune/internal/metrics"
	"github.com/ptr1337/bpftune/internal/netns"
)

// ErrUnhealthy is returned by Poll once three consecutive hard read
// failures have occurred within one second, signaling the supervisor that
// the ring is no longer usable and the daemon should shut down.
var ErrUnhealthy = errors.New("ring: unhealthy after repeated read failures")

// Source abstracts the shared-memory ring so the consumer can be driven by
// a real cilium/ebpf ringbuf.Reader in production and by an in-memory
// fixture in tests.
type Source interface {
	// SetDeadline arms the next Read to return ErrWouldBlock once t has
	// passed without a new record becoming available.
	SetDeadline(t time.Time) error
	// Read returns the next raw record, or ErrWouldBlock if the deadline
	// elapsed with nothing ready.
	Read() ([]byte, error)
}

// ErrWouldBlock is returned by a Source.Read that hit its deadline with no
// record ready. It is not itself a failure and never counts toward
// ErrUnhealthy.
var ErrWouldBlock = errors.New("ring: would block")

// Dispatcher routes a decoded event to the tuner that owns it.
type Dispatcher interface {
	Dispatch(ev domain.Event)
}

// Consumer polls the ring source, decodes records, and dispatches the
// resulting events after the dedup and namespace filters.
type Consumer struct {
	source     Source
	dispatcher Dispatcher
	tracker    *netns.Tracker
	dedup      *Deduper
	logger     *zap.Logger

	// Metrics is optional; set after construction to wire /metrics counters.
	Metrics *metrics.Metrics

	consecutiveFailures int
	firstFailureAt      time.Time
}

func NewConsumer(source Source, dispatcher Dispatcher, tracker *netns.Tracker, dedupWindow time.Duration, logger *zap.Logger) *Consumer {
	return &Consumer{
		source:     source,
		dispatcher: dispatcher,
		tracker:    tracker,
		dedup:      NewDeduper(dedupWindow),
		logger:     logger,
	}
}

// Poll blocks up to deadline, decoding and dispatching every ready event
// after the dedup and namespace filters. Returns ErrUnhealthy if the ring
// should be considered dead.
func (c *Consumer) Poll(deadline time.Time) error {
	if err := c.source.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set ring deadline: %w", err)
	}

	for {
		raw, err := c.source.Read()
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		if err != nil {
			if unhealthyErr := c.recordFailure(err); unhealthyErr != nil {
				return unhealthyErr
			}
			continue
		}
		c.consecutiveFailures = 0

		ev, err := Decode(raw)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("dropping malformed ring record", zap.Error(err))
			}
			continue
		}

		c.processEvent(ev)
	}
}

func (c *Consumer) recordFailure(err error) error {
	now := time.Now()
	if c.consecutiveFailures == 0 || now.Sub(c.firstFailureAt) >= time.Second {
		c.consecutiveFailures = 1
		c.firstFailureAt = now
	} else {
		c.consecutiveFailures++
	}

	if c.logger != nil {
		c.logger.Warn("ring read failed", zap.Error(err), zap.Int("consecutive", c.consecutiveFailures))
	}

	if c.consecutiveFailures >= 3 {
		return ErrUnhealthy
	}
	return nil
}

func (c *Consumer) processEvent(ev domain.Event) {
	if ev.ScenarioID == domain.ScenarioNetnsCreate {
		c.tracker.Create(ev.NetnsCookie, ev.PID)
		return
	}
	if ev.ScenarioID == domain.ScenarioNetnsDestroy {
		c.tracker.Destroy(ev.NetnsCookie)
		return
	}

	if !c.dedup.Allow(ev.TunerID, ev.EventID, ev.NetnsCookie) {
		if c.Metrics != nil {
			c.Metrics.DedupDrops.Inc()
		}
		return
	}

	if ev.NetnsCookie != domain.CookieNone {
		if !c.tracker.ShouldDeliver(ev.NetnsCookie) {
			return
		}
		c.tracker.Observe(ev.NetnsCookie, ev.PID)
	}

	if c.Metrics != nil {
		c.Metrics.EventsDispatched.Inc()
	}
	c.dispatcher.Dispatch(ev)
}
