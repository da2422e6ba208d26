package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/ptr1337/bpftune/internal/correlation"
	"github.com/ptr1337/bpftune/internal/metrics"
	"github.com/ptr1337/bpftune/internal/netns"
	"github.com/ptr1337/bpftune/internal/registry"
	"github.com/ptr1337/bpftune/internal/ring"
	"github.com/ptr1337/bpftune/internal/tuner"
)

// idleSource never has a record ready; every Read reports ErrWouldBlock
// once the deadline passes, simulating a quiet ring.
type idleSource struct{}

func (idleSource) SetDeadline(time.Time) error { return nil }
func (idleSource) Read() ([]byte, error)       { return nil, ring.ErrWouldBlock }

type nopLoader struct{}

func (nopLoader) Discover(dir string) ([]tuner.Artifact, error) { return nil, nil }
func (nopLoader) Load(art tuner.Artifact) (tuner.EntryPoints, error) {
	return tuner.EntryPoints{}, nil
}

func newTestSupervisor(t *testing.T, dir string) *Supervisor {
	t.Helper()
	tracker := netns.New(nil)
	reg := registry.New(true, tracker, nil)
	corr := correlation.New()
	host := tuner.NewHost(dir, reg, corr, nopLoader{}, nil)
	consumer := ring.NewConsumer(idleSource{}, host, tracker, 25*time.Millisecond, nil)
	return New(consumer, tracker, host, metrics.New(), time.Hour, dir, nil)
}

func TestRunReturnsCleanOnContextCancel(t *testing.T) {
	s := newTestSupervisor(t, t.TempDir())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	code := s.Run(ctx)
	if code != ExitClean {
		t.Fatalf("expected ExitClean, got %v", code)
	}
}

func TestRunReturnsRingUnhealthyOnRepeatedFailures(t *testing.T) {
	tracker := netns.New(nil)
	reg := registry.New(true, tracker, nil)
	corr := correlation.New()
	dir := t.TempDir()
	host := tuner.NewHost(dir, reg, corr, nopLoader{}, nil)
	consumer := ring.NewConsumer(failingSource{}, host, tracker, 25*time.Millisecond, nil)
	s := New(consumer, tracker, host, metrics.New(), time.Hour, dir, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	code := s.Run(ctx)
	if code != ExitRingUnhealthy {
		t.Fatalf("expected ExitRingUnhealthy, got %v", code)
	}
}

type failingSource struct{}

func (failingSource) SetDeadline(time.Time) error { return nil }
func (failingSource) Read() ([]byte, error)       { return nil, errBoom }

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }
