package correlation_test

import (
	"math"
	"testing"

	"github.com/ptr1337/bpftune/internal/correlation"
	"github.com/ptr1337/bpftune/internal/domain"
)

func TestComputePerfectCorrelation(t *testing.T) {
	e := correlation.New()
	for i := int64(1); i <= 10; i++ {
		e.Update(1, domain.CookieNone, i, i)
	}

	got := e.Compute(1, domain.CookieNone)
	if got < 0.99 {
		t.Fatalf("expected correlation >= 0.99, got %v", got)
	}
}

func TestComputeInsufficientSamples(t *testing.T) {
	e := correlation.New()
	if got := e.Compute(1, domain.CookieNone); got != 0 {
		t.Fatalf("expected 0 for unknown entry, got %v", got)
	}

	e.Update(1, domain.CookieNone, 5, 5)
	if got := e.Compute(1, domain.CookieNone); got != 0 {
		t.Fatalf("expected 0 for n=1, got %v", got)
	}
}

func TestComputeZeroVariance(t *testing.T) {
	e := correlation.New()
	for i := 0; i < 5; i++ {
		e.Update(1, domain.CookieNone, 7, int64(i))
	}

	got := e.Compute(1, domain.CookieNone)
	if got != 0 {
		t.Fatalf("expected 0 when x has no variance, got %v", got)
	}
}

func TestComputeNegativeCorrelation(t *testing.T) {
	e := correlation.New()
	for i := int64(1); i <= 10; i++ {
		e.Update(1, domain.CookieNone, i, 100-i)
	}

	got := e.Compute(1, domain.CookieNone)
	if got > -0.99 {
		t.Fatalf("expected correlation <= -0.99, got %v", got)
	}
}

func TestComputeBoundedRange(t *testing.T) {
	e := correlation.New()
	for i := int64(1); i <= 50; i++ {
		e.Update(2, domain.CookieNone, i, i*i%7)
	}

	got := e.Compute(2, domain.CookieNone)
	if math.IsNaN(got) || got < -1.0 || got > 1.0 {
		t.Fatalf("correlation out of [-1,1]: %v", got)
	}
}

func TestEntriesAreIndependentPerKey(t *testing.T) {
	e := correlation.New()
	for i := int64(1); i <= 10; i++ {
		e.Update(1, domain.CookieNone, i, i)
		e.Update(1, domain.NamespaceCookie(42), i, -i)
	}

	global := e.Compute(1, domain.CookieNone)
	scoped := e.Compute(1, domain.NamespaceCookie(42))
	if global < 0.99 {
		t.Fatalf("expected global entry positively correlated, got %v", global)
	}
	if scoped > -0.99 {
		t.Fatalf("expected namespaced entry negatively correlated, got %v", scoped)
	}
}

func TestSnapshotReflectsSampleCount(t *testing.T) {
	e := correlation.New()
	if _, ok := e.Snapshot(9, domain.CookieNone); ok {
		t.Fatal("expected no snapshot before any update")
	}

	e.Update(9, domain.CookieNone, 1, 2)
	e.Update(9, domain.CookieNone, 3, 4)

	snap, ok := e.Snapshot(9, domain.CookieNone)
	if !ok {
		t.Fatal("expected snapshot to exist after updates")
	}
	if snap.N != 2 {
		t.Fatalf("expected n=2, got %d", snap.N)
	}
}
