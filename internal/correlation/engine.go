// Package correlation implements a streaming Pearson-correlation estimator:
// a content-addressed map of (tunable-id, netns-cookie) -> running sums,
// updated incrementally and queried on demand without ever re-scanning
// history.
package correlation

import (
	"math"
	"sync"

	"github.com/ptr1337/bpftune/internal/domain"
)

// Entry holds the running sums for one (tunable, namespace) pair. All
// arithmetic is int64 and saturates rather than wraps on overflow, to match
// the kernel-side accumulator's own overflow behavior bit-for-bit.
type Entry struct {
	N   int64
	SumX, SumY   int64
	SumXY        int64
	SumX2, SumY2 int64
}

// key packs (tunable id, netns cookie) the same way the ring consumer's
// dedup and namespace maps do, so the three read the same under a debugger.
type key struct {
	tunable domain.TunableID
	netns   domain.NamespaceCookie
}

// Engine is the userspace-canonical implementation of corr_update /
// corr_compute. It is safe for concurrent use, since both kernel probes and
// userspace handlers may update the same entry.
type Engine struct {
	mu      sync.Mutex
	entries map[key]*Entry
}

func New() *Engine {
	return &Engine{entries: make(map[key]*Entry)}
}

// Update implements corr_update(entry, x, y): n++, Σx+=x, Σy+=y, Σxy+=xy,
// Σx²+=x², Σy²+=y², with saturating addition.
func (e *Engine) Update(tunable domain.TunableID, netns domain.NamespaceCookie, x, y int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := key{tunable, netns}
	ent, ok := e.entries[k]
	if !ok {
		ent = &Entry{}
		e.entries[k] = ent
	}

	ent.N = satAdd(ent.N, 1)
	ent.SumX = satAdd(ent.SumX, x)
	ent.SumY = satAdd(ent.SumY, y)
	ent.SumXY = satAdd(ent.SumXY, satMul(x, y))
	ent.SumX2 = satAdd(ent.SumX2, satMul(x, x))
	ent.SumY2 = satAdd(ent.SumY2, satMul(y, y))
}

// Compute implements corr_compute: the Pearson coefficient in double
// precision, or 0 when n<2 or either variance factor is non-positive.
func (e *Engine) Compute(tunable domain.TunableID, netns domain.NamespaceCookie) float64 {
	e.mu.Lock()
	ent, ok := e.entries[key{tunable, netns}]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	return computeFromEntry(ent)
}

// Snapshot returns a copy of the entry for (tunable, netns), or nil if no
// updates have been observed. Callers (e.g. the write policy) tolerate torn
// reads by recomputing; a Snapshot is this package's only read primitive
// beyond Compute, used mainly for logging a covariance line.
func (e *Engine) Snapshot(tunable domain.TunableID, netns domain.NamespaceCookie) (Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[key{tunable, netns}]
	if !ok {
		return Entry{}, false
	}
	return *ent, true
}

func computeFromEntry(ent *Entry) float64 {
	if ent.N < 2 {
		return 0
	}
	n := float64(ent.N)
	sx, sy := float64(ent.SumX), float64(ent.SumY)
	sxy := float64(ent.SumXY)
	sx2, sy2 := float64(ent.SumX2), float64(ent.SumY2)

	numerator := n*sxy - sx*sy
	varX := n*sx2 - sx*sx
	varY := n*sy2 - sy*sy
	if varX <= 0 || varY <= 0 {
		return 0
	}
	denominator := math.Sqrt(varX * varY)
	if denominator == 0 {
		return 0
	}
	r := numerator / denominator
	if r > 1.0 {
		r = 1.0
	} else if r < -1.0 {
		r = -1.0
	}
	return r
}

const (
	maxInt64 = int64(1<<63 - 1)
	minInt64 = -maxInt64 - 1
)

// satAdd adds two int64s, clamping to the int64 range instead of wrapping.
func satAdd(a, b int64) int64 {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		if b > 0 {
			return maxInt64
		}
		return minInt64
	}
	return sum
}

// satMul multiplies two int64s, clamping to the int64 range instead of
// wrapping, preserving the sign of the true product on overflow.
func satMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	result := a * b
	if result/b != a {
		if (a > 0) == (b > 0) {
			return maxInt64
		}
		return minInt64
	}
	return result
}
