// Package netns implements the namespace tracker: a table mapping netns
// cookie to namespace metadata, fed by NETNS_CREATE / NETNS_DESTROY events
// and first-observation insertion.
package netns

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ptr1337/bpftune/internal/domain"
)

// EvictionGrace is the default grace period a tombstoned namespace is kept
// around before eviction, so late events can still resolve it.
const EvictionGrace = 30 * time.Second

// Tracker owns the single process-wide cookie -> Namespace mapping.
// Mutated only by the supervisor's event-loop goroutine; exported methods
// are still mutex-guarded so tests and the metrics endpoint can read
// concurrently.
type Tracker struct {
	mu     sync.RWMutex
	byID   map[domain.NamespaceCookie]*record
	logger *zap.Logger
	grace  time.Duration
	now    func() time.Time
}

type record struct {
	ns  domain.Namespace
	pid uint32 // last PID observed in this namespace, for sysctl handle resolution
}

// SetClock overrides the tracker's time source; used by tests to simulate
// grace-period expiry without sleeping.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func New(logger *zap.Logger) *Tracker {
	return &Tracker{
		byID:   make(map[domain.NamespaceCookie]*record),
		logger: logger,
		grace:  EvictionGrace,
		now:    time.Now,
	}
}

// Observe ensures a namespace record exists for cookie, inserting a Live
// record on first sighting if absent. It does not change the lifecycle of
// an existing record.
func (t *Tracker) Observe(cookie domain.NamespaceCookie, pid uint32) {
	if cookie == domain.CookieNone {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byID[cookie]
	if !ok {
		t.byID[cookie] = &record{
			ns: domain.Namespace{
				Cookie:      cookie,
				CreatedAtNS: t.now().UnixNano(),
				RefCount:    1,
				Lifecycle:   domain.NamespaceLive,
			},
			pid: pid,
		}
		return
	}
	r.ns.RefCount++
	if pid != 0 {
		r.pid = pid
	}
}

// Create handles a NETNS_CREATE event.
func (t *Tracker) Create(cookie domain.NamespaceCookie, pid uint32) {
	if cookie == domain.CookieNone {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byID[cookie]
	if !ok {
		t.byID[cookie] = &record{
			ns: domain.Namespace{
				Cookie:      cookie,
				CreatedAtNS: t.now().UnixNano(),
				RefCount:    1,
				Lifecycle:   domain.NamespaceLive,
			},
			pid: pid,
		}
		return
	}
	r.ns.Lifecycle = domain.NamespaceLive
	if pid != 0 {
		r.pid = pid
	}
}

// Destroy marks cookie Tombstoned. A destroy for an unknown cookie is
// ignored -- there is nothing to tombstone and no late events can reference
// a namespace this tracker never observed as live.
func (t *Tracker) Destroy(cookie domain.NamespaceCookie) {
	if cookie == domain.CookieNone {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byID[cookie]
	if !ok {
		return
	}
	r.ns.Lifecycle = domain.NamespaceTombstoned
	r.ns.TombstonedNS = t.now().UnixNano()
}

// Lifecycle reports the current state of cookie. Unknown cookies and the
// CookieNone sentinel both report NamespaceLive-equivalent "deliverable"
// behavior through ShouldDeliver below; Lifecycle itself returns a zero
// value and false for never-seen cookies.
func (t *Tracker) Lifecycle(cookie domain.NamespaceCookie) (domain.NamespaceLifecycle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byID[cookie]
	if !ok {
		return 0, false
	}
	return r.ns.Lifecycle, true
}

// ShouldDeliver reports whether an event referencing cookie should still be
// delivered: Tombstoned cookies deliver normally, Evicted ones are dropped.
// Unknown or CookieNone cookies are always delivered (global events, or
// namespaces not yet observed).
func (t *Tracker) ShouldDeliver(cookie domain.NamespaceCookie) bool {
	if cookie == domain.CookieNone {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byID[cookie]
	if !ok {
		return true
	}
	return r.ns.Lifecycle != domain.NamespaceEvicted
}

// EvictExpired promotes Tombstoned records older than the grace period to
// Evicted. Called periodically by the supervisor loop, not on every event.
func (t *Tracker) EvictExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UnixNano()
	for _, r := range t.byID {
		if r.ns.Lifecycle == domain.NamespaceTombstoned &&
			now-r.ns.TombstonedNS >= t.grace.Nanoseconds() {
			r.ns.Lifecycle = domain.NamespaceEvicted
			if t.logger != nil {
				t.logger.Debug("netns evicted", zap.Int64("cookie", int64(r.ns.Cookie)))
			}
		}
	}
}

// HandlePath resolves a cookie to a /proc/<pid>/ns/net path suitable for
// sysctl.WriteInNamespace, using the PID last observed inside that
// namespace. Returns an error if the cookie was never observed with a PID.
func (t *Tracker) HandlePath(cookie domain.NamespaceCookie) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byID[cookie]
	if !ok || r.pid == 0 {
		return "", fmt.Errorf("no known process for netns cookie %d", cookie)
	}
	return fmt.Sprintf("/proc/%d/ns/net", r.pid), nil
}

// Snapshot returns a copy of every tracked namespace, for diagnostics.
func (t *Tracker) Snapshot() []domain.Namespace {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Namespace, 0, len(t.byID))
	for _, r := range t.byID {
		out = append(out, r.ns)
	}
	return out
}
