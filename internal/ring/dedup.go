package ring

import (
	"time"

	"github.com/ptr1337/bpftune/internal/domain"
)

// dedupKey packs (netns_cookie, event_id, tuner_id) into a single map key:
// cookie in the low 32 bits, event id in the next 16, tuner id in the top
// 16, so a raw key value is still readable when cross-referencing a trace.
type dedupKey uint64

func makeDedupKey(tuner domain.TunerID, eventID domain.TunableID, cookie domain.NamespaceCookie) dedupKey {
	return dedupKey(uint64(cookie) | uint64(eventID)<<32 | uint64(tuner)<<48)
}

// Deduper enforces a fixed per-key suppression window, evicting the oldest
// 1/8 of entries once the table hits its cap rather than ever dropping an
// event on account of table size.
type Deduper struct {
	window  time.Duration
	maxSize int
	last    map[dedupKey]time.Time
	nowFn   func() time.Time
}

const defaultMaxDedupEntries = 1 << 20

func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window:  window,
		maxSize: defaultMaxDedupEntries,
		last:    make(map[dedupKey]time.Time),
		nowFn:   time.Now,
	}
}

// Allow reports whether an event for this (tuner, eventID, cookie) should
// proceed to dispatch, updating the last-seen timestamp when it does.
func (d *Deduper) Allow(tuner domain.TunerID, eventID domain.TunableID, cookie domain.NamespaceCookie) bool {
	key := makeDedupKey(tuner, eventID, cookie)
	now := d.nowFn()

	if last, ok := d.last[key]; ok && now.Sub(last) < d.window {
		return false
	}

	if len(d.last) >= d.maxSize {
		d.evictOldest()
	}

	d.last[key] = now
	return true
}

// evictOldest drops the oldest 1/8 of tracked entries.
func (d *Deduper) evictOldest() {
	type agedKey struct {
		key dedupKey
		at  time.Time
	}
	aged := make([]agedKey, 0, len(d.last))
	for k, t := range d.last {
		aged = append(aged, agedKey{k, t})
	}

	evictCount := len(aged) / 8
	if evictCount == 0 {
		evictCount = 1
	}

	for i := 0; i < evictCount; i++ {
		oldestIdx := 0
		for j := 1; j < len(aged); j++ {
			if aged[j].at.Before(aged[oldestIdx].at) {
				oldestIdx = j
			}
		}
		delete(d.last, aged[oldestIdx].key)
		aged[oldestIdx] = aged[len(aged)-1]
		aged = aged[:len(aged)-1]
	}
}
