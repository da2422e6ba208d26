// Package ring implements the event ring consumer. It drains a
// shared-memory ring buffer populated by kernel probes, decodes the fixed
// binary record layout, and dispatches to tuners after a dedup filter and a
// namespace filter.
package ring

import (
	"encoding/binary"
	"fmt"

	"github.com/ptr1337/bpftune/internal/domain"
)

// recordHeaderSize is the byte size of the fixed fields preceding the
// update array: tuner_id, scenario_id, event_id, pid (u32 each) + netns_cookie (i64).
const recordHeaderSize = 4 + 4 + 4 + 4 + 8

// updateSize is the byte size of one update{id, old[3], new[3]} entry:
// one u32 plus six i64s.
const updateSize = 4 + 3*8 + 3*8

// Decode parses one fixed-format ring buffer record. raw must contain the
// header followed by zero or more update entries; the number of updates is
// inferred from the remaining length, capped at domain.MaxUpdates.
func Decode(raw []byte) (domain.Event, error) {
	if len(raw) < recordHeaderSize {
		return domain.Event{}, fmt.Errorf("ring record too short: %d bytes", len(raw))
	}

	ev := domain.Event{
		TunerID:     domain.TunerID(binary.LittleEndian.Uint32(raw[0:4])),
		ScenarioID:  domain.ScenarioID(binary.LittleEndian.Uint32(raw[4:8])),
		EventID:     domain.TunableID(binary.LittleEndian.Uint32(raw[8:12])),
		PID:         binary.LittleEndian.Uint32(raw[12:16]),
		NetnsCookie: domain.NamespaceCookie(int64(binary.LittleEndian.Uint64(raw[16:24]))),
	}

	remaining := raw[recordHeaderSize:]
	n := len(remaining) / updateSize
	if n > domain.MaxUpdates {
		n = domain.MaxUpdates
	}

	ev.Updates = make([]domain.Update, 0, n)
	for i := 0; i < n; i++ {
		off := i * updateSize
		var u domain.Update
		u.ID = domain.TunableID(binary.LittleEndian.Uint32(remaining[off : off+4]))
		off += 4
		for j := 0; j < 3; j++ {
			u.Old[j] = int64(binary.LittleEndian.Uint64(remaining[off : off+8]))
			off += 8
		}
		for j := 0; j < 3; j++ {
			u.New[j] = int64(binary.LittleEndian.Uint64(remaining[off : off+8]))
			off += 8
		}
		ev.Updates = append(ev.Updates, u)
	}

	return ev, nil
}

// Encode renders ev back into the fixed binary layout. Used by tests and by
// the reference ring Source implementation's loopback mode.
func Encode(ev domain.Event) []byte {
	buf := make([]byte, recordHeaderSize+len(ev.Updates)*updateSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ev.TunerID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(ev.ScenarioID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(ev.EventID))
	binary.LittleEndian.PutUint32(buf[12:16], ev.PID)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(int64(ev.NetnsCookie)))

	off := recordHeaderSize
	for _, u := range ev.Updates {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(u.ID))
		off += 4
		for j := 0; j < 3; j++ {
			binary.LittleEndian.PutUint64(buf[off:off+8], uint64(u.Old[j]))
			off += 8
		}
		for j := 0; j < 3; j++ {
			binary.LittleEndian.PutUint64(buf[off:off+8], uint64(u.New[j]))
			off += 8
		}
	}
	return buf
}
