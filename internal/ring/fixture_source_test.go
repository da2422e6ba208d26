package ring

import (
	"time"
)

// fixtureSource feeds a fixed slice of records and then reports
// ErrWouldBlock forever, simulating an idle ring after a burst of events.
type fixtureSource struct {
	records [][]byte
	pos     int
}

func (f *fixtureSource) SetDeadline(time.Time) error { return nil }

func (f *fixtureSource) Read() ([]byte, error) {
	if f.pos >= len(f.records) {
		return nil, ErrWouldBlock
	}
	r := f.records[f.pos]
	f.pos++
	return r, nil
}
