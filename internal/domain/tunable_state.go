package domain

// NamespaceCookie is the 64-bit identifier the kernel assigns to a network
// namespace. CookieNone is the sentinel meaning "namespaces unsupported",
// represented as signed int64 value -1.
type NamespaceCookie int64

const CookieNone NamespaceCookie = -1

// TunableKey identifies one Tunable State row: a tuner's claim on a
// descriptor, scoped to a namespace (CookieNone for the global namespace).
type TunableKey struct {
	Tuner    TunerID
	Tunable  TunableID
	NetnsKey NamespaceCookie
}

// TunableState is the per (tuner, tunable, namespace) bookkeeping row the
// registry owns. Arity-sized arrays are always indexed [0:3); unused
// trailing slots for arity<3 descriptors are left zero and ignored.
type TunableState struct {
	Original [3]int64
	Current  [3]int64

	LastWriteNS int64
	WriteCount  uint64

	// captured is false until Original has been read from the kernel once.
	captured bool
}

func (s *TunableState) Captured() bool { return s.captured }

func (s *TunableState) MarkCaptured(values [3]int64) {
	s.Original = values
	s.Current = values
	s.captured = true
}
