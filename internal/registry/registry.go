// Package registry owns the authoritative view of every tunable a tuner has
// claimed, mediates every write through a cap and a cooldown, and guarantees
// rollback to the captured original value on tuner teardown.
package registry

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ptr1337/bpftune/internal/domain"
	"github.com/ptr1337/bpftune/internal/metrics"
	"github.com/ptr1337/bpftune/internal/netns"
	"github.com/ptr1337/bpftune/internal/sysctl"
)

const (
	// DefaultMaxGrowthFactor bounds how far an INCREASE write may exceed
	// the captured original before being clamped.
	DefaultMaxGrowthFactor = 4
	// DefaultMaxShrinkFactor bounds how far a DECREASE write may fall
	// below the captured original before being clamped.
	DefaultMaxShrinkFactor = 4
	// DefaultMinWriteInterval is the per-(tunable,namespace) cooldown.
	DefaultMinWriteInterval = time.Second
)

// namespaceResolver resolves a namespace cookie to a writable handle path.
// Satisfied by *netns.Tracker; an interface so tests can substitute a fake.
type namespaceResolver interface {
	HandlePath(domain.NamespaceCookie) (string, error)
}

// writer abstracts the actual sysctl I/O so tests never touch /proc/sys.
type writer interface {
	Read(name string, arity int) ([3]int64, error)
	Write(name string, arity int, values [3]int64) error
	ReadInNamespace(nsHandlePath, name string, arity int) ([3]int64, error)
	WriteInNamespace(nsHandlePath, name string, arity int, values [3]int64) error
}

type osWriter struct{}

func (osWriter) Read(name string, arity int) ([3]int64, error) { return sysctl.Read(name, arity) }
func (osWriter) Write(name string, arity int, values [3]int64) error {
	return sysctl.Write(name, arity, values)
}
func (osWriter) ReadInNamespace(nsHandlePath, name string, arity int) ([3]int64, error) {
	return sysctl.ReadInNamespace(nsHandlePath, name, arity)
}
func (osWriter) WriteInNamespace(nsHandlePath, name string, arity int, values [3]int64) error {
	return sysctl.WriteInNamespace(nsHandlePath, name, arity, values)
}

// Registry is mutated only by the supervisor's single event-loop goroutine,
// a single-writer guarantee that lets it carry no internal locking.
type Registry struct {
	netnsEnabled     bool
	maxGrowthFactor  int64
	maxShrinkFactor  int64
	minWriteInterval time.Duration

	descriptors map[domain.TunerID]map[domain.TunableID]domain.TunableDescriptor
	states      map[domain.TunableKey]*domain.TunableState
	touched     map[domain.TunerID]map[domain.TunableKey]struct{}

	tracker namespaceResolver
	w       writer
	logger  *zap.Logger
	nowNS   func() int64

	// Metrics is optional; set after construction to wire /metrics counters.
	Metrics *metrics.Metrics
}

// New constructs a Registry. When netnsEnabled is false, every write is
// forced global even for namespaced descriptors.
func New(netnsEnabled bool, tracker *netns.Tracker, logger *zap.Logger) *Registry {
	return &Registry{
		netnsEnabled:     netnsEnabled,
		maxGrowthFactor:  DefaultMaxGrowthFactor,
		maxShrinkFactor:  DefaultMaxShrinkFactor,
		minWriteInterval: DefaultMinWriteInterval,
		descriptors:      make(map[domain.TunerID]map[domain.TunableID]domain.TunableDescriptor),
		states:           make(map[domain.TunableKey]*domain.TunableState),
		touched:          make(map[domain.TunerID]map[domain.TunableKey]struct{}),
		tracker:          tracker,
		w:                osWriter{},
		logger:           logger,
		nowNS:            func() int64 { return time.Now().UnixNano() },
	}
}

// Register reads the current kernel value for each descriptor into original
// and current; for namespaced tunables, only the global namespace is
// captured eagerly, and per-namespace capture is deferred to first
// observation (the first Write call for that namespace).
func (r *Registry) Register(tuner domain.TunerID, descs []domain.TunableDescriptor) error {
	table, ok := r.descriptors[tuner]
	if !ok {
		table = make(map[domain.TunableID]domain.TunableDescriptor)
		r.descriptors[tuner] = table
	}

	var firstErr error
	for _, d := range descs {
		table[d.ID] = d

		key := domain.TunableKey{Tuner: tuner, Tunable: d.ID, NetnsKey: domain.CookieNone}
		values, err := r.w.Read(d.Name, d.Arity)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("sysctl read failed during register",
					zap.String("tunable", d.Name), zap.Error(err))
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		state := &domain.TunableState{}
		state.MarkCaptured(values)
		r.states[key] = state
	}
	return firstErr
}

// ensureState returns the state row for key, capturing original from the
// kernel on first touch if it does not exist yet (this is how namespaced
// tunables get captured: lazily, on the first Write for that namespace).
func (r *Registry) ensureState(key domain.TunableKey, desc domain.TunableDescriptor, handlePath string) (*domain.TunableState, error) {
	if s, ok := r.states[key]; ok {
		return s, nil
	}

	var values [3]int64
	var err error
	if handlePath == "" {
		values, err = r.w.Read(desc.Name, desc.Arity)
	} else {
		values, err = r.w.ReadInNamespace(handlePath, desc.Name, desc.Arity)
	}
	if err != nil {
		return nil, fmt.Errorf("capture original for %s: %w", desc.Name, err)
	}

	s := &domain.TunableState{}
	s.MarkCaptured(values)
	r.states[key] = s
	return s, nil
}

// Write applies the cap and cooldown policy, checks for an external
// mutation since the last write, then performs the actual sysctl write,
// global or namespaced.
func (r *Registry) Write(
	tuner domain.TunerID,
	id domain.TunableID,
	scenario domain.ScenarioKind,
	cookie domain.NamespaceCookie,
	arity int,
	values [3]int64,
	reasonFmt string,
	args ...interface{},
) error {
	table, ok := r.descriptors[tuner]
	if !ok {
		return ErrUnknownDescriptor
	}
	desc, ok := table[id]
	if !ok {
		return ErrUnknownDescriptor
	}

	effectiveCookie := cookie
	if !r.netnsEnabled || !desc.Namespaced {
		effectiveCookie = domain.CookieNone
	}

	var handlePath string
	if effectiveCookie != domain.CookieNone {
		var err error
		handlePath, err = r.tracker.HandlePath(effectiveCookie)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("namespace enter failed, skipping write",
					zap.String("tunable", desc.Name), zap.Int64("netns", int64(effectiveCookie)))
			}
			return fmt.Errorf("%w: %v", ErrNamespaceUnknown, err)
		}
	}

	key := domain.TunableKey{Tuner: tuner, Tunable: id, NetnsKey: effectiveCookie}
	state, err := r.ensureState(key, desc, handlePath)
	if err != nil {
		return err
	}

	// Re-read before writing; if the kernel value drifted from our last
	// known current, an external administrator changed it -- adopt it as
	// the new original and continue, yielding precedence.
	r.detectExternalMutation(state, desc, handlePath)

	effective := r.applyCap(scenario, state, arity, values)

	now := r.nowNS()
	if now-state.LastWriteNS < r.minWriteInterval.Nanoseconds() && state.WriteCount > 0 {
		return ErrCooldown
	}

	if err := r.doWrite(desc, handlePath, arity, effective); err != nil {
		if r.logger != nil {
			r.logger.Warn("sysctl write failed", zap.String("tunable", desc.Name), zap.Error(err))
		}
		if r.Metrics != nil {
			r.Metrics.SysctlWriteErrors.Inc()
		}
		return fmt.Errorf("write %s: %w", desc.Name, err)
	}
	if r.Metrics != nil {
		r.Metrics.SysctlWrites.Inc()
	}

	state.Current = effective
	state.LastWriteNS = now
	state.WriteCount++
	r.markTouched(tuner, key)

	if r.logger != nil {
		r.logger.Info(fmt.Sprintf(reasonFmt, args...))
	}
	return nil
}

func (r *Registry) applyCap(scenario domain.ScenarioKind, state *domain.TunableState, arity int, values [3]int64) [3]int64 {
	out := values
	switch scenario {
	case domain.ScenarioIncrease:
		for i := 0; i < arity; i++ {
			if state.Original[i] > 0 && out[i] > state.Original[i]*r.maxGrowthFactor {
				out[i] = state.Original[i] * r.maxGrowthFactor
			}
		}
	case domain.ScenarioDecrease:
		for i := 0; i < arity; i++ {
			if state.Original[i] > 0 && out[i] < state.Original[i]/r.maxShrinkFactor {
				out[i] = state.Original[i] / r.maxShrinkFactor
			}
		}
	}
	return out
}

func (r *Registry) detectExternalMutation(state *domain.TunableState, desc domain.TunableDescriptor, handlePath string) {
	var current [3]int64
	var err error
	if handlePath == "" {
		current, err = r.w.Read(desc.Name, desc.Arity)
	} else {
		current, err = r.w.ReadInNamespace(handlePath, desc.Name, desc.Arity)
	}
	if err != nil {
		return
	}

	if current != state.Current {
		if r.logger != nil {
			r.logger.Warn("external mutation detected, adopting kernel value as new original",
				zap.String("tunable", desc.Name))
		}
		state.Original = current
		state.Current = current
	}
}

func (r *Registry) doWrite(desc domain.TunableDescriptor, handlePath string, arity int, values [3]int64) error {
	if handlePath == "" {
		return r.w.Write(desc.Name, arity, values)
	}
	return r.w.WriteInNamespace(handlePath, desc.Name, arity, values)
}

func (r *Registry) markTouched(tuner domain.TunerID, key domain.TunableKey) {
	set, ok := r.touched[tuner]
	if !ok {
		set = make(map[domain.TunableKey]struct{})
		r.touched[tuner] = set
	}
	set[key] = struct{}{}
}

// Rollback restores, for every (id, netns) this tuner has written, the
// captured original value via the same write path, bypassing cap and
// cooldown. Idempotent: calling it twice is equivalent to once, since the
// second pass finds state.Current already equal to Original and the writes
// are no-ops at the kernel level (still performed, rather than skipped).
func (r *Registry) Rollback(tuner domain.TunerID) error {
	set, ok := r.touched[tuner]
	if !ok {
		return nil
	}

	table := r.descriptors[tuner]
	var firstErr error
	for key := range set {
		state, ok := r.states[key]
		if !ok {
			continue
		}
		desc, ok := table[key.Tunable]
		if !ok {
			continue
		}

		var handlePath string
		if key.NetnsKey != domain.CookieNone {
			var err error
			handlePath, err = r.tracker.HandlePath(key.NetnsKey)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}

		if err := r.doWrite(desc, handlePath, desc.Arity, state.Original); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		state.Current = state.Original
		state.LastWriteNS = r.nowNS()
		state.WriteCount++
		if r.Metrics != nil {
			r.Metrics.Rollbacks.Inc()
		}
	}
	return firstErr
}

// Deregister rolls back any writes this tuner has made, then forgets its
// descriptors and captured state entirely. Used when a tuner's init fails
// partway through: anything it managed to register or write before the
// failure must not linger under an id that will never be attached.
func (r *Registry) Deregister(tuner domain.TunerID) error {
	err := r.Rollback(tuner)
	for key := range r.states {
		if key.Tuner == tuner {
			delete(r.states, key)
		}
	}
	delete(r.descriptors, tuner)
	delete(r.touched, tuner)
	return err
}
