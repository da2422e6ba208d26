// Package tuner implements the tuner plugin host. It discovers plugin
// artifacts, loads them, and invokes their three entry points
// (init/fini/event_handler), maintaining the roster of live tuners the
// rest of the daemon dispatches events against.
package tuner

import (
	"github.com/ptr1337/bpftune/internal/domain"
)

// Host is the capability every tuner's init() receives, giving it access
// to register tunables and scenarios without holding a back-reference to
// the full supervisor -- broken via an index into the host's flat tuner
// array, not a pointer cycle.
type Host interface {
	// RegisterTunables declares this tuner's tunable descriptors, capturing
	// their original kernel values.
	RegisterTunables(id domain.TunerID, descs []domain.TunableDescriptor) error

	// RegisterScenarios declares this tuner's scenario descriptors, purely
	// informational.
	RegisterScenarios(id domain.TunerID, scenarios []domain.ScenarioDescriptor)

	// Write proposes a tunable write, subject to the registry's cap,
	// cooldown, and namespace-entry policy.
	Write(id domain.TunerID, tunable domain.TunableID, scenario domain.ScenarioKind,
		netns domain.NamespaceCookie, arity int, values [3]int64, reasonFmt string, args ...interface{}) error

	// CorrCompute returns the streaming Pearson coefficient for
	// (tunable, netns).
	CorrCompute(tunable domain.TunableID, netns domain.NamespaceCookie) float64

	// CorrUpdate feeds a new (x, y) sample pair into the correlation
	// engine for (tunable, netns).
	CorrUpdate(tunable domain.TunableID, netns domain.NamespaceCookie, x, y int64)
}

// EntryPoints is the tagged capability set resolved from a loaded
// artifact -- three function values, regardless of whether they came from
// a dlopen-style dynamic plugin or a statically compiled in-tree tuner (the
// rest of the system must not distinguish the two).
type EntryPoints struct {
	// Init attaches probes, declares tunables/scenarios via Host, and
	// captures original values. Non-nil error marks the tuner Failed.
	Init func(host Host, id domain.TunerID) error

	// Fini detaches probes and releases resources. Must be idempotent;
	// rollback of written tunables is performed by the host, not Fini
	// itself.
	Fini func()

	// EventHandler is invoked once per event whose TunerID matches this
	// tuner. Must be non-blocking beyond a single sysctl write.
	EventHandler func(host Host, id domain.TunerID, ev domain.Event)
}

// Artifact describes one discovered plugin on disk, prior to loading.
type Artifact struct {
	Name    string // stable, filesystem-derived tuner name
	Path    string
	ModTime int64
}
