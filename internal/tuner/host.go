package tuner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ptr1337/bpftune/internal/correlation"
	"github.com/ptr1337/bpftune/internal/domain"
	"github.com/ptr1337/bpftune/internal/registry"
)

// Loader resolves a discovered Artifact into its three entry points. Both
// the dynamic (Go plugin) loader and any static in-tree loader satisfy
// this, so the host never needs to know which produced a given tuner.
type Loader interface {
	Discover(dir string) ([]Artifact, error)
	Load(artifact Artifact) (EntryPoints, error)
}

// liveTuner is the host's arena entry: the public domain.Tuner bookkeeping
// record plus the loaded entry points and originating artifact, broken out
// of domain.Tuner itself so that package stays free of the loader's
// concerns.
type liveTuner struct {
	rec      domain.Tuner
	entry    EntryPoints
	artifact Artifact
}

// Host discovers plugin artifacts, maintains the live roster, and routes
// events to each tuner's event_handler. It implements the tuner package's
// Host interface so a tuner's Init/EventHandler closures can call back into
// it without holding a pointer to the full supervisor. It is mutated only
// by the supervisor's single event-loop goroutine and carries no internal
// locking.
type Host struct {
	loader    Loader
	reg       *registry.Registry
	corr      *correlation.Engine
	logger    *zap.Logger
	pluginDir string

	nextID domain.TunerID
	tuners map[domain.TunerID]*liveTuner
	byName map[string]domain.TunerID
	failed map[string]int64 // name -> artifact mod time at last failure
}

func NewHost(pluginDir string, reg *registry.Registry, corr *correlation.Engine, loader Loader, logger *zap.Logger) *Host {
	return &Host{
		loader:    loader,
		reg:       reg,
		corr:      corr,
		logger:    logger,
		pluginDir: pluginDir,
		nextID:    1,
		tuners:    make(map[domain.TunerID]*liveTuner),
		byName:    make(map[string]domain.TunerID),
		failed:    make(map[string]int64),
	}
}

// Rescan lists the plugin directory, loads any artifact not already
// loaded, and fini+releases any previously loaded tuner whose artifact is
// now absent.
func (h *Host) Rescan() error {
	artifacts, err := h.loader.Discover(h.pluginDir)
	if err != nil {
		return fmt.Errorf("discover plugins in %s: %w", h.pluginDir, err)
	}

	seen := make(map[string]bool, len(artifacts))
	for _, art := range artifacts {
		seen[art.Name] = true

		if _, ok := h.byName[art.Name]; ok {
			continue
		}

		if lastFail, wasFailed := h.failed[art.Name]; wasFailed && lastFail == art.ModTime {
			continue
		}

		h.load(art)
	}

	for name, id := range h.byName {
		if seen[name] {
			continue
		}
		h.unload(id)
	}

	return nil
}

// LoadStatic registers an in-tree tuner directly, bypassing filesystem
// discovery entirely, but sharing the exact same record shape and
// lifecycle as a dynamically loaded one.
func (h *Host) LoadStatic(name string, entry EntryPoints) error {
	if _, exists := h.byName[name]; exists {
		return fmt.Errorf("tuner %s already loaded", name)
	}
	return h.loadEntry(Artifact{Name: name}, entry)
}

func (h *Host) load(art Artifact) {
	entry, err := h.loader.Load(art)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("plugin load failed", zap.String("tuner", art.Name), zap.Error(err))
		}
		h.failed[art.Name] = art.ModTime
		return
	}
	if err := h.loadEntry(art, entry); err != nil {
		if h.logger != nil {
			h.logger.Warn("plugin init failed", zap.String("tuner", art.Name), zap.Error(err))
		}
		h.failed[art.Name] = art.ModTime
	}
}

// loadEntry runs the common init sequence for both dynamic and static
// tuners: allocate an id, run Init to completion, and only then mark the
// tuner Attached, so no event is ever delivered to a tuner still mid-init.
// If Init fails, anything it registered or wrote through the host in the
// meantime is deregistered and rolled back -- a Failed tuner must never
// leave tunables claimed under its id.
func (h *Host) loadEntry(art Artifact, entry EntryPoints) error {
	id := h.nextID
	h.nextID++

	lt := &liveTuner{
		rec: domain.Tuner{
			ID:              id,
			Name:            art.Name,
			State:           domain.TunerLoaded,
			ArtifactModTime: art.ModTime,
		},
		entry:    entry,
		artifact: art,
	}
	h.tuners[id] = lt
	h.byName[art.Name] = id

	lt.rec.State = domain.TunerInitialized
	if err := entry.Init(h, id); err != nil {
		lt.rec.State = domain.TunerFailed
		if rbErr := h.reg.Deregister(id); rbErr != nil && h.logger != nil {
			h.logger.Warn("deregister incomplete after init failure",
				zap.String("tuner", art.Name), zap.Error(rbErr))
		}
		return fmt.Errorf("init tuner %s: %w", art.Name, err)
	}

	lt.rec.State = domain.TunerAttached
	delete(h.failed, art.Name)
	if h.logger != nil {
		h.logger.Info(fmt.Sprintf("attached tuner %s", art.Name))
	}
	return nil
}

// unload runs fini and rolls back a tuner's writes. Used both when an
// artifact disappears during a rescan and, in reverse load order, during
// graceful shutdown.
func (h *Host) unload(id domain.TunerID) {
	lt, ok := h.tuners[id]
	if !ok {
		return
	}

	lt.rec.State = domain.TunerGone
	lt.entry.Fini()
	if err := h.reg.Rollback(id); err != nil && h.logger != nil {
		h.logger.Warn("rollback incomplete", zap.String("tuner", lt.rec.Name), zap.Error(err))
	}
	if h.logger != nil {
		h.logger.Info(fmt.Sprintf("fini tuner %s", lt.rec.Name))
	}
	delete(h.byName, lt.rec.Name)
}

// Dispatch implements ring.Dispatcher: look up the tuner by id; if present
// and Initialized or Attached, call its event_handler synchronously. Events
// for a Gone or unknown tuner are dropped silently, so nothing is delivered
// to a tuner after fini even if the ring still has backlog carrying its id.
func (h *Host) Dispatch(ev domain.Event) {
	lt, ok := h.tuners[ev.TunerID]
	if !ok {
		if h.logger != nil {
			h.logger.Warn("dropping event for unknown tuner", zap.Uint32("tuner_id", uint32(ev.TunerID)))
		}
		return
	}
	if lt.rec.State != domain.TunerInitialized && lt.rec.State != domain.TunerAttached {
		return
	}

	if h.logger != nil {
		h.logger.Info(fmt.Sprintf("event (scenario %d) for tuner %s", ev.ScenarioID, lt.rec.Name))
	}
	lt.entry.EventHandler(h, lt.rec.ID, ev)
}

// ShutdownAll invokes fini on every live tuner in reverse load order. A
// fini timeout causes a tuner to be abandoned with a logged warning rather
// than blocking shutdown forever.
func (h *Host) ShutdownAll(finiTimeout time.Duration) {
	ids := make([]domain.TunerID, 0, len(h.tuners))
	for id, lt := range h.tuners {
		if lt.rec.State == domain.TunerInitialized || lt.rec.State == domain.TunerAttached {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	for _, id := range ids {
		done := make(chan struct{})
		go func(id domain.TunerID) {
			h.unload(id)
			close(done)
		}(id)

		select {
		case <-done:
		case <-time.After(finiTimeout):
			if h.logger != nil {
				h.logger.Warn("fini timed out, abandoning tuner", zap.Uint32("tuner_id", uint32(id)))
			}
		}
	}
}

// --- Host interface (used by tuner Init/EventHandler closures) ---

func (h *Host) RegisterTunables(id domain.TunerID, descs []domain.TunableDescriptor) error {
	lt, ok := h.tuners[id]
	if !ok {
		return fmt.Errorf("register tunables: unknown tuner %d", id)
	}
	lt.rec.Tunables = append(lt.rec.Tunables, descs...)
	return h.reg.Register(id, descs)
}

func (h *Host) RegisterScenarios(id domain.TunerID, scenarios []domain.ScenarioDescriptor) {
	if lt, ok := h.tuners[id]; ok {
		lt.rec.Scenarios = append(lt.rec.Scenarios, scenarios...)
	}
}

func (h *Host) Write(id domain.TunerID, tunable domain.TunableID, scenario domain.ScenarioKind,
	netns domain.NamespaceCookie, arity int, values [3]int64, reasonFmt string, args ...interface{}) error {
	return h.reg.Write(id, tunable, scenario, netns, arity, values, reasonFmt, args...)
}

func (h *Host) CorrCompute(tunable domain.TunableID, netns domain.NamespaceCookie) float64 {
	return h.corr.Compute(tunable, netns)
}

func (h *Host) CorrUpdate(tunable domain.TunableID, netns domain.NamespaceCookie, x, y int64) {
	h.corr.Update(tunable, netns, x, y)
}

// LiveCount returns the number of tuners currently Initialized or Attached,
// for the /metrics tuners-loaded gauge.
func (h *Host) LiveCount() int {
	n := 0
	for _, lt := range h.tuners {
		if lt.rec.State == domain.TunerInitialized || lt.rec.State == domain.TunerAttached {
			n++
		}
	}
	return n
}

// DiscoverFS lists a directory for plugin artifacts, used by the dynamic
// Go-plugin Loader. Exported so an alternate Loader can reuse the same
// filesystem listing semantics.
func DiscoverFS(dir string) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Artifact{
			Name:    nameFromFile(e.Name()),
			Path:    filepath.Join(dir, e.Name()),
			ModTime: info.ModTime().UnixNano(),
		})
	}
	return out, nil
}

func nameFromFile(fileName string) string {
	ext := filepath.Ext(fileName)
	return fileName[:len(fileName)-len(ext)]
}
