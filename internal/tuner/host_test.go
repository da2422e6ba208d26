package tuner

import (
	"errors"
	"testing"
	"time"

	"github.com/ptr1337/bpftune/internal/correlation"
	"github.com/ptr1337/bpftune/internal/domain"
	"github.com/ptr1337/bpftune/internal/netns"
	"github.com/ptr1337/bpftune/internal/registry"
)

// fakeLoader simulates a plugin directory without touching the filesystem
// or the Go plugin package: Discover returns a fixed artifact list, Load
// resolves a name to pre-registered entry points.
type fakeLoader struct {
	artifacts []Artifact
	entries   map[string]EntryPoints
	loadErr   map[string]error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{entries: make(map[string]EntryPoints), loadErr: make(map[string]error)}
}

func (f *fakeLoader) Discover(dir string) ([]Artifact, error) {
	return f.artifacts, nil
}

func (f *fakeLoader) Load(art Artifact) (EntryPoints, error) {
	if err, ok := f.loadErr[art.Name]; ok {
		return EntryPoints{}, err
	}
	return f.entries[art.Name], nil
}

func newTestHost(loader Loader) *Host {
	reg := registry.New(true, netns.New(nil), nil)
	corr := correlation.New()
	return NewHost("/fake/plugins", reg, corr, loader, nil)
}

func noopEntry() EntryPoints {
	return EntryPoints{
		Init:         func(h Host, id domain.TunerID) error { return h.RegisterTunables(id, nil) },
		Fini:         func() {},
		EventHandler: func(h Host, id domain.TunerID, ev domain.Event) {},
	}
}

func TestRescanLoadsNewArtifacts(t *testing.T) {
	loader := newFakeLoader()
	loader.artifacts = []Artifact{{Name: "tcp-buffer", ModTime: 1}}
	loader.entries["tcp-buffer"] = noopEntry()
	h := newTestHost(loader)

	if err := h.Rescan(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, ok := h.byName["tcp-buffer"]
	if !ok {
		t.Fatal("expected tcp-buffer to be loaded")
	}
	if h.tuners[id].rec.State != domain.TunerAttached {
		t.Fatalf("expected Attached, got %v", h.tuners[id].rec.State)
	}
}

func TestRescanUnloadsMissingArtifacts(t *testing.T) {
	loader := newFakeLoader()
	loader.artifacts = []Artifact{{Name: "tcp-buffer", ModTime: 1}}
	loader.entries["tcp-buffer"] = noopEntry()
	h := newTestHost(loader)
	if err := h.Rescan(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loader.artifacts = nil
	if err := h.Rescan(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := h.byName["tcp-buffer"]; ok {
		t.Fatal("expected tcp-buffer to be unloaded once its artifact disappeared")
	}
}

func TestRescanDoesNotReloadAfterSameModTimeFailure(t *testing.T) {
	loader := newFakeLoader()
	loader.artifacts = []Artifact{{Name: "broken", ModTime: 7}}
	loader.loadErr["broken"] = errors.New("dlopen failed")
	h := newTestHost(loader)

	if err := h.Rescan(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := h.byName["broken"]; ok {
		t.Fatal("a failed load must not register the tuner")
	}

	loader.entries["broken"] = noopEntry() // would succeed now, but mod time hasn't changed
	if err := h.Rescan(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := h.byName["broken"]; ok {
		t.Fatal("repeated rescan at the same mod time must not retry the load")
	}
}

func TestRescanRetriesFailedArtifactAfterModTimeChanges(t *testing.T) {
	loader := newFakeLoader()
	loader.artifacts = []Artifact{{Name: "broken", ModTime: 7}}
	loader.loadErr["broken"] = errors.New("dlopen failed")
	h := newTestHost(loader)
	h.Rescan()

	loader.artifacts = []Artifact{{Name: "broken", ModTime: 8}}
	delete(loader.loadErr, "broken")
	loader.entries["broken"] = noopEntry()

	if err := h.Rescan(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := h.byName["broken"]; !ok {
		t.Fatal("expected retry to succeed once the artifact's mod time advanced")
	}
}

func TestLoadStaticRejectsDuplicateName(t *testing.T) {
	h := newTestHost(newFakeLoader())
	if err := h.LoadStatic("sample", noopEntry()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.LoadStatic("sample", noopEntry()); err == nil {
		t.Fatal("expected error loading the same static tuner name twice")
	}
}

func TestInitFailureMarksTunerFailed(t *testing.T) {
	h := newTestHost(newFakeLoader())
	entry := EntryPoints{
		Init:         func(h Host, id domain.TunerID) error { return errors.New("probe attach failed") },
		Fini:         func() {},
		EventHandler: func(h Host, id domain.TunerID, ev domain.Event) {},
	}
	if err := h.LoadStatic("flaky", entry); err == nil {
		t.Fatal("expected LoadStatic to surface the init error")
	}
	id := h.byName["flaky"]
	if h.tuners[id].rec.State != domain.TunerFailed {
		t.Fatalf("expected Failed state, got %v", h.tuners[id].rec.State)
	}
}

func TestInitFailureAfterRegisterTunablesDeregistersThem(t *testing.T) {
	h := newTestHost(newFakeLoader())
	desc := domain.TunableDescriptor{ID: 1, Kind: domain.KindSysctl, Name: "net.ipv4.tcp_wmem", Arity: 3}
	entry := EntryPoints{
		Init: func(h Host, id domain.TunerID) error {
			if err := h.RegisterTunables(id, []domain.TunableDescriptor{desc}); err != nil {
				return err
			}
			return errors.New("probe attach failed after registering tunables")
		},
		Fini:         func() {},
		EventHandler: func(h Host, id domain.TunerID, ev domain.Event) {},
	}

	if err := h.LoadStatic("half-init", entry); err == nil {
		t.Fatal("expected LoadStatic to surface the init error")
	}
	id := h.byName["half-init"]
	if h.tuners[id].rec.State != domain.TunerFailed {
		t.Fatalf("expected Failed state, got %v", h.tuners[id].rec.State)
	}

	// The tunable this failed tuner registered must not remain claimed in
	// the registry: a write against the failed tuner's id must be rejected
	// as unknown rather than silently succeeding against a stale descriptor.
	err := h.reg.Write(id, 1, domain.ScenarioIncrease, domain.CookieNone, 3,
		[3]int64{1, 1, 1}, "should not apply")
	if err == nil {
		t.Fatal("expected write against a deregistered (failed-init) tuner to fail")
	}
}

func TestDispatchRoutesToOwningTuner(t *testing.T) {
	h := newTestHost(newFakeLoader())
	var got domain.Event
	entry := EntryPoints{
		Init: func(h Host, id domain.TunerID) error { return h.RegisterTunables(id, nil) },
		Fini: func() {},
		EventHandler: func(h Host, id domain.TunerID, ev domain.Event) {
			got = ev
		},
	}
	h.LoadStatic("sample", entry)
	id := h.byName["sample"]

	ev := domain.Event{TunerID: id, ScenarioID: 3}
	h.Dispatch(ev)
	if got.ScenarioID != 3 {
		t.Fatalf("expected event handler invoked with scenario 3, got %+v", got)
	}
}

func TestDispatchDropsEventForUnknownTuner(t *testing.T) {
	h := newTestHost(newFakeLoader())
	h.Dispatch(domain.Event{TunerID: 99})
}

func TestDispatchDropsEventAfterFini(t *testing.T) {
	h := newTestHost(newFakeLoader())
	called := false
	entry := EntryPoints{
		Init: func(h Host, id domain.TunerID) error { return h.RegisterTunables(id, nil) },
		Fini: func() {},
		EventHandler: func(h Host, id domain.TunerID, ev domain.Event) {
			called = true
		},
	}
	h.LoadStatic("sample", entry)
	id := h.byName["sample"]
	h.unload(id)

	h.Dispatch(domain.Event{TunerID: id})
	if called {
		t.Fatal("event handler must not be invoked once the tuner is Gone")
	}
}

func TestShutdownAllRunsFiniInReverseOrder(t *testing.T) {
	h := newTestHost(newFakeLoader())
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		entry := EntryPoints{
			Init: func(h Host, id domain.TunerID) error { return h.RegisterTunables(id, nil) },
			Fini: func() { order = append(order, name) },
			EventHandler: func(h Host, id domain.TunerID, ev domain.Event) {
			},
		}
		h.LoadStatic(name, entry)
	}

	h.ShutdownAll(time.Second)

	if len(order) != 3 || order[0] != "third" || order[1] != "second" || order[2] != "first" {
		t.Fatalf("expected fini in reverse load order, got %v", order)
	}
}

func TestShutdownAllAbandonsTunerOnFiniTimeout(t *testing.T) {
	h := newTestHost(newFakeLoader())
	release := make(chan struct{})
	entry := EntryPoints{
		Init: func(h Host, id domain.TunerID) error { return h.RegisterTunables(id, nil) },
		Fini: func() { <-release },
		EventHandler: func(h Host, id domain.TunerID, ev domain.Event) {
		},
	}
	h.LoadStatic("slow", entry)

	start := time.Now()
	h.ShutdownAll(20 * time.Millisecond)
	if time.Since(start) > time.Second {
		t.Fatal("ShutdownAll should not block past the fini timeout")
	}
	close(release)
}
