// Package goplugin implements a tuner.Loader that resolves a host-OS
// loadable module's three entry points via the standard library's plugin
// package. Go's plugin.Lookup only resolves exported identifiers, so the
// on-disk contract here is the three exported symbols Init, Fini,
// EventHandler rather than lowercase C-style names -- the loader is the one
// place that distinction is visible; everywhere else in the host a
// dynamically loaded tuner is indistinguishable from a statically
// registered one.
package goplugin

import (
	"fmt"
	"plugin"

	"github.com/ptr1337/bpftune/internal/domain"
	"github.com/ptr1337/bpftune/internal/tuner"
)

// Loader discovers .so artifacts in a directory and resolves their entry
// points via plugin.Open/Lookup.
type Loader struct{}

func New() Loader { return Loader{} }

func (Loader) Discover(dir string) ([]tuner.Artifact, error) {
	return tuner.DiscoverFS(dir)
}

func (Loader) Load(art tuner.Artifact) (tuner.EntryPoints, error) {
	p, err := plugin.Open(art.Path)
	if err != nil {
		return tuner.EntryPoints{}, fmt.Errorf("open plugin %s: %w", art.Path, err)
	}

	initSym, err := p.Lookup("Init")
	if err != nil {
		return tuner.EntryPoints{}, fmt.Errorf("plugin %s missing Init: %w", art.Name, err)
	}
	finiSym, err := p.Lookup("Fini")
	if err != nil {
		return tuner.EntryPoints{}, fmt.Errorf("plugin %s missing Fini: %w", art.Name, err)
	}
	handlerSym, err := p.Lookup("EventHandler")
	if err != nil {
		return tuner.EntryPoints{}, fmt.Errorf("plugin %s missing EventHandler: %w", art.Name, err)
	}

	initFn, ok := initSym.(func(tuner.Host, domain.TunerID) error)
	if !ok {
		return tuner.EntryPoints{}, fmt.Errorf("plugin %s: Init has unexpected signature", art.Name)
	}
	finiFn, ok := finiSym.(func())
	if !ok {
		return tuner.EntryPoints{}, fmt.Errorf("plugin %s: Fini has unexpected signature", art.Name)
	}
	handlerFn, ok := handlerSym.(func(tuner.Host, domain.TunerID, domain.Event))
	if !ok {
		return tuner.EntryPoints{}, fmt.Errorf("plugin %s: EventHandler has unexpected signature", art.Name)
	}

	return tuner.EntryPoints{Init: initFn, Fini: finiFn, EventHandler: handlerFn}, nil
}
