package sample

import (
	"testing"

	"github.com/ptr1337/bpftune/internal/correlation"
	"github.com/ptr1337/bpftune/internal/domain"
	"github.com/ptr1337/bpftune/internal/netns"
	"github.com/ptr1337/bpftune/internal/registry"
	"github.com/ptr1337/bpftune/internal/tuner"
)

func TestSampleTunerRegistersNoTunablesAndOneScenario(t *testing.T) {
	reg := registry.New(true, netns.New(nil), nil)
	corr := correlation.New()
	host := tuner.NewHost("/fake", reg, corr, noArtifactsLoader{}, nil)

	if err := host.LoadStatic("sample", EntryPoints(nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSampleTunerEventHandlerDoesNotPanic(t *testing.T) {
	ep := EntryPoints(nil)
	ep.EventHandler(nil, 1, domain.Event{ScenarioID: ScenarioSample})
}

type noArtifactsLoader struct{}

func (noArtifactsLoader) Discover(dir string) ([]tuner.Artifact, error) { return nil, nil }
func (noArtifactsLoader) Load(art tuner.Artifact) (tuner.EntryPoints, error) {
	return tuner.EntryPoints{}, nil
}
