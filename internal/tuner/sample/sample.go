// Package sample implements the minimum viable tuner: one that registers no
// tunables, attaches a probe that fires on sysctl access, and only logs
// the events it receives. fini restores nothing because nothing was
// written.
package sample

import (
	"go.uber.org/zap"

	"github.com/ptr1337/bpftune/internal/domain"
	"github.com/ptr1337/bpftune/internal/tuner"
)

// ScenarioSample is the single scenario this tuner emits.
const ScenarioSample domain.ScenarioID = 1

// EntryPoints builds the init/fini/event_handler triple for static
// registration into a tuner.Host. logger may be nil.
func EntryPoints(logger *zap.Logger) tuner.EntryPoints {
	return tuner.EntryPoints{
		Init: func(h tuner.Host, id domain.TunerID) error {
			h.RegisterScenarios(id, []domain.ScenarioDescriptor{
				{ID: ScenarioSample, Label: "SAMPLE", Description: "sysctl access observed"},
			})
			return h.RegisterTunables(id, nil)
		},
		Fini: func() {},
		EventHandler: func(h tuner.Host, id domain.TunerID, ev domain.Event) {
			if logger != nil {
				logger.Debug("sample tuner event", zap.Uint32("scenario", uint32(ev.ScenarioID)))
			}
		},
	}
}
