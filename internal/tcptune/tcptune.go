// Package tcptune implements a TCP buffer tuner: a static, in-tree Tuner
// owning net.ipv4.tcp_wmem that raises or lowers the send-buffer ceiling
// under a synthetic memory-pressure signal and defers to the correlation
// engine when buffer growth tracks rising latency.
//
// Individual tuner business logic is left unspecified by the platform
// itself; this package defines one concrete, runnable version of it so the
// registry's write policy, cap/cooldown, and correlation suppression have
// something real to exercise end to end. Events carry the observed
// queued-byte sample in Updates[0].New[0] and the tuner's own last-known
// wmem tuple in Updates[0].Old.
package tcptune

import (
	"go.uber.org/zap"

	"github.com/ptr1337/bpftune/internal/domain"
	"github.com/ptr1337/bpftune/internal/tuner"
)

// WmemTunableID is this tuner's only tunable, scoped to its own numbering
// space (tunable ids are unique per-tuner, not globally, per domain.TunableID).
const WmemTunableID domain.TunableID = 1

// Scenario identifiers, matching the original tcp_buffer_tuner's naming.
const (
	ScenarioIncrease        domain.ScenarioID = 1
	ScenarioDecrease        domain.ScenarioID = 2
	ScenarioNoChangeLatency domain.ScenarioID = 3
)

const (
	highWatermark = 0.8 // queued/default ratio above which growth is proposed
	lowWatermark  = 0.2 // ratio below which shrink is proposed
)

// New returns the init/fini/event_handler triple for static registration
// into a tuner.Host. corrThreshold is the correlation coefficient above
// which an INCREASE proposal is downgraded; logger may be nil.
func New(corrThreshold float64, logger *zap.Logger) tuner.EntryPoints {
	t := &tcpBufferTuner{corrThreshold: corrThreshold, logger: logger}
	return tuner.EntryPoints{
		Init:         t.init,
		Fini:         func() {},
		EventHandler: t.eventHandler,
	}
}

type tcpBufferTuner struct {
	corrThreshold float64
	logger        *zap.Logger
}

func (t *tcpBufferTuner) init(h tuner.Host, id domain.TunerID) error {
	h.RegisterScenarios(id, []domain.ScenarioDescriptor{
		{ID: ScenarioIncrease, Label: "TCP_BUFFER_INCREASE", Description: "need to increase TCP buffer size(s) to maximize throughput"},
		{ID: ScenarioDecrease, Label: "TCP_BUFFER_DECREASE", Description: "need to decrease TCP buffer size(s) to reduce memory utilization"},
		{ID: ScenarioNoChangeLatency, Label: "TCP_BUFFER_NOCHANGE_LATENCY", Description: "latency is correlating with buffer size increases; hold the increase"},
	})
	return h.RegisterTunables(id, []domain.TunableDescriptor{
		{ID: WmemTunableID, Kind: domain.KindSysctl, Name: "net.ipv4.tcp_wmem", Namespaced: true, Arity: 3},
	})
}

func (t *tcpBufferTuner) eventHandler(h tuner.Host, id domain.TunerID, ev domain.Event) {
	// netns cookie "not supported" sentinel: ignore, matching the original
	// tcp_buffer_tuner's event_handler.
	if ev.NetnsCookie == domain.CookieNone {
		return
	}
	if len(ev.Updates) == 0 || ev.Updates[0].ID != WmemTunableID {
		return
	}

	upd := ev.Updates[0]
	old := upd.Old
	queued := upd.New[0]

	if old[1] <= 0 {
		return
	}
	ratio := float64(queued) / float64(old[1])

	var scenario domain.ScenarioID
	proposed := old
	switch {
	case ratio > highWatermark:
		scenario = ScenarioIncrease
		proposed[2] = old[2] * 2
	case ratio < lowWatermark:
		scenario = ScenarioDecrease
		proposed[2] = old[2] / 2
	default:
		return
	}

	h.CorrUpdate(WmemTunableID, ev.NetnsCookie, proposed[2], queued)
	corr := h.CorrCompute(WmemTunableID, ev.NetnsCookie)

	reason := "need to increase max buffer size to maximize throughput"
	if scenario == ScenarioDecrease {
		reason = "buffer size exceeds observed demand"
	}
	if corr > t.corrThreshold && scenario == ScenarioIncrease {
		scenario = ScenarioNoChangeLatency
		reason = "correlation between buffer size increase and latency"
		proposed[2] = old[2]
	}

	kind := domain.ScenarioIncrease
	switch scenario {
	case ScenarioDecrease:
		kind = domain.ScenarioDecrease
	case ScenarioNoChangeLatency:
		kind = domain.ScenarioNoChange
	}

	err := h.Write(id, WmemTunableID, kind, ev.NetnsCookie, 3, proposed,
		"Due to %s change net.ipv4.tcp_wmem(min default max) from (%d %d %d) -> (%d %d %d)",
		reason, old[0], old[1], old[2], proposed[0], proposed[1], proposed[2])
	if err != nil && t.logger != nil {
		t.logger.Debug("tcp buffer write skipped", zap.Error(err))
	}
}
