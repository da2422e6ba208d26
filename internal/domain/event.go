package domain

// Update is one proposed or observed change to a tunable carried inside an
// Event. Only slot 0 is populated by any current tuner; the rest of the
// fixed-size array exists to match the wire layout's update[0..N].
type Update struct {
	ID  TunableID
	Old [3]int64
	New [3]int64
}

// MaxUpdates bounds the fixed-size update array in the wire record.
const MaxUpdates = 4

// Event is the decoded form of one ring buffer record emitted by a kernel
// probe. EventID doubles as a TunableID -- the event identifies the tunable
// it concerns.
type Event struct {
	TunerID     TunerID
	ScenarioID  ScenarioID
	EventID     TunableID
	PID         uint32
	NetnsCookie NamespaceCookie
	Updates     []Update
}

// Namespace lifecycle notifications ride the same wire format as tunable
// events but are distinguished by ScenarioID, not EventID -- grounded on
// the reference netns probe, which stamps NETNS_SCENARIO_CREATE /
// NETNS_SCENARIO_DESTROY into event.scenario_id and leaves event_id unused.
// The namespace tracker intercepts these two scenarios before dispatch.
const (
	ScenarioNetnsCreate  ScenarioID = 0xFFFFFFFE
	ScenarioNetnsDestroy ScenarioID = 0xFFFFFFFD
)
