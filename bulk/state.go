package bulk

import "github.com/nblp/dcnet/group"

// State is one phase of a bulk round's lifecycle. Initial: Offline.
// Terminal: Finished.
type State uint8

const (
	Offline State = iota
	Shuffling
	DataSharing
	ReceivingLeaderData
	ProcessingLeaderData
	Finished
)

var stateNames = map[State]string{
	Offline:              "Offline",
	Shuffling:            "Shuffling",
	DataSharing:          "DataSharing",
	ReceivingLeaderData:  "ReceivingLeaderData",
	ProcessingLeaderData: "ProcessingLeaderData",
	Finished:             "Finished",
}

// String returns the state's name, or "Unknown" for an unrecognized tag.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// ParseState converts a state name back to its tag via an explicit static
// table, rather than reflection-based enum lookup.
func ParseState(s string) (State, error) {
	for tag, name := range stateNames {
		if name == s {
			return tag, nil
		}
	}
	return 0, ErrUnknownState
}

// EventKind tags the variant carried by Event, replacing the original
// source's signal/slot dispatch with an explicit event type (§9).
type EventKind uint8

const (
	EventShuffleFinished EventKind = iota
	EventBlameShuffleFinished
	EventIncomingMessage
	EventTimeout
	EventCancel
)

// Event is the single input to Round.OnEvent. Only the fields relevant to
// Kind are populated; the rest are zero.
type Event struct {
	Kind EventKind

	// EventShuffleFinished / EventBlameShuffleFinished.
	ShuffleOutput [][]byte
	ShuffleErr    error

	// EventIncomingMessage.
	Sender  group.ID
	MsgKind MessageKind
	Payload []byte
}
