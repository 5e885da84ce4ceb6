package object

import (
	"github.com/zeusync/authority/internal/core/network"
)

// participant is one entity taking part in a tree-wide networking type
// change.
type participant struct {
	query   func() error
	cleanup func()
}

// treeMember is implemented by objects and object templates.
type treeMember interface {
	NetworkingType() network.Type
	// participants returns the entity itself and its components that would
	// change when moving to t, in the order their queries run.
	participants(t network.Type) []participant
	memberChildren() []treeMember
}

// queryTree runs the two-phase check over root and every descendant. Phase
// one queries each participant and records it; phase two undoes the
// provisional bookkeeping of every recorded participant in reverse order.
// When a query fails the recorded participants are undone the same way and
// the error is returned, so the ledger is left exactly as it was.
func queryTree(root treeMember, t network.Type) error {
	var parts []participant
	collect(root, t, &parts)
	return runParticipants(parts)
}

func runParticipants(parts []participant) error {
	recorded := make([]participant, 0, len(parts))
	undo := func() {
		for i := len(recorded) - 1; i >= 0; i-- {
			recorded[i].cleanup()
		}
	}
	for _, p := range parts {
		if err := p.query(); err != nil {
			undo()
			return err
		}
		recorded = append(recorded, p)
	}
	undo()
	return nil
}

func collect(m treeMember, t network.Type, parts *[]participant) {
	*parts = append(*parts, m.participants(t)...)
	for _, c := range m.memberChildren() {
		collect(c, t, parts)
	}
}
