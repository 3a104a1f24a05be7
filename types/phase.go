package types

import "fmt"

// RoundPhase is the lifecycle stage of a voting round. Transitions are
// linear with no back-edges: Filling -> Processing -> Tallying -> Ended.
type RoundPhase int

const (
	// PhaseFilling accepts sign-ups, messages and deactivate messages.
	PhaseFilling RoundPhase = iota
	// PhaseProcessing folds message batches into the state tree.
	PhaseProcessing
	// PhaseTallying aggregates state leaves into per-option results.
	PhaseTallying
	// PhaseEnded is terminal: results are final.
	PhaseEnded
)

func (p RoundPhase) String() string {
	switch p {
	case PhaseFilling:
		return "filling"
	case PhaseProcessing:
		return "processing"
	case PhaseTallying:
		return "tallying"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}
