package distribute

import "fmt"

// Phase tracks a payout batch through its lifecycle. Transfers are submitted
// sequentially, so at any moment the batch is either waiting, working on one
// winner, or terminal.
type Phase string

const (
	PhasePending    Phase = "PENDING"
	PhaseSubmitting Phase = "SUBMITTING"
	PhaseSubmitted  Phase = "SUBMITTED"
	PhaseFailed     Phase = "FAILED"
)

// BatchState is a snapshot of batch progress. Index is the position of the
// winner currently (or last) being processed; TxHashes holds the hashes
// submitted so far in winner order.
type BatchState struct {
	Phase    Phase
	Index    int
	TxHashes []string
	Err      error
}

func (s BatchState) String() string {
	switch s.Phase {
	case PhaseSubmitting:
		return fmt.Sprintf("%s(%d)", s.Phase, s.Index)
	case PhaseFailed:
		return fmt.Sprintf("%s(%d, %d sent)", s.Phase, s.Index, len(s.TxHashes))
	default:
		return string(s.Phase)
	}
}
