package checkout

// State names a step of a single checkout attempt. Transitions are
//
//	Validating → Reconciling → NeedsReview
//	Validating → Reconciling → Assembling → Persisting → Committed | Failed
//
// A validation failure ends the attempt in Failed.
type State string

const (
	StateValidating  State = "validating"
	StateReconciling State = "reconciling"
	StateNeedsReview State = "needs_review"
	StateAssembling  State = "assembling"
	StatePersisting  State = "persisting"
	StateCommitted   State = "committed"
	StateFailed      State = "failed"
)

// Terminal reports whether the attempt has finished.
func (s State) Terminal() bool {
	switch s {
	case StateNeedsReview, StateCommitted, StateFailed:
		return true
	default:
		return false
	}
}
