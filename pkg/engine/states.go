package engine

// State is a step in the escalation ladder. The engine runs an explicit
// transition loop over these states so the routing policy stays auditable
// and testable without model calls.
type State int

const (
	// StateCacheCheck looks for a previously computed response.
	StateCacheCheck State = iota
	// StatePatternCheck tries the pattern specialist short-circuit.
	StatePatternCheck
	// StateTierCall invokes the current tier's models.
	StateTierCall
	// StateGate decides whether the current answer suffices or the ladder
	// escalates, consulting the ledger before any paid transition.
	StateGate
	// StateDone terminates with the best available answer.
	StateDone
	// StateAbortBudget terminates because a reservation was denied. The best
	// answer so far is still returned, flagged budget_capped.
	StateAbortBudget
	// StateError terminates with no usable answer from any tier.
	StateError
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateCacheCheck:
		return "CACHE_CHECK"
	case StatePatternCheck:
		return "PATTERN_CHECK"
	case StateTierCall:
		return "TIER_CALL"
	case StateGate:
		return "GATE"
	case StateDone:
		return "DONE"
	case StateAbortBudget:
		return "ABORT_BUDGET"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
