package blockgraph

import (
	"fmt"

	"github.com/pkg/errors"
)

// DiscardReason classifies why a block id left the live graph.
type DiscardReason int

const (
	DiscardInvalid DiscardReason = iota
	DiscardStale
	DiscardFinal
)

func (r DiscardReason) String() string {
	switch r {
	case DiscardInvalid:
		return "Invalid"
	case DiscardStale:
		return "Stale"
	case DiscardFinal:
		return "Final"
	default:
		return "Unknown"
	}
}

// precedence orders discard reasons for waiter inheritance:
// Invalid > Stale > Final-as-Stale. A waiter
// whose dependency was discarded Final lost its branch, so it is
// itself discarded Stale, never Final.
func (r DiscardReason) precedence() int {
	switch r {
	case DiscardInvalid:
		return 2
	case DiscardStale, DiscardFinal:
		return 1
	default:
		return 0
	}
}

// worstOf returns the higher-precedence reason, converting Final to
// Stale per the inheritance rule.
func worstOf(reasons ...DiscardReason) DiscardReason {
	worst := DiscardStale
	best := -1
	for _, r := range reasons {
		inherited := r
		if inherited == DiscardFinal {
			inherited = DiscardStale
		}
		if inherited.precedence() > best {
			best = inherited.precedence()
			worst = inherited
		}
	}
	return worst
}

// InvalidLedgerChangeError reports an overflow/underflow while
// chaining signed balance deltas.
type InvalidLedgerChangeError struct{ Msg string }

func (e *InvalidLedgerChangeError) Error() string { return "invalid ledger change: " + e.Msg }

// ContainerInconsistencyError reports a lookup into block_statuses
// returning the wrong variant, or a referenced ancestor going
// missing: a bug, not a recoverable condition. Callers must
// not swallow it.
type ContainerInconsistencyError struct{ Msg string }

func (e *ContainerInconsistencyError) Error() string { return "container inconsistency: " + e.Msg }

func newContainerInconsistency(format string, args ...interface{}) error {
	return errors.WithStack(&ContainerInconsistencyError{Msg: fmt.Sprintf(format, args...)})
}

// FitnessOverflowError reports clique fitness accumulation overflow.
type FitnessOverflowError struct{ Msg string }

func (e *FitnessOverflowError) Error() string { return "fitness overflow: " + e.Msg }

// MissingBlockError reports a block referenced during clique or
// finality bookkeeping that cannot be found.
type MissingBlockError struct{ Msg string }

func (e *MissingBlockError) Error() string { return "missing block: " + e.Msg }

func newMissingBlock(format string, args ...interface{}) error {
	return errors.WithStack(&MissingBlockError{Msg: fmt.Sprintf(format, args...)})
}

// SerializeError / DeserializeError: bootstrap codec only. DeserializeError is also used for "too many ..." bound
// violations.
type SerializeError struct{ Msg string }

func (e *SerializeError) Error() string { return "serialize error: " + e.Msg }

type DeserializeError struct{ Msg string }

func (e *DeserializeError) Error() string { return "deserialize error: " + e.Msg }

func newDeserializeError(format string, args ...interface{}) error {
	return &DeserializeError{Msg: fmt.Sprintf(format, args...)}
}

// ErrPosCycleUnavailable is returned by the PoS oracle when draw data
// for a cycle has not been produced yet.
var ErrPosCycleUnavailable = errors.New("pos: cycle unavailable")

// ErrLedgerQueryTooOld is returned by GetLedgerAtParents when a
// supplied parent is older than that thread's latest final block.
var ErrLedgerQueryTooOld = errors.New("ledger: parent older than latest final block")
