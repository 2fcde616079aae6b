package blockgraph

import "github.com/threadchain/blockgraph/common"

// StatusKind tags the disjoint BlockStatus variants. Go has
// no native sum type; we model it the way a tagged variant is usually
// expressed in this codebase family — one struct with a Kind flag and
// the fields relevant to that kind left zeroed otherwise.
type StatusKind int

const (
	StatusIncomingHeader StatusKind = iota
	StatusIncomingBlock
	StatusWaitingForSlot
	StatusWaitingForDependencies
	StatusActive
	StatusDiscarded
)

// BlockStatus is the single per-id status record. Promotion
// bumps Seq in place; Discarded is terminal except for the sequence
// bump on repeated delivery.
type BlockStatus struct {
	Kind StatusKind
	Seq  uint64

	// IncomingHeader / IncomingBlock / WaitingForSlot payload.
	Header Header
	Block  *Block // nil unless a full block is held

	// WaitingForDependencies payload.
	HeldOnlyHeader bool
	Missing        map[common.BlockID]struct{}

	// Active payload.
	Active *ActiveBlock

	// Discarded payload.
	DiscardReason DiscardReason
	DiscardMsg    string
}

func (s *BlockStatus) isWaitingOn(id common.BlockID) bool {
	if s.Kind != StatusWaitingForDependencies {
		return false
	}
	_, ok := s.Missing[id]
	return ok
}
