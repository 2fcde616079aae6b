package blockgraph

import (
	"github.com/threadchain/blockgraph/common"
)

type outcomeKind int

const (
	outcomeProceed outcomeKind = iota
	outcomeDiscard
	outcomeWaitForSlot
	outcomeWaitForDependencies
)

// headerOutcome is the result of the header check.
type headerOutcome struct {
	kind   outcomeKind
	reason DiscardReason
	msg    string

	missing map[common.BlockID]struct{}

	parents              []ParentRef
	deps                 map[common.BlockID]struct{}
	incomp               map[common.BlockID]struct{}
	inheritedIncompCount int
}

// checkHeader runs the header admission checks in order,
// short-circuiting on the first non-Proceed outcome.
func (g *BlockGraph) checkHeader(id common.BlockID, h Header) (headerOutcome, error) {
	T := int(g.cfg.ThreadCount)

	// 1. Structural.
	if len(h.Parents) != T || h.Slot.Period == 0 || int(h.Slot.Thread) >= T {
		return discardOutcome(DiscardInvalid, "malformed header"), nil
	}

	// 2. Stale vs final.
	if h.Slot.Period <= g.latestFinalBlocksPeriods[h.Slot.Thread].Period {
		return discardOutcome(DiscardStale, "slot at or before latest final period"), nil
	}

	// 3. Future slot.
	if h.Slot.Period > g.currentSlot.Period+g.cfg.FutureBlockProcessingMaxPeriods {
		return headerOutcome{kind: outcomeWaitForSlot}, nil
	}

	// 4. Draw.
	drawn, err := g.pos.Draw(h.Slot)
	if err != nil {
		if err == ErrPosCycleUnavailable {
			return headerOutcome{kind: outcomeWaitForSlot}, nil
		}
		return headerOutcome{}, err
	}
	if drawn != h.Creator {
		return discardOutcome(DiscardInvalid, "creator does not match draw"), nil
	}

	// 5. Current-slot gate.
	if g.currentSlot.Less(h.Slot) {
		return headerOutcome{kind: outcomeWaitForSlot}, nil
	}

	// 6. Parents resolved.
	resolvedParents := make([]ParentRef, T)
	missing := make(map[common.BlockID]struct{})
	incomp := make(map[common.BlockID]struct{})
	for i, pid := range h.Parents {
		st, known := g.statuses[pid]
		if !known {
			missing[pid] = struct{}{}
			continue
		}
		if st.Kind == StatusDiscarded {
			if st.DiscardReason == DiscardInvalid {
				return discardOutcome(DiscardInvalid, "parent invalid: "+st.DiscardMsg), nil
			}
			return discardOutcome(DiscardStale, "parent stale or pruned"), nil
		}
		if st.Kind != StatusActive {
			missing[pid] = struct{}{}
			continue
		}
		ab := st.Active
		if int(ab.Block.Header.Slot.Thread) != i || ab.Block.Header.Slot.Period >= h.Slot.Period {
			return discardOutcome(DiscardInvalid, "parent wrong thread or not strictly earlier"), nil
		}
		resolvedParents[i] = ParentRef{ID: pid, Period: ab.Block.Header.Slot.Period}
		if set, ok := g.giHead[pid]; ok {
			for _, v := range set.List() {
				incomp[v.(common.BlockID)] = struct{}{}
			}
		}
	}
	if len(missing) > 0 {
		return headerOutcome{kind: outcomeWaitForDependencies, missing: missing}, nil
	}
	for i := 0; i < T; i++ {
		for j := i + 1; j < T; j++ {
			if _, bad := incomp[resolvedParents[j].ID]; bad {
				return discardOutcome(DiscardInvalid, "parents not mutually compatible"), nil
			}
		}
	}

	inheritedIncompCount := len(incomp)

	// 7. Topological consistency of parents. gpMaxSlots[t] tracks the
	// newest period any earlier parent referenced in thread t; a
	// parent must not sit below that watermark in its own thread, and
	// a reference into an already-scanned thread must not be newer
	// than the parent of that thread itself.
	deps := make(map[common.BlockID]struct{})
	gpMaxSlots := make([]uint64, T)
	for i := 0; i < T; i++ {
		if resolvedParents[i].Period < gpMaxSlots[i] {
			return discardOutcome(DiscardInvalid, "parent topological ordering violated"), nil
		}
		gpMaxSlots[i] = resolvedParents[i].Period
		if resolvedParents[i].Period == 0 {
			// Genesis parent: no grandparents to walk.
			continue
		}
		parentAB := g.statuses[resolvedParents[i].ID].Active
		for gt := 0; gt < T; gt++ {
			if gt == i {
				continue
			}
			gpRef := parentAB.Parents[gt]
			deps[gpRef.ID] = struct{}{}
			gpSt, known := g.statuses[gpRef.ID]
			if !known {
				return headerOutcome{kind: outcomeWaitForDependencies, missing: map[common.BlockID]struct{}{gpRef.ID: {}}}, nil
			}
			if gpSt.Kind == StatusDiscarded {
				if gpSt.DiscardReason == DiscardInvalid {
					return discardOutcome(DiscardInvalid, "grandparent invalid"), nil
				}
				return discardOutcome(DiscardStale, "grandparent stale or pruned"), nil
			}
			if gpSt.Kind != StatusActive {
				return headerOutcome{kind: outcomeWaitForDependencies, missing: map[common.BlockID]struct{}{gpRef.ID: {}}}, nil
			}
			if gpRef.Period > gpMaxSlots[gt] {
				if gt < i {
					return discardOutcome(DiscardInvalid, "parent topological ordering violated"), nil
				}
				gpMaxSlots[gt] = gpRef.Period
			}
		}
	}

	// 8. Thread incompatibility: siblings under the own-thread parent,
	// and their descendants.
	ownThread := h.Slot.Thread
	ownParentID := resolvedParents[ownThread].ID
	ownParentAB := g.statuses[ownParentID].Active
	for siblingID := range ownParentAB.Children[ownThread] {
		incomp[siblingID] = struct{}{}
		if sibAB := g.statuses[siblingID].Active; sibAB != nil {
			for d := range sibAB.Descendants {
				incomp[d] = struct{}{}
			}
		}
	}

	// 9. Grandpa incompatibility: 2-level walk in each other thread
	// rooted at the parent in that thread.
	ownParentPeriod := resolvedParents[ownThread].Period
	for tau := uint32(0); tau < uint32(T); tau++ {
		if tau == ownThread {
			continue
		}
		parentInTau := resolvedParents[tau].ID
		parentInTauAB := g.statuses[parentInTau].Active
		for depth1ID := range parentInTauAB.Children[tau] {
			depth1AB := g.statuses[depth1ID].Active
			if depth1AB == nil {
				continue
			}
			for depth2ID := range depth1AB.Children[tau] {
				depth2AB := g.statuses[depth2ID].Active
				if depth2AB == nil {
					continue
				}
				if depth2AB.Parents[ownThread].Period < ownParentPeriod {
					incomp[depth2ID] = struct{}{}
					for d := range depth2AB.Descendants {
						incomp[d] = struct{}{}
					}
				}
			}
		}
	}

	// 10. Self-compat.
	for i := 0; i < T; i++ {
		if _, bad := incomp[resolvedParents[i].ID]; bad {
			return discardOutcome(DiscardInvalid, "own incompatibility set intersects parents"), nil
		}
	}

	// 11. No final incompatibility.
	for cid := range incomp {
		if ab := g.statuses[cid].Active; ab != nil && ab.IsFinal {
			return discardOutcome(DiscardStale, "incompatible with a final block"), nil
		}
	}

	return headerOutcome{
		kind:                 outcomeProceed,
		parents:              resolvedParents,
		deps:                 deps,
		incomp:               incomp,
		inheritedIncompCount: inheritedIncompCount,
	}, nil
}

func discardOutcome(reason DiscardReason, msg string) headerOutcome {
	return headerOutcome{kind: outcomeDiscard, reason: reason, msg: msg}
}
