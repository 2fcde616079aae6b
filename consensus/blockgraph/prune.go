package blockgraph

import (
	"sort"

	"github.com/threadchain/blockgraph/common"
	"github.com/threadchain/blockgraph/internal/log"
)

var logPruner = log.NewModuleLogger(log.Pruner)

// prune runs the finaliser/pruner after a graph mutation cycle:
// retained active blocks stay, the rest are demoted to
// Discarded{Final}; waiting-list sizes are clamped back to their
// configured bounds.
func (g *BlockGraph) prune() error {
	pruned, err := g.pruneActive()
	if err != nil {
		return err
	}
	for id, b := range pruned {
		g.toPropagate[id] = b
	}
	if len(pruned) > 0 {
		logPruner.Debug("pruned final blocks outside retain window", "count", len(pruned))
	}
	g.pruneSlotWaiting()
	g.pruneWaitingForDependencies()
	return nil
}

// pruneActive computes the retain set and demotes every
// other Active block to Discarded{Final}, returning the
// pruned blocks for archival/propagation.
func (g *BlockGraph) pruneActive() (map[common.BlockID]*Block, error) {
	retain := make(map[common.BlockID]struct{})

	for id, st := range g.statuses {
		if st.Kind == StatusActive && !st.Active.IsFinal {
			retain[id] = struct{}{}
		}
	}
	for _, id := range g.bestParents {
		retain[id] = struct{}{}
	}
	for _, pr := range g.latestFinalBlocksPeriods {
		retain[pr.ID] = struct{}{}
	}

	// Per-thread chain of finals back to latest_final_period -
	// operation_validity_periods.
	for t, pr := range g.latestFinalBlocksPeriods {
		floor := int64(pr.Period) - int64(g.cfg.OperationValidityPeriods)
		cur := pr.ID
		for {
			ab := g.statuses[cur].Active
			if ab == nil {
				break
			}
			retain[cur] = struct{}{}
			if int64(ab.Block.Header.Slot.Period) <= floor {
				break
			}
			if ab.Parents == nil {
				break
			}
			cur = ab.Parents[t].ID
		}
	}

	// Grow the retain set: add parents of every retained block.
	grow := func() {
		additions := make(map[common.BlockID]struct{})
		for id := range retain {
			ab := g.statuses[id].Active
			if ab == nil {
				continue
			}
			for dep := range ab.Dependencies {
				additions[dep] = struct{}{}
			}
			for _, p := range ab.Parents {
				additions[p.ID] = struct{}{}
			}
		}
		for id := range additions {
			retain[id] = struct{}{}
		}
	}
	grow()
	grow()

	// Fill per-thread gaps from latest final backward to the earliest
	// retained period in that thread.
	for t, pr := range g.latestFinalBlocksPeriods {
		earliest := pr.Period
		for id := range retain {
			ab := g.statuses[id].Active
			if ab == nil || ab.Block.Header.Slot.Thread != uint32(t) {
				continue
			}
			if ab.Block.Header.Slot.Period < earliest {
				earliest = ab.Block.Header.Slot.Period
			}
		}
		cur := pr.ID
		for {
			ab := g.statuses[cur].Active
			if ab == nil {
				break
			}
			retain[cur] = struct{}{}
			if ab.Block.Header.Slot.Period <= earliest || ab.Parents == nil {
				break
			}
			cur = ab.Parents[t].ID
		}
	}

	pruned := make(map[common.BlockID]*Block)
	for id, st := range g.statuses {
		if st.Kind != StatusActive {
			continue
		}
		if _, keep := retain[id]; keep {
			continue
		}
		ab := st.Active
		if !ab.IsFinal {
			continue // only final blocks are ever pruned
		}

		for _, p := range ab.Parents {
			if pab := g.statuses[p.ID].Active; pab != nil {
				delete(pab.Children[ab.Block.Header.Slot.Thread], id)
			}
		}
		blk := ab.Block
		pruned[id] = &blk

		st.Kind = StatusDiscarded
		st.DiscardReason = DiscardFinal
		st.DiscardMsg = "pruned: outside retain window"
		st.Active = nil
		g.discardedOrder.touch(id, st.Seq)
	}
	return pruned, nil
}

// pruneSlotWaiting keeps only the max_future_processing_blocks
// earliest-by-slot WaitingForSlot entries.
func (g *BlockGraph) pruneSlotWaiting() {
	if g.cfg.MaxFutureProcessingBlocks <= 0 {
		return
	}
	var waiters []common.BlockID
	for id, st := range g.statuses {
		if st.Kind == StatusWaitingForSlot {
			waiters = append(waiters, id)
		}
	}
	if len(waiters) <= g.cfg.MaxFutureProcessingBlocks {
		return
	}
	sortBySlot(waiters, g.statuses)
	for _, id := range waiters[g.cfg.MaxFutureProcessingBlocks:] {
		delete(g.statuses, id)
	}
}

// pruneWaitingForDependencies evicts dead waiters: a waiter whose
// dependency is Discarded inherits the worst reason and is itself
// discarded; a waiter at or before its thread's latest final period is
// discarded Stale; then the lowest (sequence_number, slot) waiters are
// dropped until the count is within max_dependency_blocks.
func (g *BlockGraph) pruneWaitingForDependencies() {
	for id, st := range g.statuses {
		if st.Kind != StatusWaitingForDependencies {
			continue
		}
		if st.Header.Slot.Period <= g.latestFinalBlocksPeriods[st.Header.Slot.Thread].Period {
			g.discard(id, st, DiscardStale, "waiter slot at or before latest final")
			continue
		}
		var reasons []DiscardReason
		for dep := range st.Missing {
			if depSt, ok := g.statuses[dep]; ok && depSt.Kind == StatusDiscarded {
				reasons = append(reasons, depSt.DiscardReason)
			}
		}
		if len(reasons) > 0 {
			g.discard(id, st, worstOf(reasons...), "dependency discarded")
		}
	}

	var waiters []common.BlockID
	for id, st := range g.statuses {
		if st.Kind == StatusWaitingForDependencies {
			waiters = append(waiters, id)
		}
	}
	if len(waiters) <= g.cfg.MaxDependencyBlocks {
		return
	}
	sortBySeqThenSlot(waiters, g.statuses)
	for _, id := range waiters[:len(waiters)-g.cfg.MaxDependencyBlocks] {
		delete(g.statuses, id)
	}
}

func sortBySlot(ids []common.BlockID, statuses map[common.BlockID]*BlockStatus) {
	sortSlice(ids, func(a, b common.BlockID) bool {
		return statuses[a].Header.Slot.Less(statuses[b].Header.Slot)
	})
}

func sortBySeqThenSlot(ids []common.BlockID, statuses map[common.BlockID]*BlockStatus) {
	sortSlice(ids, func(a, b common.BlockID) bool {
		sa, sb := statuses[a], statuses[b]
		if sa.Seq != sb.Seq {
			return sa.Seq < sb.Seq
		}
		return sa.Header.Slot.Less(sb.Header.Slot)
	})
}

func sortSlice(ids []common.BlockID, less func(a, b common.BlockID) bool) {
	sort.Slice(ids, func(i, j int) bool { return less(ids[i], ids[j]) })
}
