package blockgraph

import "github.com/threadchain/blockgraph/common"

// cycleOf derives the cycle a period falls in, given periods_per_cycle.
func (g *BlockGraph) cycleOf(period uint64) uint64 {
	if g.cfg.PeriodsPerCycle == 0 {
		return 0
	}
	return period / g.cfg.PeriodsPerCycle
}

// rollDataAtParent reconstructs roll state at a parent: walk back
// along the own-thread parent chain until a final ancestor is
// reached, load the PoS oracle's roll_count/cycle_updates at that
// final ancestor, then unwind applying each walked block's roll
// updates. Fails with a container-inconsistency error if any walked
// id is not active.
func (g *BlockGraph) rollDataAtParent(parent common.BlockID, addresses map[common.Address]struct{}, targetCycle uint64) (map[common.Address]uint64, RollUpdates, error) {
	var stack []*ActiveBlock

	cur := parent
	for {
		st, ok := g.statuses[cur]
		if !ok || st.Kind != StatusActive {
			return nil, nil, newContainerInconsistency("roll_data_at_parent: %s not active", cur)
		}
		ab := st.Active
		if ab.IsFinal {
			rollCounts, cycleUpdates, ok := g.pos.GetFinalRollData(g.cycleOf(ab.Block.Header.Slot.Period), ab.Block.Header.Slot.Thread, addresses)
			if !ok {
				rollCounts = make(map[common.Address]uint64)
				cycleUpdates = make(RollUpdates)
			}
			finalCycle := g.cycleOf(ab.Block.Header.Slot.Period)
			curCycleRollUpdates := make(RollUpdates)
			if finalCycle == targetCycle {
				for addr, u := range cycleUpdates {
					curCycleRollUpdates[addr] = u
				}
			}
			return g.unwindRollStack(stack, rollCounts, curCycleRollUpdates, targetCycle)
		}
		stack = append(stack, ab)
		cur = ab.Parents[ab.Block.Header.Slot.Thread].ID
	}
}

func (g *BlockGraph) unwindRollStack(stack []*ActiveBlock, rollCounts map[common.Address]uint64, curCycleRollUpdates RollUpdates, targetCycle uint64) (map[common.Address]uint64, RollUpdates, error) {
	for i := len(stack) - 1; i >= 0; i-- {
		ab := stack[i]
		for addr, u := range ab.RollUpdates {
			applyRollUpdate(rollCounts, addr, u)
			if g.cycleOf(ab.Block.Header.Slot.Period) == targetCycle {
				// Compensations are ignored when chaining into the
				// current-cycle accumulator.
				curCycleRollUpdates[addr] = curCycleRollUpdates[addr].Chain(RollUpdate{
					RollPurchases: u.RollPurchases,
					RollSales:     u.RollSales,
				})
			}
		}
	}
	return rollCounts, curCycleRollUpdates, nil
}

func applyRollUpdate(counts map[common.Address]uint64, addr common.Address, u RollUpdate) {
	counts[addr] = counts[addr] + u.RollPurchases - u.RollSales
}
