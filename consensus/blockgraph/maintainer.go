package blockgraph

import (
	"sort"

	set "gopkg.in/fatih/set.v0"

	"github.com/threadchain/blockgraph/common"
)

var logMaintainer = logGraph

// addBlockToGraph inserts a validated block into the DAG and runs the
// clique/stale/finality maintenance cycle. It
// is invoked by the admission pipeline once both the header and
// operations checks return Proceed.
func (g *BlockGraph) addBlockToGraph(id common.BlockID, block *Block, hout headerOutcome, oout opsOutcome) error {
	T := int(g.cfg.ThreadCount)
	ownThread := block.Header.Slot.Thread

	ab := &ActiveBlock{
		ID:                    id,
		Block:                 *block,
		Parents:               hout.parents,
		Children:              make([]map[common.BlockID]uint64, T),
		Descendants:           make(map[common.BlockID]struct{}),
		Dependencies:          oout.dependencies,
		IsFinal:               false,
		BlockLedgerChange:     oout.blockLedgerChanges,
		OperationSet:          oout.operationSet,
		AddressesToOperations: oout.addressesToOperations,
		RollUpdates:           oout.rollUpdates,
	}
	for i := range ab.Children {
		ab.Children[i] = make(map[common.BlockID]uint64)
	}
	st := g.statuses[id]
	st.Kind = StatusActive
	st.Active = ab
	st.Block = nil
	st.Missing = nil

	// 2. Register id as a child of each parent.
	for _, p := range hout.parents {
		if pab := g.statuses[p.ID].Active; pab != nil {
			pab.Children[ownThread][id] = block.Header.Slot.Period
		}
	}

	// 3. Transitive descendant update.
	visited := map[common.BlockID]struct{}{}
	queue := make([]common.BlockID, 0, T)
	for _, p := range hout.parents {
		queue = append(queue, p.ID)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		cab := g.statuses[cur].Active
		if cab == nil {
			continue
		}
		cab.Descendants[id] = struct{}{}
		for _, p := range cab.Parents {
			queue = append(queue, p.ID)
		}
	}

	// 4. Incompatibility graph.
	idIncomp := set.New()
	for x := range hout.incomp {
		idIncomp.Add(x)
		if _, ok := g.giHead[x]; !ok {
			g.giHead[x] = set.New()
		}
		g.giHead[x].Add(id)
	}
	g.giHead[id] = idIncomp

	// 5. Clique update: fast path if id's incompatibilities are wholly
	// inherited from its parents (no new fork introduced).
	if len(hout.incomp) == hout.inheritedIncompCount {
		metricCliqueFastPath.Inc(1)
		for _, c := range g.maxCliques {
			disjoint := true
			for x := range hout.incomp {
				if c.Has(x) {
					disjoint = false
					break
				}
			}
			if disjoint {
				c.Add(id)
			}
		}
	} else {
		g.recomputeCliques()
	}

	if err := g.updateBestParents(); err != nil {
		return err
	}

	if err := g.eliminateStale(); err != nil {
		return err
	}
	if err := g.updateFinality(); err != nil {
		return err
	}

	// A block stale-eliminated in the same maintenance cycle is
	// reported through new_stale_blocks only, never also propagated.
	if st.Kind == StatusActive {
		g.toPropagate[id] = block
	}
	return nil
}

// updateBestParents picks, for each thread, the blockclique member of
// that thread with no child also in the blockclique in that thread.
// A blockclique of size 0 (no non-final active blocks) leaves
// best_parents untouched.
func (g *BlockGraph) updateBestParents() error {
	idx, err := g.selectBlockclique()
	if err != nil {
		return err
	}
	if idx < 0 {
		return nil
	}
	clique := g.maxCliques[idx]
	if clique.Size() == 0 {
		return nil
	}

	for t := uint32(0); t < g.cfg.ThreadCount; t++ {
		var tip common.BlockID
		found := false
		for _, iv := range clique.List() {
			id := iv.(common.BlockID)
			ab := g.statuses[id].Active
			if ab == nil || ab.Block.Header.Slot.Thread != t {
				continue
			}
			hasChildInClique := false
			for childID := range ab.Children[t] {
				if clique.Has(childID) {
					hasChildInClique = true
					break
				}
			}
			if !hasChildInClique {
				tip = id
				found = true
				break
			}
		}
		if found {
			g.bestParents[t] = tip
		}
	}
	return nil
}

// eliminateStale drops cliques whose fitness has fallen more than
// delta_f0 below the blockclique's; ids exclusive to those low
// cliques are discarded Stale.
func (g *BlockGraph) eliminateStale() error {
	if len(g.maxCliques) == 0 {
		return nil
	}
	idx, err := g.selectBlockclique()
	if err != nil {
		return err
	}
	best, err := g.cliqueFitness(g.maxCliques[idx])
	if err != nil {
		return err
	}
	threshold := int64(best) - int64(g.cfg.DeltaF0)
	if threshold < 0 {
		threshold = 0
	}

	var high, low []set.Interface
	for _, c := range g.maxCliques {
		f, err := g.cliqueFitness(c)
		if err != nil {
			return err
		}
		if int64(f) >= threshold {
			high = append(high, c)
		} else {
			low = append(low, c)
		}
	}
	if len(low) == 0 {
		return nil
	}

	var highUnion set.Interface = set.New()
	for _, c := range high {
		highUnion = set.Union(highUnion, c)
	}

	stale := set.New()
	for _, c := range low {
		for _, iv := range c.List() {
			id := iv.(common.BlockID)
			if !highUnion.Has(id) {
				stale.Add(id)
			}
		}
	}

	if len(high) == 0 {
		high = []set.Interface{set.New()}
	}
	g.maxCliques = high

	for _, iv := range stale.List() {
		id := iv.(common.BlockID)
		st := g.statuses[id]
		if st == nil || st.Kind != StatusActive {
			continue
		}
		ab := st.Active
		if ab.IsFinal {
			return newContainerInconsistency("eliminate_stale: %s already final", id)
		}

		g.removeFromGiHead(id)
		g.removeFromCliques(id)
		for _, p := range ab.Parents {
			if pab := g.statuses[p.ID].Active; pab != nil {
				delete(pab.Children[ab.Block.Header.Slot.Thread], id)
			}
		}

		st.Kind = StatusDiscarded
		st.DiscardReason = DiscardStale
		st.DiscardMsg = "eliminated: clique fitness below blockclique threshold"
		st.Active = nil
		g.discardedOrder.touch(id, st.Seq)
		g.newStaleBlocks[id] = ab.Block.Header.Slot
		metricBlocksStale.Inc(1)
		logMaintainer.Debug("block eliminated as stale", "id", id)
	}
	return nil
}

// updateFinality selects candidates — blocks present in every
// surviving clique; a candidate finalises once, in
// some clique ordered by descending fitness (restricted to fitness >
// delta_f0), the fitness of its in-clique descendants exceeds
// delta_f0. Finalised blocks per thread advance
// latest_final_blocks_periods and trigger a ledger commit.
func (g *BlockGraph) updateFinality() error {
	if len(g.maxCliques) == 0 {
		return nil
	}
	candidates := g.maxCliques[0].Copy()
	for _, c := range g.maxCliques[1:] {
		candidates = intersect(candidates, c)
	}
	if candidates.Size() == 0 {
		return nil
	}

	type scored struct {
		c       set.Interface
		fitness uint64
	}
	var ordered []scored
	for _, c := range g.maxCliques {
		f, err := g.cliqueFitness(c)
		if err != nil {
			return err
		}
		if f > g.cfg.DeltaF0 {
			ordered = append(ordered, scored{c, f})
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].fitness > ordered[j].fitness })

	finalized := set.New()
	for _, s := range ordered {
		for _, iv := range candidates.List() {
			id := iv.(common.BlockID)
			if finalized.Has(id) || !s.c.Has(id) {
				continue
			}
			st, ok := g.statuses[id]
			if !ok || st.Active == nil {
				return newMissingBlock("finality candidate %s not active", id)
			}
			ab := st.Active
			var descFitness uint64
			for d := range ab.Descendants {
				if s.c.Has(d) {
					descFitness += blockFitness()
				}
			}
			if descFitness > g.cfg.DeltaF0 {
				finalized.Add(id)
			}
		}
	}
	if finalized.Size() == 0 {
		return nil
	}

	byThread := make(map[uint32][]common.BlockID)
	for _, iv := range finalized.List() {
		id := iv.(common.BlockID)
		ab := g.statuses[id].Active
		t := ab.Block.Header.Slot.Thread
		byThread[t] = append(byThread[t], id)
	}

	for t, ids := range byThread {
		sort.Slice(ids, func(i, j int) bool {
			return g.statuses[ids[i]].Active.Block.Header.Slot.Period < g.statuses[ids[j]].Active.Block.Header.Slot.Period
		})
		oldFinal := g.latestFinalBlocksPeriods[t]

		for _, id := range ids {
			ab := g.statuses[id].Active
			g.removeFromGiHead(id)
			g.removeFromCliques(id)
			ab.IsFinal = true
			g.newFinalBlocks[id] = struct{}{}
			metricBlocksFinal.Inc(1)
			if ab.Block.Header.Slot.Period > g.latestFinalBlocksPeriods[t].Period {
				g.latestFinalBlocksPeriods[t] = ParentRef{ID: id, Period: ab.Block.Header.Slot.Period}
			}
		}

		if g.latestFinalBlocksPeriods[t].ID != oldFinal.ID {
			if err := g.commitLedger(t, oldFinal); err != nil {
				return err
			}
		}
	}
	return nil
}

// commitLedger folds block_ledger_change[thread] across the ancestors
// of the new latest-final block down to (excluding) the previous one,
// using the same per-thread stop-period gating as get_ledger_at_parents
//, then submits the atomic commit.
func (g *BlockGraph) commitLedger(thread uint32, oldFinal ParentRef) error {
	T := int(g.cfg.ThreadCount)
	newFinal := g.latestFinalBlocksPeriods[thread]

	oldAB := g.statuses[oldFinal.ID].Active
	if oldAB == nil {
		return newContainerInconsistency("commit_ledger: missing old final %s", oldFinal.ID)
	}

	stopPeriods := make([]uint64, T)
	for source := 0; source < T; source++ {
		if uint32(source) == thread {
			stopPeriods[source] = oldFinal.Period + 1
		} else {
			stopPeriods[source] = oldAB.Parents[source].Period + 1
		}
	}

	accumulated := make(ThreadLedgerChanges)
	visited := map[common.BlockID]struct{}{}
	queue := []common.BlockID{newFinal.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		if cur == oldFinal.ID {
			continue
		}
		ab := g.statuses[cur].Active
		if ab == nil {
			continue
		}
		source := int(ab.Block.Header.Slot.Thread)
		period := ab.Block.Header.Slot.Period
		if period < stopPeriods[source] {
			continue
		}
		for addr, change := range ab.BlockLedgerChange[thread] {
			if err := accumulated.chainInto(addr, change); err != nil {
				return err
			}
		}
		// Keep walking: an ancestor in another thread may still be
		// above its own stop bound even when this block sits exactly at
		// its. Each visit gates itself on stopPeriods.
		for _, p := range ab.Parents {
			queue = append(queue, p.ID)
		}
	}

	changes := make([]AddressChange, 0, len(accumulated))
	for addr, change := range accumulated {
		changes = append(changes, AddressChange{Address: addr, Change: change})
	}

	logMaintainer.Info("committing final ledger changes", "thread", thread, "period", newFinal.Period, "changes", len(changes))
	return g.ledger.ApplyFinalChanges(thread, changes, newFinal.Period)
}

func (g *BlockGraph) removeFromGiHead(id common.BlockID) {
	nbrs, ok := g.giHead[id]
	if !ok {
		return
	}
	for _, iv := range nbrs.List() {
		other := iv.(common.BlockID)
		if on, ok := g.giHead[other]; ok {
			on.Remove(id)
		}
	}
	delete(g.giHead, id)
}

func (g *BlockGraph) removeFromCliques(id common.BlockID) {
	for _, c := range g.maxCliques {
		c.Remove(id)
	}
}
