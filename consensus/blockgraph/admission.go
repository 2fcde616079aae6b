package blockgraph

import (
	"container/heap"

	"github.com/threadchain/blockgraph/common"
	"github.com/threadchain/blockgraph/internal/log"
)

var logAdmission = log.NewModuleLogger(log.Admission)

// workItem is one (slot, id) entry in the admission drain queue.
// Queued items are processed in ascending (slot, id) order.
type workItem struct {
	slot common.Slot
	id   common.BlockID
}

type workQueue []workItem

func (q workQueue) Len() int { return len(q) }
func (q workQueue) Less(i, j int) bool {
	if !q[i].slot.Equal(q[j].slot) {
		return q[i].slot.Less(q[j].slot)
	}
	return lessBlockID(q[i].id, q[j].id)
}
func (q workQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *workQueue) Push(x interface{}) { *q = append(*q, x.(workItem)) }
func (q *workQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func lessBlockID(a, b common.BlockID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// IncomingHeader is the entry point for a header-only delivery.
func (g *BlockGraph) IncomingHeader(id common.BlockID, h Header, currentSlot common.Slot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.currentSlot = currentSlot
	if err := g.incoming(id, h, nil, currentSlot); err != nil {
		return err
	}
	return g.prune()
}

// IncomingBlock is the entry point for a full block delivery.
func (g *BlockGraph) IncomingBlock(id common.BlockID, b *Block, currentSlot common.Slot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.currentSlot = currentSlot
	if err := g.incoming(id, b.Header, b, currentSlot); err != nil {
		return err
	}
	return g.prune()
}

// SlotTick signals that wall time has advanced.
func (g *BlockGraph) SlotTick(currentSlot common.Slot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.currentSlot = currentSlot

	q := &workQueue{}
	heap.Init(q)
	for id, st := range g.statuses {
		if st.Kind == StatusWaitingForSlot {
			heap.Push(q, workItem{slot: st.Header.Slot, id: id})
		}
	}
	if err := g.drain(q); err != nil {
		return err
	}
	return g.prune()
}

func (g *BlockGraph) incoming(id common.BlockID, h Header, b *Block, currentSlot common.Slot) error {
	if g.isGenesis(id) {
		return nil
	}

	q := &workQueue{}
	heap.Init(q)

	existing, known := g.statuses[id]
	if !known {
		st := &BlockStatus{Kind: statusKindFor(b), Seq: g.nextSeq(), Header: h, Block: b}
		g.statuses[id] = st
		heap.Push(q, workItem{slot: h.Slot, id: id})
	} else {
		promoted := g.promote(existing, h, b)
		if promoted {
			heap.Push(q, workItem{slot: h.Slot, id: id})
		}
		// Self-dependency satisfaction: a WaitingForDependencies entry
		// whose missing set names itself (header-only hold) is
		// satisfied once the full block arrives.
		if existing.Kind == StatusWaitingForDependencies && b != nil {
			if _, ok := existing.Missing[id]; ok {
				delete(existing.Missing, id)
				existing.HeldOnlyHeader = false
				existing.Block = b
				if len(existing.Missing) == 0 {
					existing.Kind = StatusIncomingBlock
					heap.Push(q, workItem{slot: h.Slot, id: id})
				}
			}
		}
		g.bumpDependencyTree(id)
	}

	return g.drain(q)
}

func statusKindFor(b *Block) StatusKind {
	if b != nil {
		return StatusIncomingBlock
	}
	return StatusIncomingHeader
}

// promote bumps an existing status's sequence number and, if it
// upgrades a header-only hold to a full block, attaches it. It
// returns true if the item should be (re-)enqueued.
func (g *BlockGraph) promote(st *BlockStatus, h Header, b *Block) bool {
	st.Seq = g.nextSeq()
	switch st.Kind {
	case StatusIncomingHeader, StatusIncomingBlock, StatusWaitingForSlot:
		if b != nil && st.Block == nil {
			st.Block = b
			st.Kind = StatusIncomingBlock
		}
		return true
	case StatusWaitingForDependencies, StatusActive, StatusDiscarded:
		return false
	}
	return false
}

// bumpDependencyTree refreshes the sequence number of every
// WaitingForDependencies entry transitively rooted at id, so LRU-style
// pruning preserves recently touched waiters.
func (g *BlockGraph) bumpDependencyTree(root common.BlockID) {
	visited := map[common.BlockID]struct{}{root: {}}
	queue := []common.BlockID{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for id, st := range g.statuses {
			if _, done := visited[id]; done {
				continue
			}
			if st.isWaitingOn(cur) {
				st.Seq = g.nextSeq()
				visited[id] = struct{}{}
				queue = append(queue, id)
			}
		}
	}
}

// drain processes the work queue to completion: each step may enqueue
// further items (dependencies newly satisfied), which are merged and
// processed until empty.
func (g *BlockGraph) drain(q *workQueue) error {
	seen := make(map[common.BlockID]struct{})
	for q.Len() > 0 {
		item := heap.Pop(q).(workItem)
		if _, already := seen[item.id]; already {
			continue
		}
		seen[item.id] = struct{}{}

		more, err := g.process(item.id)
		if err != nil {
			return err
		}
		for _, id := range more {
			st := g.statuses[id]
			if st == nil {
				continue
			}
			// A returned id was reclassified (slot reached, dependency
			// set emptied) and must go through process again.
			delete(seen, id)
			heap.Push(q, workItem{slot: st.Header.Slot, id: id})
		}
	}
	return nil
}

// process dispatches on the id's current status. It returns ids that
// newly became enqueueable as a result (e.g. waiters whose dependency
// set emptied).
func (g *BlockGraph) process(id common.BlockID) ([]common.BlockID, error) {
	st, ok := g.statuses[id]
	if !ok {
		return nil, newContainerInconsistency("process: unknown id %s", id)
	}

	switch st.Kind {
	case StatusDiscarded, StatusActive:
		return nil, nil

	case StatusIncomingHeader:
		return g.processIncomingHeader(id, st)

	case StatusIncomingBlock:
		return g.processIncomingBlock(id, st)

	case StatusWaitingForSlot:
		if !g.currentSlot.Less(st.Header.Slot) {
			st.Kind = statusKindFor(st.Block)
			return []common.BlockID{id}, nil
		}
		return nil, nil

	case StatusWaitingForDependencies:
		if len(st.Missing) == 0 {
			st.Kind = statusKindFor(st.Block)
			return []common.BlockID{id}, nil
		}
		return nil, nil
	}
	return nil, nil
}

func (g *BlockGraph) processIncomingHeader(id common.BlockID, st *BlockStatus) ([]common.BlockID, error) {
	outcome, err := g.checkHeader(id, st.Header)
	if err != nil {
		return nil, err
	}
	switch outcome.kind {
	case outcomeDiscard:
		g.discard(id, st, outcome.reason, outcome.msg)
		return nil, nil
	case outcomeWaitForSlot:
		st.Kind = StatusWaitingForSlot
		return nil, nil
	case outcomeWaitForDependencies:
		// Header-only: also solicit the full block by waiting on self.
		missing := cloneIDSet(outcome.missing)
		missing[id] = struct{}{}
		st.Kind = StatusWaitingForDependencies
		st.Missing = missing
		st.HeldOnlyHeader = true
		return nil, nil
	case outcomeProceed:
		// A header alone cannot be admitted: it is solicited as a full
		// block via WaitingForDependencies{missing: {self}}.
		st.Kind = StatusWaitingForDependencies
		st.Missing = map[common.BlockID]struct{}{id: {}}
		st.HeldOnlyHeader = true
		return nil, nil
	}
	return nil, nil
}

func (g *BlockGraph) processIncomingBlock(id common.BlockID, st *BlockStatus) ([]common.BlockID, error) {
	outcome, err := g.checkHeader(id, st.Header)
	if err != nil {
		return nil, err
	}
	switch outcome.kind {
	case outcomeDiscard:
		g.discard(id, st, outcome.reason, outcome.msg)
		return nil, nil
	case outcomeWaitForSlot:
		st.Kind = StatusWaitingForSlot
		return nil, nil
	case outcomeWaitForDependencies:
		st.Kind = StatusWaitingForDependencies
		st.Missing = cloneIDSet(outcome.missing)
		st.HeldOnlyHeader = false
		return nil, nil
	}

	opOutcome, err := g.checkOperations(id, st.Block, outcome)
	if err != nil {
		return nil, err
	}
	switch opOutcome.kind {
	case outcomeDiscard:
		g.discard(id, st, opOutcome.reason, opOutcome.msg)
		return nil, nil
	case outcomeWaitForDependencies:
		st.Kind = StatusWaitingForDependencies
		st.Missing = cloneIDSet(opOutcome.missing)
		st.HeldOnlyHeader = false
		return nil, nil
	}

	if err := g.addBlockToGraph(id, st.Block, outcome, opOutcome); err != nil {
		return nil, err
	}
	// addBlockToGraph set the status to Active before running
	// maintenance; stale elimination may already have demoted it again.
	if st.Kind != StatusActive {
		return nil, nil
	}
	metricBlocksActivated.Inc(1)

	return g.satisfyWaiters(id), nil
}

// satisfyWaiters removes id from every WaitingForDependencies entry's
// missing set and returns those whose set became empty, so the
// drain loop re-enqueues them.
func (g *BlockGraph) satisfyWaiters(id common.BlockID) []common.BlockID {
	var ready []common.BlockID
	for otherID, st := range g.statuses {
		if !st.isWaitingOn(id) {
			continue
		}
		delete(st.Missing, id)
		if otherID == id {
			st.HeldOnlyHeader = false
		}
		if len(st.Missing) == 0 {
			ready = append(ready, otherID)
		}
	}
	return ready
}

func (g *BlockGraph) discard(id common.BlockID, st *BlockStatus, reason DiscardReason, msg string) {
	st.Kind = StatusDiscarded
	st.DiscardReason = reason
	st.DiscardMsg = msg
	st.Active = nil
	st.Block = nil
	st.Missing = nil
	g.discardedOrder.touch(id, st.Seq)

	if reason == DiscardInvalid {
		g.attackAttempts = append(g.attackAttempts, id)
		logAdmission.Warn("discarding block as invalid (attack attempt)", "id", id, "msg", msg)
	}
	if reason == DiscardStale {
		g.newStaleBlocks[id] = st.Header.Slot
		metricBlocksStale.Inc(1)
		logAdmission.Debug("discarding block as stale", "id", id)
	}
}

func cloneIDSet(s map[common.BlockID]struct{}) map[common.BlockID]struct{} {
	out := make(map[common.BlockID]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
