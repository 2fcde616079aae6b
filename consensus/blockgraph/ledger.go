package blockgraph

import (
	"time"

	"github.com/pkg/errors"

	"github.com/threadchain/blockgraph/common"
	"github.com/threadchain/blockgraph/internal/metrics"
)

var metricLedgerAtParents = metrics.NewRegisteredTimer("blockgraph/ledger/atparents")

// GetLedgerAtParents computes the speculative balance of addresses as
// of parents (one block id per thread), by chaining per-block ledger
// deltas backward onto the committed final ledger. It is a pure read,
// invoked by the operations validator and by external queries.
//
// parents must have exactly ThreadCount entries, one per thread.
func (g *BlockGraph) GetLedgerAtParents(parents []common.BlockID, addresses map[common.Address]struct{}) (map[common.Address]Amount, error) {
	defer func(start time.Time) { metricLedgerAtParents.UpdateSince(start) }(time.Now())
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getLedgerAtParentsLocked(parents, addresses)
}

func (g *BlockGraph) getLedgerAtParentsLocked(parents []common.BlockID, addresses map[common.Address]struct{}) (map[common.Address]Amount, error) {
	T := int(g.cfg.ThreadCount)
	if len(parents) != T {
		return nil, newContainerInconsistency("get_ledger_at_parents: want %d parents, got %d", T, len(parents))
	}

	parentABs := make([]*ActiveBlock, T)
	for t, pid := range parents {
		st, ok := g.statuses[pid]
		if !ok || st.Kind != StatusActive {
			return nil, newContainerInconsistency("get_ledger_at_parents: parent %s not active", pid)
		}
		parentABs[t] = st.Active
	}

	// Only threads actually touched by the query need a parent at or
	// after that thread's latest final block; a query restricted to
	// thread 0's addresses is unaffected by thread 1's parent being
	// stale.
	involvedThreads := make(map[int]struct{}, len(addresses))
	for addr := range addresses {
		involvedThreads[int(addressThread(addr, uint32(T)))] = struct{}{}
	}
	for t := range involvedThreads {
		if parentABs[t].Block.Header.Slot.Period < g.latestFinalBlocksPeriods[t].Period {
			return nil, errTooOld(t)
		}
	}

	// stopPeriods[target][source]: the period at/after which a
	// source-thread block's contribution to target's ledger has not
	// already been folded into the final ledger snapshot.
	stopPeriods := make([][]uint64, T)
	for target := 0; target < T; target++ {
		stopPeriods[target] = make([]uint64, T)
		finalAB := g.statuses[g.latestFinalBlocksPeriods[target].ID].Active
		for source := 0; source < T; source++ {
			if source == target {
				stopPeriods[target][source] = g.latestFinalBlocksPeriods[target].Period + 1
			} else {
				stopPeriods[target][source] = finalAB.Parents[source].Period + 1
			}
		}
	}

	accumulated := make([]ThreadLedgerChanges, T)
	for t := range accumulated {
		accumulated[t] = make(ThreadLedgerChanges)
	}

	visited := make(map[common.BlockID]struct{})
	queue := make([]*ActiveBlock, 0, T)
	for _, ab := range parentABs {
		if _, seen := visited[ab.ID]; !seen {
			visited[ab.ID] = struct{}{}
			queue = append(queue, ab)
		}
	}

	for len(queue) > 0 {
		ab := queue[0]
		queue = queue[1:]

		source := int(ab.Block.Header.Slot.Thread)
		period := ab.Block.Header.Slot.Period

		for target := 0; target < T; target++ {
			if period < stopPeriods[target][source] {
				continue
			}
			for addr := range addresses {
				change, ok := ab.BlockLedgerChange[target][addr]
				if !ok {
					continue
				}
				if err := accumulated[target].chainInto(addr, change); err != nil {
					return nil, err
				}
			}
		}

		if ab.Parents == nil || period <= g.latestFinalBlocksPeriods[source].Period {
			continue
		}
		for _, pref := range ab.Parents {
			if _, seen := visited[pref.ID]; seen {
				continue
			}
			pst, ok := g.statuses[pref.ID]
			if !ok || pst.Kind != StatusActive {
				continue
			}
			visited[pref.ID] = struct{}{}
			queue = append(queue, pst.Active)
		}
	}

	addrList := make(map[common.Address]struct{}, len(addresses))
	for a := range addresses {
		addrList[a] = struct{}{}
	}
	base, err := g.ledger.GetFinalLedgerSubset(addrList)
	if err != nil {
		return nil, err
	}

	result := make(map[common.Address]Amount, len(addresses))
	for addr := range addresses {
		addrThread := int(addressThread(addr, uint32(T)))
		balance := int64(base[addr].Balance)
		change := accumulated[addrThread][addr]
		if change.Sign {
			balance += int64(change.Amount)
		} else {
			balance -= int64(change.Amount)
		}
		if balance < 0 {
			return nil, &InvalidLedgerChangeError{Msg: "resulting balance is negative"}
		}
		result[addr] = Amount(balance)
	}
	return result, nil
}

// addressThread derives the thread an address belongs to. Real
// address-to-thread derivation depends on the public key encoding,
// which is handled outside this module; a low-order-byte modulus
// stands in for it here and is the only place that choice is made.
func addressThread(addr common.Address, threadCount uint32) uint32 {
	return uint32(addr[len(addr)-1]) % threadCount
}

func errTooOld(thread int) error {
	return errors.Wrapf(ErrLedgerQueryTooOld, "thread %d", thread)
}
