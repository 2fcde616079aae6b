package blockgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threadchain/blockgraph/common"
)

// TestAdmissionSingleThreadChainFinalises drives a straight single
// thread chain through IncomingBlock far enough past delta_f0 for
// early blocks to finalise, exercising checkHeader, checkOperations,
// addBlockToGraph and updateFinality end to end.
func TestAdmissionSingleThreadChainFinalises(t *testing.T) {
	creator := testAddr(1)
	cfg := testConfig(1)
	cfg.DeltaF0 = 2

	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(nil)

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	var ids []common.BlockID
	for period := uint64(1); period <= 6; period++ {
		id, block := childBlock(g, 0, period, creator)
		ids = append(ids, id)
		require.NoError(t, g.IncomingBlock(id, block, common.Slot{Period: period, Thread: 0}))
	}

	final := g.LatestFinalBlocksPeriods()
	require.Greater(t, final[0].Period, uint64(0), "earliest blocks should have finalised once their descendant fitness exceeded delta_f0")

	st, ok := g.statuses[ids[0]]
	require.True(t, ok)
	require.Equal(t, StatusActive, st.Kind)
	require.True(t, st.Active.IsFinal)
}

// TestAdmissionRejectsWrongCreator exercises the Draw-mismatch
// Invalid-discard path of checkHeader.
func TestAdmissionRejectsWrongCreator(t *testing.T) {
	creator := testAddr(1)
	impostor := testAddr(2)
	cfg := testConfig(1)

	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(nil)

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	id, block := childBlock(g, 0, 1, impostor)
	require.NoError(t, g.IncomingBlock(id, block, common.Slot{Period: 1, Thread: 0}))

	st, ok := g.statuses[id]
	require.True(t, ok)
	require.Equal(t, StatusDiscarded, st.Kind)
	require.Equal(t, DiscardInvalid, st.DiscardReason)

	attacks := g.GetAttackAttempts()
	require.Contains(t, attacks, id)
}

// TestAdmissionWaitsForMissingParent exercises the
// WaitingForDependencies routing when a referenced parent is unknown.
func TestAdmissionWaitsForMissingParent(t *testing.T) {
	creator := testAddr(1)
	cfg := testConfig(1)

	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(nil)

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	unknownParent := common.BlockID{0xff}
	h := Header{
		Slot:    common.Slot{Period: 5, Thread: 0},
		Parents: []common.BlockID{unknownParent},
		Creator: creator,
	}
	id := h.ComputeID()
	block := &Block{Header: h}

	require.NoError(t, g.IncomingBlock(id, block, common.Slot{Period: 5, Thread: 0}))

	st, ok := g.statuses[id]
	require.True(t, ok)
	require.Equal(t, StatusWaitingForDependencies, st.Kind)
	_, waiting := st.Missing[unknownParent]
	require.True(t, waiting)
}

// TestSlotTickActivatesWaitingChain checks that a block whose slot is
// in the future waits for its slot, a child
// referencing it (also in the future) waits for its slot too, and a single SlotTick past
// both slots activates the pair in parent-first order.
func TestSlotTickActivatesWaitingChain(t *testing.T) {
	creator := testAddr(1)
	cfg := testConfig(1)

	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(nil)

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	hP := Header{Slot: common.Slot{Period: 4, Thread: 0}, Parents: g.BestParents(), Creator: creator}
	idP := hP.ComputeID()
	require.NoError(t, g.IncomingBlock(idP, &Block{Header: hP}, common.Slot{Period: 1, Thread: 0}))
	require.Equal(t, StatusWaitingForSlot, g.statuses[idP].Kind)

	hC := Header{Slot: common.Slot{Period: 5, Thread: 0}, Parents: []common.BlockID{idP}, Creator: creator}
	idC := hC.ComputeID()
	require.NoError(t, g.IncomingBlock(idC, &Block{Header: hC}, common.Slot{Period: 1, Thread: 0}))
	require.Equal(t, StatusWaitingForSlot, g.statuses[idC].Kind)

	require.NoError(t, g.SlotTick(common.Slot{Period: 5, Thread: 0}))

	require.Equal(t, StatusActive, g.statuses[idP].Kind)
	require.Equal(t, StatusActive, g.statuses[idC].Kind)
	require.Equal(t, idC, g.BestParents()[0])
}

// TestDependencySatisfactionActivatesWaiter delivers a child before
// its parent; once the parent is admitted the waiter's missing set
// empties and the child activates in the same drain.
func TestDependencySatisfactionActivatesWaiter(t *testing.T) {
	creator := testAddr(1)
	cfg := testConfig(1)

	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(nil)

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	hP := Header{Slot: common.Slot{Period: 1, Thread: 0}, Parents: g.BestParents(), Creator: creator}
	idP := hP.ComputeID()

	hC := Header{Slot: common.Slot{Period: 2, Thread: 0}, Parents: []common.BlockID{idP}, Creator: creator}
	idC := hC.ComputeID()

	require.NoError(t, g.IncomingBlock(idC, &Block{Header: hC}, common.Slot{Period: 2, Thread: 0}))
	require.Equal(t, StatusWaitingForDependencies, g.statuses[idC].Kind)

	require.NoError(t, g.IncomingBlock(idP, &Block{Header: hP}, common.Slot{Period: 2, Thread: 0}))
	require.Equal(t, StatusActive, g.statuses[idP].Kind)
	require.Equal(t, StatusActive, g.statuses[idC].Kind)
}

func TestGenesisIsFinalAndIdempotent(t *testing.T) {
	creator := testAddr(1)
	cfg := testConfig(2)
	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(nil)

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	parents := g.BestParents()
	require.Len(t, parents, 2)
	for _, p := range parents {
		st := g.statuses[p]
		require.Equal(t, StatusActive, st.Kind)
		require.True(t, st.Active.IsFinal)
	}

	// Re-delivering a genesis id is a no-op.
	require.NoError(t, g.IncomingHeader(parents[0], g.statuses[parents[0]].Active.Block.Header, common.Slot{Period: 0, Thread: 0}))
}
