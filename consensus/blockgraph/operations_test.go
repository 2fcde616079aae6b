package blockgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threadchain/blockgraph/common"
)

// TestOperationReuseDiscardsBlockInvalid exercises reuse detection:
// replaying an operation id still within its validity
// window, in a later block of the same thread, invalidates the block
// instead of erroring the pipeline (this was a real bug found and
// fixed in checkOperations/detectReuse during development).
func TestOperationReuseDiscardsBlockInvalid(t *testing.T) {
	creator := testAddr(3)
	sender := testAddr(9)
	cfg := testConfig(1)

	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(map[common.Address]Amount{sender: 1000})

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	op := Operation{
		ID:                  OperationID{0xAA},
		Sender:              sender,
		Recipient:           testAddr(4),
		Amount:              10,
		ValidityStartPeriod: 1,
		ValidityEndPeriod:   50,
	}

	parents1 := g.BestParents()
	h1 := Header{Slot: common.Slot{Period: 1, Thread: 0}, Parents: parents1, Creator: creator}
	id1 := h1.ComputeID()
	b1 := &Block{Header: h1, Operations: []Operation{op}}
	require.NoError(t, g.IncomingBlock(id1, b1, common.Slot{Period: 1, Thread: 0}))

	st1, ok := g.statuses[id1]
	require.True(t, ok)
	require.Equal(t, StatusActive, st1.Kind, "first delivery of the operation must be admitted")

	parents2 := g.BestParents()
	h2 := Header{Slot: common.Slot{Period: 2, Thread: 0}, Parents: parents2, Creator: creator}
	id2 := h2.ComputeID()
	b2 := &Block{Header: h2, Operations: []Operation{op}}
	require.NoError(t, g.IncomingBlock(id2, b2, common.Slot{Period: 2, Thread: 0}))

	st2, ok := g.statuses[id2]
	require.True(t, ok)
	require.Equal(t, StatusDiscarded, st2.Kind)
	require.Equal(t, DiscardInvalid, st2.DiscardReason)
}

// TestOperationFeeDebitsSenderAndCreditsCreator checks the full
// per-operation accounting: the sender's block
// ledger change carries amount plus fee, the creator's carries reward
// plus fee, and the speculative ledger at the new tip reflects both.
func TestOperationFeeDebitsSenderAndCreditsCreator(t *testing.T) {
	creator := testAddr(3)
	sender := testAddr(9)
	recipient := testAddr(5)
	cfg := testConfig(1)

	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(map[common.Address]Amount{sender: 100})

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	op := Operation{
		ID:                  OperationID{0xCC},
		Sender:              sender,
		Recipient:           recipient,
		Amount:              10,
		Fee:                 5,
		ValidityStartPeriod: 1,
		ValidityEndPeriod:   50,
	}

	h := Header{Slot: common.Slot{Period: 1, Thread: 0}, Parents: g.BestParents(), Creator: creator}
	id := h.ComputeID()
	require.NoError(t, g.IncomingBlock(id, &Block{Header: h, Operations: []Operation{op}}, common.Slot{Period: 1, Thread: 0}))

	st := g.statuses[id]
	require.Equal(t, StatusActive, st.Kind)

	changes := st.Active.BlockLedgerChange[0]
	require.Equal(t, LedgerChange{Amount: 15, Sign: false}, changes[sender], "sender owes amount plus fee")
	require.Equal(t, LedgerChange{Amount: 6, Sign: true}, changes[creator], "creator earns reward plus fee")
	require.Equal(t, LedgerChange{Amount: 10, Sign: true}, changes[recipient])

	res, err := g.GetLedgerAtParents([]common.BlockID{id}, map[common.Address]struct{}{
		sender: {}, creator: {}, recipient: {},
	})
	require.NoError(t, err)
	require.Equal(t, Amount(85), res[sender])
	require.Equal(t, Amount(6), res[creator])
	require.Equal(t, Amount(10), res[recipient])
}

// TestOperationInsufficientBalanceDiscardsBlockInvalid exercises the
// debit-failure path of checkOperations.
func TestOperationInsufficientBalanceDiscardsBlockInvalid(t *testing.T) {
	creator := testAddr(3)
	sender := testAddr(9)
	cfg := testConfig(1)

	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(map[common.Address]Amount{sender: 5})

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	op := Operation{
		ID:                  OperationID{0xBB},
		Sender:              sender,
		Recipient:           testAddr(4),
		Amount:              1000,
		ValidityStartPeriod: 1,
		ValidityEndPeriod:   50,
	}

	parents := g.BestParents()
	h := Header{Slot: common.Slot{Period: 1, Thread: 0}, Parents: parents, Creator: creator}
	id := h.ComputeID()
	b := &Block{Header: h, Operations: []Operation{op}}
	require.NoError(t, g.IncomingBlock(id, b, common.Slot{Period: 1, Thread: 0}))

	st, ok := g.statuses[id]
	require.True(t, ok)
	require.Equal(t, StatusDiscarded, st.Kind)
	require.Equal(t, DiscardInvalid, st.DiscardReason)
}
