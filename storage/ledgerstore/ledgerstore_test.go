package ledgerstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threadchain/blockgraph/common"
	"github.com/threadchain/blockgraph/consensus/blockgraph"
)

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func TestStoreApplyAndRead(t *testing.T) {
	s, err := Open(t.TempDir(), 16, 16)
	require.NoError(t, err)
	defer s.Close()

	a1, a2 := addr(1), addr(2)
	want := map[common.Address]struct{}{a1: {}, a2: {}}

	before, err := s.GetFinalLedgerSubset(want)
	require.NoError(t, err)
	require.Empty(t, before)

	err = s.ApplyFinalChanges(0, []blockgraph.AddressChange{
		{Address: a1, Change: blockgraph.LedgerChange{Amount: 100, Sign: true}},
		{Address: a2, Change: blockgraph.LedgerChange{Amount: 50, Sign: true}},
	}, 5)
	require.NoError(t, err)

	after, err := s.GetFinalLedgerSubset(want)
	require.NoError(t, err)
	require.Equal(t, blockgraph.Amount(100), after[a1].Balance)
	require.Equal(t, blockgraph.Amount(50), after[a2].Balance)

	period, err := s.FinalPeriod(0)
	require.NoError(t, err)
	require.Equal(t, uint64(5), period)

	// a debit from a later thread's commit accumulates onto the same
	// global balance.
	err = s.ApplyFinalChanges(1, []blockgraph.AddressChange{
		{Address: a1, Change: blockgraph.LedgerChange{Amount: 30, Sign: false}},
	}, 3)
	require.NoError(t, err)

	after, err = s.GetFinalLedgerSubset(want)
	require.NoError(t, err)
	require.Equal(t, blockgraph.Amount(70), after[a1].Balance)
}

func TestStoreApplyFinalChangesRejectsOverdraft(t *testing.T) {
	s, err := Open(t.TempDir(), 16, 16)
	require.NoError(t, err)
	defer s.Close()

	a1 := addr(1)
	err = s.ApplyFinalChanges(0, []blockgraph.AddressChange{
		{Address: a1, Change: blockgraph.LedgerChange{Amount: 10, Sign: false}},
	}, 1)
	require.Error(t, err)
	require.IsType(t, &blockgraph.InvalidLedgerChangeError{}, err)
}

func TestMemoryApplyAndRead(t *testing.T) {
	a1 := addr(1)
	m := NewMemory(map[common.Address]blockgraph.Amount{a1: 10})

	err := m.ApplyFinalChanges(0, []blockgraph.AddressChange{
		{Address: a1, Change: blockgraph.LedgerChange{Amount: 5, Sign: true}},
	}, 2)
	require.NoError(t, err)

	got, err := m.GetFinalLedgerSubset(map[common.Address]struct{}{a1: {}})
	require.NoError(t, err)
	require.Equal(t, blockgraph.Amount(15), got[a1].Balance)
	require.Equal(t, uint64(2), m.FinalPeriod(0))
}
