package blockgraph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threadchain/blockgraph/common"
)

func TestLedgerChangeChainCommutative(t *testing.T) {
	a := LedgerChange{Amount: 50, Sign: true}
	b := LedgerChange{Amount: 30, Sign: false}

	ab, err := a.Chain(b)
	require.NoError(t, err)
	ba, err := b.Chain(a)
	require.NoError(t, err)
	require.Equal(t, ab, ba)
	require.Equal(t, LedgerChange{Amount: 20, Sign: true}, ab)
}

func TestChainLedgerChangesOrderIndependent(t *testing.T) {
	changes := []LedgerChange{
		{Amount: 10, Sign: true},
		{Amount: 25, Sign: false},
		{Amount: 5, Sign: true},
	}
	forward, err := ChainLedgerChanges(changes...)
	require.NoError(t, err)

	reversed := []LedgerChange{changes[2], changes[1], changes[0]}
	backward, err := ChainLedgerChanges(reversed...)
	require.NoError(t, err)

	require.Equal(t, forward, backward)
	require.Equal(t, LedgerChange{Amount: 10, Sign: false}, forward)
}

func TestLedgerChangeChainOverflow(t *testing.T) {
	a := LedgerChange{Amount: Amount(math.MaxInt64), Sign: true}
	b := LedgerChange{Amount: Amount(math.MaxInt64), Sign: true}
	_, err := a.Chain(b)
	require.Error(t, err)
	require.IsType(t, &InvalidLedgerChangeError{}, err)
}

func TestHeaderComputeIDStableAndSensitiveToParents(t *testing.T) {
	h1 := Header{
		Slot:    common.Slot{Period: 1, Thread: 0},
		Creator: testAddr(1),
	}
	id1 := h1.ComputeID()
	id1Again := h1.ComputeID()
	require.Equal(t, id1, id1Again)

	h2 := h1
	h2.Parents = []common.BlockID{id1}
	id2 := h2.ComputeID()
	require.NotEqual(t, id1, id2)
}
