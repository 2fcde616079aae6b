package blockgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threadchain/blockgraph/common"
)

func testBounds(cfg Config) BootstrapBounds {
	return BootstrapBounds{
		MaxBlocks:        10000,
		MaxChildren:      1000,
		MaxDeps:          1000,
		MaxCliques:       1000,
		MaxPosEntries:    10000,
		MaxLedgerEntries: 10000,
		ThreadCount:      int(cfg.ThreadCount),
	}
}

// TestBootstrapRoundTrip builds a small chain, exports it, serialises
// and deserialises it, and checks the reconstructed graph behaves the
// same way as the original for admission purposes.
func TestBootstrapRoundTrip(t *testing.T) {
	creator := testAddr(7)
	cfg := testConfig(1)
	cfg.DeltaF0 = 100 // keep everything non-final so Export sees live blocks too.

	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(map[common.Address]Amount{testAddr(1): 500})

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	for period := uint64(1); period <= 3; period++ {
		id, block := childBlock(g, 0, period, creator)
		require.NoError(t, g.IncomingBlock(id, block, common.Slot{Period: period, Thread: 0}))
	}

	exported, err := g.Export()
	require.NoError(t, err)
	bounds := testBounds(cfg)

	data, err := Serialize(exported, bounds)
	require.NoError(t, err)

	decoded, err := Deserialize(data, bounds)
	require.NoError(t, err)

	require.Equal(t, len(exported.ActiveBlocks), len(decoded.ActiveBlocks))
	require.Equal(t, exported.BestParents, decoded.BestParents)
	require.Equal(t, exported.LatestFinalBlocksPeriods, decoded.LatestFinalBlocksPeriods)
	require.Equal(t, exported.Ledger, decoded.Ledger)

	restoredLedger := newMemLedger(nil)
	g2, err := NewFromBootstrap(decoded, cfg, oracle, restoredLedger)
	require.NoError(t, err)

	subset, err := restoredLedger.GetFinalLedgerSubset(map[common.Address]struct{}{testAddr(1): {}})
	require.NoError(t, err)
	require.Equal(t, Amount(500), subset[testAddr(1)].Balance)

	require.Equal(t, g.BestParents(), g2.BestParents())
	require.Equal(t, g.LatestFinalBlocksPeriods(), g2.LatestFinalBlocksPeriods())

	for id, st := range g.statuses {
		st2, ok := g2.statuses[id]
		require.True(t, ok)
		require.Equal(t, st.Kind, st2.Kind)
		if st.Kind == StatusActive {
			require.Equal(t, st.Active.IsFinal, st2.Active.IsFinal)
			require.Equal(t, st.Active.Block.Header.Slot, st2.Active.Block.Header.Slot)
		}
	}
}

// TestSerializeRejectsOversizedCollection exercises writeBoundedSlice's
// own bound check.
func TestSerializeRejectsOversizedCollection(t *testing.T) {
	cfg := testConfig(1)
	bounds := testBounds(cfg)
	bounds.MaxCliques = 1

	var bg BootstrappableGraph
	bg.BestParents = make([]common.BlockID, cfg.ThreadCount)
	bg.LatestFinalBlocksPeriods = make([]ParentRef, cfg.ThreadCount)
	bg.MaxCliques = [][]common.BlockID{{}, {}} // 2 cliques > bound of 1

	_, err := Serialize(bg, bounds)
	require.Error(t, err)
	require.IsType(t, &SerializeError{}, err)
}

// TestDeserializeRejectsTruncatedStream exercises the codec's
// truncated-input handling.
func TestDeserializeRejectsTruncatedStream(t *testing.T) {
	cfg := testConfig(1)
	bounds := testBounds(cfg)

	var bg BootstrappableGraph
	bg.BestParents = make([]common.BlockID, cfg.ThreadCount)
	bg.LatestFinalBlocksPeriods = make([]ParentRef, cfg.ThreadCount)

	data, err := Serialize(bg, bounds)
	require.NoError(t, err)

	_, err = Deserialize(data[:len(data)-1], bounds)
	require.Error(t, err)
	require.IsType(t, &DeserializeError{}, err)
}
