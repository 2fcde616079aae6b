package blockgraph

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threadchain/blockgraph/common"
)

func TestNewRejectsZeroThreadCount(t *testing.T) {
	cfg := testConfig(0)
	oracle := newFixedDrawOracle(testAddr(1))
	ledger := newMemLedger(nil)
	_, err := New(cfg, oracle, ledger, testAddr(1))
	require.Error(t, err)
}

func TestNewBuildsOneGenesisPerThread(t *testing.T) {
	creator := testAddr(1)
	cfg := testConfig(4)
	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(nil)

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	require.Len(t, g.genesisHashes, 4)
	seen := make(map[common.BlockID]struct{})
	for thread, id := range g.genesisHashes {
		st, ok := g.statuses[id]
		require.True(t, ok)
		require.Equal(t, StatusActive, st.Kind)
		require.Equal(t, uint32(thread), st.Active.Block.Header.Slot.Thread)
		require.True(t, st.Active.IsFinal)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 4, "genesis ids across threads must be distinct")
}

func TestNewLoadsInitialLedger(t *testing.T) {
	creator := testAddr(1)
	funded := testAddr(42)

	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.toml")
	line := fmt.Sprintf("%q = 12345\n", funded.String())
	require.NoError(t, ioutil.WriteFile(path, []byte(line), 0644))

	cfg := testConfig(1)
	cfg.InitialLedgerPath = path
	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(nil)

	_, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	subset, err := ledger.GetFinalLedgerSubset(map[common.Address]struct{}{funded: {}})
	require.NoError(t, err)
	require.Equal(t, Amount(12345), subset[funded].Balance)
}

func TestBestParentsAndLatestFinalTrackGenesis(t *testing.T) {
	creator := testAddr(1)
	cfg := testConfig(3)
	oracle := newFixedDrawOracle(creator)
	ledger := newMemLedger(nil)

	g, err := New(cfg, oracle, ledger, creator)
	require.NoError(t, err)

	best := g.BestParents()
	require.Equal(t, g.genesisHashes, best)

	periods := g.LatestFinalBlocksPeriods()
	require.Len(t, periods, 3)
	for _, pr := range periods {
		require.Equal(t, uint64(0), pr.Period)
	}
}
