package blockgraph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threadchain/blockgraph/common"
)

// fixtureBlockID builds a synthetic block id; these ids stand in for
// a peer's bootstrap image and are never recomputed from their
// headers.
func fixtureBlockID(b byte) common.BlockID {
	var id common.BlockID
	id[0] = b
	return id
}

func change(amount Amount, credit bool) LedgerChange {
	return LedgerChange{Amount: amount, Sign: credit}
}

// TestGetLedgerAtParentsWorkedExample drives a worked example: two
// threads, a genesis pair, and six descendant blocks whose
// block_ledger_change entries are loaded via NewFromBootstrap exactly
// as a peer's bootstrap image would carry them. It asserts all three
// documented outcomes: the four-address balance at [p3t0, p3t1], the
// single-address balance at [p1t0, p1t1], and the too-old error when
// the same parents are queried for an address in thread 1.
func TestGetLedgerAtParentsWorkedExample(t *testing.T) {
	addrA := testAddr(10) // thread 0
	addrB := testAddr(11) // thread 1
	addrC := testAddr(13) // thread 1
	addrD := testAddr(15) // thread 1

	genesis0 := fixtureBlockID(0x10)
	genesis1 := fixtureBlockID(0x11)
	p1t0 := fixtureBlockID(0x20)
	p1t1 := fixtureBlockID(0x21)
	p2t0 := fixtureBlockID(0x30)
	p2t1 := fixtureBlockID(0x31)
	p3t0 := fixtureBlockID(0x40)
	p3t1 := fixtureBlockID(0x41)

	noChanges := func() []AddressChange { return nil }

	bg := BootstrappableGraph{
		ActiveBlocks: []ExportActiveBlock{
			{
				ID:                genesis0,
				Block:             Block{Header: Header{Slot: common.Slot{Period: 0, Thread: 0}}},
				IsFinal:           true,
				BlockLedgerChange: [][]AddressChange{noChanges(), noChanges()},
			},
			{
				ID:                genesis1,
				Block:             Block{Header: Header{Slot: common.Slot{Period: 0, Thread: 1}}},
				IsFinal:           true,
				BlockLedgerChange: [][]AddressChange{noChanges(), noChanges()},
			},
			{
				// p1t0: A -> B : 2, fee 4 => A -=1 (itself credited the
				// reward and debited the transfer+fee net), B += 2.
				ID:      p1t0,
				Block:   Block{Header: Header{Slot: common.Slot{Period: 1, Thread: 0}}},
				Parents: []ParentRef{{ID: genesis0, Period: 0}, {ID: genesis1, Period: 0}},
				IsFinal: true,
				BlockLedgerChange: [][]AddressChange{
					{{Address: addrA, Change: change(1, false)}},
					{{Address: addrB, Change: change(2, true)}},
				},
			},
			{
				// p1t1: B -> A : 128 + 32, two fees => A += 160, B -= 159.
				ID:      p1t1,
				Block:   Block{Header: Header{Slot: common.Slot{Period: 1, Thread: 1}}},
				Parents: []ParentRef{{ID: genesis0, Period: 0}, {ID: genesis1, Period: 0}},
				IsFinal: true,
				BlockLedgerChange: [][]AddressChange{
					{{Address: addrA, Change: change(160, true)}},
					{{Address: addrB, Change: change(159, false)}},
				},
			},
			{
				// p2t0: A -> A : 512, fee 1024 => A += 1 (self-transfer nets
				// to just the block reward).
				ID:      p2t0,
				Block:   Block{Header: Header{Slot: common.Slot{Period: 2, Thread: 0}}},
				Parents: []ParentRef{{ID: p1t0, Period: 1}, {ID: genesis1, Period: 0}},
				IsFinal: false,
				BlockLedgerChange: [][]AddressChange{
					{{Address: addrA, Change: change(1, true)}},
					noChanges(),
				},
			},
			{
				// p2t1: B -> A : 10, fee 1 => A += 10, B -= 9 (B, as
				// creator, gets the reward and fee back).
				ID:      p2t1,
				Block:   Block{Header: Header{Slot: common.Slot{Period: 2, Thread: 1}}},
				Parents: []ParentRef{{ID: p1t0, Period: 1}, {ID: p1t1, Period: 1}},
				IsFinal: true,
				BlockLedgerChange: [][]AddressChange{
					{{Address: addrA, Change: change(10, true)}},
					{{Address: addrB, Change: change(9, false)}},
				},
			},
			{
				// p3t0: A -> C : 2048, fee 4096 => A -= 2047, C created at 2048.
				ID:      p3t0,
				Block:   Block{Header: Header{Slot: common.Slot{Period: 3, Thread: 0}}},
				Parents: []ParentRef{{ID: p2t0, Period: 2}, {ID: p1t1, Period: 1}},
				IsFinal: false,
				BlockLedgerChange: [][]AddressChange{
					{{Address: addrA, Change: change(2047, false)}},
					{{Address: addrC, Change: change(2048, true)}},
				},
			},
			{
				// p3t1: B -> A : 100, fee 10 => A += 100, B -= 99.
				ID:      p3t1,
				Block:   Block{Header: Header{Slot: common.Slot{Period: 3, Thread: 1}}},
				Parents: []ParentRef{{ID: p2t0, Period: 2}, {ID: p2t1, Period: 2}},
				IsFinal: false,
				BlockLedgerChange: [][]AddressChange{
					{{Address: addrA, Change: change(100, true)}},
					{{Address: addrB, Change: change(99, false)}},
				},
			},
		},
		BestParents:              []common.BlockID{p3t0, p3t1},
		LatestFinalBlocksPeriods: []ParentRef{{ID: p1t0, Period: 1}, {ID: p2t1, Period: 2}},
		Ledger: LedgerExport{Entries: []LedgerExportEntry{
			{Address: addrA, Data: LedgerData{Balance: 1_000_000_000}},
			{Address: addrB, Data: LedgerData{Balance: 2_000_000_000}},
		}},
	}

	cfg := testConfig(2)
	oracle := newFixedDrawOracle(testAddr(1))
	ledger := newMemLedger(nil)

	g, err := NewFromBootstrap(bg, cfg, oracle, ledger)
	require.NoError(t, err)

	res, err := g.GetLedgerAtParents([]common.BlockID{p3t0, p3t1}, map[common.Address]struct{}{
		addrA: {}, addrB: {}, addrC: {}, addrD: {},
	})
	require.NoError(t, err)
	require.Equal(t, Amount(999_998_224), res[addrA])
	require.Equal(t, Amount(1_999_999_901), res[addrB])
	require.Equal(t, Amount(2048), res[addrC])
	require.Equal(t, Amount(0), res[addrD])

	res, err = g.GetLedgerAtParents([]common.BlockID{p1t0, p1t1}, map[common.Address]struct{}{addrA: {}})
	require.NoError(t, err)
	require.Equal(t, Amount(1_000_000_160), res[addrA])

	_, err = g.GetLedgerAtParents([]common.BlockID{p1t0, p1t1}, map[common.Address]struct{}{addrA: {}, addrB: {}})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrLedgerQueryTooOld))
}
