package blockgraph

import (
	"github.com/threadchain/blockgraph/common"
)

// fixedDrawOracle draws whichever address the test wired in for a
// slot; if none was wired, it draws addr itself, so a single-creator
// test chain can be built without having to enumerate every slot up
// front.
type fixedDrawOracle struct {
	draws    map[common.Slot]common.Address
	fallback common.Address
}

func newFixedDrawOracle(fallback common.Address) *fixedDrawOracle {
	return &fixedDrawOracle{draws: make(map[common.Slot]common.Address), fallback: fallback}
}

func (o *fixedDrawOracle) setDraw(slot common.Slot, addr common.Address) {
	o.draws[slot] = addr
}

func (o *fixedDrawOracle) Draw(slot common.Slot) (common.Address, error) {
	if addr, ok := o.draws[slot]; ok {
		return addr, nil
	}
	return o.fallback, nil
}

func (o *fixedDrawOracle) GetFinalRollData(cycle uint64, thread uint32, addresses map[common.Address]struct{}) (map[common.Address]uint64, RollUpdates, bool) {
	return nil, nil, false
}

func (o *fixedDrawOracle) GetRollSellCredit(slot common.Slot) map[common.Address]Amount {
	return nil
}

// memLedger is a minimal global-balance ExternalLedger for tests that
// don't need the goleveldb-backed storage/ledgerstore package.
type memLedger struct {
	balances     map[common.Address]Amount
	finalPeriods map[uint32]uint64
}

func newMemLedger(initial map[common.Address]Amount) *memLedger {
	balances := make(map[common.Address]Amount, len(initial))
	for addr, amt := range initial {
		balances[addr] = amt
	}
	return &memLedger{balances: balances, finalPeriods: make(map[uint32]uint64)}
}

func (m *memLedger) GetFinalLedgerSubset(addresses map[common.Address]struct{}) (map[common.Address]LedgerData, error) {
	out := make(map[common.Address]LedgerData, len(addresses))
	for addr := range addresses {
		out[addr] = LedgerData{Balance: m.balances[addr]}
	}
	return out, nil
}

func (m *memLedger) ApplyFinalChanges(thread uint32, changes []AddressChange, newFinalPeriod uint64) error {
	for _, c := range changes {
		bal := uint64(m.balances[c.Address])
		if c.Change.Sign {
			bal += uint64(c.Change.Amount)
		} else {
			if bal < uint64(c.Change.Amount) {
				return &InvalidLedgerChangeError{Msg: "debit exceeds balance"}
			}
			bal -= uint64(c.Change.Amount)
		}
		m.balances[c.Address] = Amount(bal)
	}
	m.finalPeriods[thread] = newFinalPeriod
	return nil
}

func (m *memLedger) Export() ([]LedgerExportEntry, error) {
	entries := make([]LedgerExportEntry, 0, len(m.balances))
	for addr, bal := range m.balances {
		entries = append(entries, LedgerExportEntry{Address: addr, Data: LedgerData{Balance: bal}})
	}
	return entries, nil
}

func (m *memLedger) LoadExport(entries []LedgerExportEntry) error {
	m.balances = make(map[common.Address]Amount, len(entries))
	for _, e := range entries {
		m.balances[e.Address] = e.Data.Balance
	}
	return nil
}

func testAddr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func testConfig(threadCount uint32) Config {
	return Config{
		ThreadCount:                     threadCount,
		PeriodsPerCycle:                 128,
		DeltaF0:                         10,
		BlockReward:                     1,
		RollPrice:                       100,
		OperationValidityPeriods:        10,
		FutureBlockProcessingMaxPeriods: 100,
		MaxFutureProcessingBlocks:       1000,
		MaxDependencyBlocks:             1000,
		MaxDiscardedBlocks:              1000,
	}
}

// childBlock builds a valid single-parent-chain successor of parent
// in the given thread, attributed to creator (signature verification
// happens outside this module).
func childBlock(g *BlockGraph, thread uint32, period uint64, creator common.Address) (common.BlockID, *Block) {
	parents := g.BestParents()
	h := Header{
		Slot:    common.Slot{Period: period, Thread: thread},
		Parents: parents,
		Creator: creator,
	}
	id := h.ComputeID()
	b := &Block{Header: h}
	return id, b
}
