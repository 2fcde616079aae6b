package ledgerstore

import (
	"github.com/threadchain/blockgraph/common"
	"github.com/threadchain/blockgraph/consensus/blockgraph"
)

// Memory is an in-process ExternalLedger backed by plain maps, for
// tests and for bootstrapping a graph without a disk-backed Store.
// Like Store, its balance table is global; thread only scopes each
// ApplyFinalChanges call's own final-period bookkeeping.
type Memory struct {
	balances     map[common.Address]blockgraph.Amount
	finalPeriods map[uint32]uint64
}

// NewMemory seeds a Memory ledger with an initial balance set.
func NewMemory(initial map[common.Address]blockgraph.Amount) *Memory {
	m := &Memory{
		balances:     make(map[common.Address]blockgraph.Amount, len(initial)),
		finalPeriods: make(map[uint32]uint64),
	}
	for addr, bal := range initial {
		m.balances[addr] = bal
	}
	return m
}

func (m *Memory) GetFinalLedgerSubset(addresses map[common.Address]struct{}) (map[common.Address]blockgraph.LedgerData, error) {
	out := make(map[common.Address]blockgraph.LedgerData, len(addresses))
	for addr := range addresses {
		if bal, ok := m.balances[addr]; ok {
			out[addr] = blockgraph.LedgerData{Balance: bal}
		}
	}
	return out, nil
}

func (m *Memory) ApplyFinalChanges(thread uint32, changes []blockgraph.AddressChange, newFinalPeriod uint64) error {
	for _, c := range changes {
		next, err := applyChange(m.balances[c.Address], c.Change)
		if err != nil {
			return err
		}
		m.balances[c.Address] = next
	}
	m.finalPeriods[thread] = newFinalPeriod
	return nil
}

func (m *Memory) FinalPeriod(thread uint32) uint64 {
	return m.finalPeriods[thread]
}

// Export implements blockgraph.ExternalLedger.
func (m *Memory) Export() ([]blockgraph.LedgerExportEntry, error) {
	entries := make([]blockgraph.LedgerExportEntry, 0, len(m.balances))
	for addr, bal := range m.balances {
		entries = append(entries, blockgraph.LedgerExportEntry{Address: addr, Data: blockgraph.LedgerData{Balance: bal}})
	}
	return entries, nil
}

// LoadExport implements blockgraph.ExternalLedger.
func (m *Memory) LoadExport(entries []blockgraph.LedgerExportEntry) error {
	m.balances = make(map[common.Address]blockgraph.Amount, len(entries))
	for _, e := range entries {
		m.balances[e.Address] = e.Data.Balance
	}
	return nil
}
