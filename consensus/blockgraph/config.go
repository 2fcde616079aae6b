package blockgraph

import "github.com/threadchain/blockgraph/common"

// Config carries every mandatory consensus parameter. It is loadable
// from TOML via github.com/naoina/toml.
type Config struct {
	ThreadCount uint32 `toml:"thread_count"`
	GenesisKey  string `toml:"genesis_key"`

	PeriodsPerCycle uint64 `toml:"periods_per_cycle"`
	DeltaF0         uint64 `toml:"delta_f0"`
	BlockReward     Amount `toml:"block_reward"`
	RollPrice       Amount `toml:"roll_price"`

	OperationValidityPeriods        uint64 `toml:"operation_validity_periods"`
	FutureBlockProcessingMaxPeriods uint64 `toml:"future_block_processing_max_periods"`
	MaxFutureProcessingBlocks       int    `toml:"max_future_processing_blocks"`
	MaxDependencyBlocks             int    `toml:"max_dependency_blocks"`
	MaxDiscardedBlocks              int    `toml:"max_discarded_blocks"`

	InitialLedgerPath string `toml:"initial_ledger_path"`

	MaxBootstrapBlocks        int `toml:"max_bootstrap_blocks"`
	MaxBootstrapChildren      int `toml:"max_bootstrap_children"`
	MaxBootstrapDeps          int `toml:"max_bootstrap_deps"`
	MaxBootstrapCliques       int `toml:"max_bootstrap_cliques"`
	MaxBootstrapPosEntries    int `toml:"max_bootstrap_pos_entries"`
	MaxBootstrapLedgerEntries int `toml:"max_bootstrap_ledger_entries"`
}

// PosOracle is the read-only proof-of-stake collaborator.
// Draw selection and roll-credit bookkeeping are consumed, never
// recomputed here.
type PosOracle interface {
	// Draw returns the address drawn to produce slot, or
	// ErrPosCycleUnavailable if the cycle's draws are not ready yet.
	Draw(slot common.Slot) (common.Address, error)

	// GetFinalRollData returns the final roll_count and cycle_updates
	// for cycle/thread, optionally restricted to addresses (nil means
	// all addresses). ok is false if no data exists for that cycle.
	GetFinalRollData(cycle uint64, thread uint32, addresses map[common.Address]struct{}) (rollCounts map[common.Address]uint64, cycleUpdates RollUpdates, ok bool)

	// GetRollSellCredit returns the cycle-boundary roll-sell credits
	// scheduled for slot.
	GetRollSellCredit(slot common.Slot) map[common.Address]Amount
}

// LedgerData is an address's final-ledger snapshot.
type LedgerData struct {
	Balance Amount
}

// ExternalLedger is the persistent, atomically committed ledger
// store. Balances are global per address; ApplyFinalChanges takes
// a thread only to advance that thread's own latest-final-period
// bookkeeping, not to partition the balance keyspace. Ownership of
// on-disk storage lives with the embedding node; this module only
// depends on the interface.
type ExternalLedger interface {
	GetFinalLedgerSubset(addresses map[common.Address]struct{}) (map[common.Address]LedgerData, error)

	// ApplyFinalChanges commits changes for thread atomically together
	// with advancing that thread's latest final period.
	ApplyFinalChanges(thread uint32, changes []AddressChange, newFinalPeriod uint64) error

	// Export dumps every address/balance pair the store holds, for
	// inclusion in a BootstrappableGraph.
	Export() ([]LedgerExportEntry, error)

	// LoadExport replaces the store's contents with entries, the
	// counterpart of Export used when a node constructs its ledger
	// from a peer's bootstrap image.
	LoadExport(entries []LedgerExportEntry) error
}

// LedgerExport is the wire shape of a full ledger snapshot: a flat
// list, balances keyed purely by address, consistent with
// ExternalLedger's global balance table.
type LedgerExport struct {
	Entries []LedgerExportEntry
}

// LedgerExportEntry pairs an address with its final-ledger snapshot.
type LedgerExportEntry struct {
	Address common.Address
	Data    LedgerData
}

// AddressChange pairs an address with the delta being committed.
type AddressChange struct {
	Address common.Address
	Change  LedgerChange
}
