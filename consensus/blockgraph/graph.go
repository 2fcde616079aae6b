// Package blockgraph implements the consensus core of a
// multi-threaded blockchain: a per-thread DAG of blocks related by a
// compatibility relation, the maximal-clique (blockclique) arbitration
// over that relation, finality selection, and the ledger-at-parents
// read that backs operation validation.
package blockgraph

import (
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"sync"

	"github.com/naoina/toml"
	set "gopkg.in/fatih/set.v0"

	"github.com/threadchain/blockgraph/common"
	"github.com/threadchain/blockgraph/internal/log"
	"github.com/threadchain/blockgraph/internal/metrics"
)

var (
	logGraph = log.NewModuleLogger(log.Graph)

	metricBlocksActivated = metrics.NewRegisteredCounter("blockgraph/blocks/activated")
	metricCliqueRecompute = metrics.NewRegisteredCounter("blockgraph/cliques/recompute")
	metricCliqueFastPath  = metrics.NewRegisteredCounter("blockgraph/cliques/fastpath")
	metricBlocksFinal     = metrics.NewRegisteredCounter("blockgraph/blocks/final")
	metricBlocksStale     = metrics.NewRegisteredCounter("blockgraph/blocks/stale")
)

// BlockGraph owns all DAG state and drives admission, validation,
// maintenance and finalisation. It is not reentrant: the
// caller is expected to run a single-threaded event loop.
// The mutex only guards against accidental concurrent access from a
// host that violates that contract; each entry point holds it for its
// whole run, including the external ledger commit made on
// finalisation.
type BlockGraph struct {
	mu sync.Mutex

	cfg    Config
	pos    PosOracle
	ledger ExternalLedger

	genesisHashes []common.BlockID

	statuses map[common.BlockID]*BlockStatus

	latestFinalBlocksPeriods []ParentRef // per thread
	bestParents              []common.BlockID

	giHead     map[common.BlockID]set.Interface // incompatibility adjacency, non-final active ids only
	maxCliques []set.Interface

	seq uint64

	// output buffers, drained by the protocol layer.
	toPropagate    map[common.BlockID]*Block
	attackAttempts []common.BlockID
	newFinalBlocks map[common.BlockID]struct{}
	newStaleBlocks map[common.BlockID]common.Slot

	// discarded-id bound, evicted LRU by sequence number.
	discardedOrder *lruSeqSet

	currentSlot common.Slot
}

// New constructs a BlockGraph from genesis. Loading the genesis
// ledger from cfg.InitialLedgerPath is the only suspending operation
// performed here; everything after is synchronous.
func New(cfg Config, pos PosOracle, ledger ExternalLedger, genesisCreator common.Address) (*BlockGraph, error) {
	if cfg.ThreadCount == 0 {
		return nil, newContainerInconsistency("thread_count must be > 0")
	}
	if cfg.InitialLedgerPath != "" {
		if err := loadInitialLedger(cfg.InitialLedgerPath, ledger); err != nil {
			return nil, err
		}
	}

	g := &BlockGraph{
		cfg:                      cfg,
		pos:                      pos,
		ledger:                   ledger,
		genesisHashes:            make([]common.BlockID, cfg.ThreadCount),
		statuses:                 make(map[common.BlockID]*BlockStatus),
		latestFinalBlocksPeriods: make([]ParentRef, cfg.ThreadCount),
		bestParents:              make([]common.BlockID, cfg.ThreadCount),
		giHead:                   make(map[common.BlockID]set.Interface),
		maxCliques:               []set.Interface{set.New()},
		toPropagate:              make(map[common.BlockID]*Block),
		newFinalBlocks:           make(map[common.BlockID]struct{}),
		newStaleBlocks:           make(map[common.BlockID]common.Slot),
	}
	g.discardedOrder = newLRUSeqSet(cfg.MaxDiscardedBlocks, func(id common.BlockID) {
		delete(g.statuses, id)
	})

	for t := uint32(0); t < cfg.ThreadCount; t++ {
		h := Header{Slot: common.Slot{Period: 0, Thread: t}, Creator: genesisCreator}
		id := h.ComputeID()
		g.genesisHashes[t] = id
		ab := &ActiveBlock{
			ID:                    id,
			Block:                 Block{Header: h},
			Parents:               nil,
			Children:              make([]map[common.BlockID]uint64, cfg.ThreadCount),
			Descendants:           make(map[common.BlockID]struct{}),
			Dependencies:          make(map[common.BlockID]struct{}),
			IsFinal:               true,
			BlockLedgerChange:     make([]ThreadLedgerChanges, cfg.ThreadCount),
			OperationSet:          make(OperationSet),
			AddressesToOperations: make(map[common.Address]map[OperationID]struct{}),
			RollUpdates:           make(RollUpdates),
		}
		for i := range ab.Children {
			ab.Children[i] = make(map[common.BlockID]uint64)
		}
		for i := range ab.BlockLedgerChange {
			ab.BlockLedgerChange[i] = make(ThreadLedgerChanges)
		}
		g.statuses[id] = &BlockStatus{Kind: StatusActive, Active: ab}
		g.bestParents[t] = id
		g.latestFinalBlocksPeriods[t] = ParentRef{ID: id, Period: 0}
	}

	logGraph.Info("block graph initialised", "threads", cfg.ThreadCount)
	return g, nil
}

// loadInitialLedger seeds the external ledger from the genesis ledger
// file: a TOML table mapping hex-encoded addresses to balances.
func loadInitialLedger(path string, ledger ExternalLedger) error {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	var balances map[string]interface{}
	if err := toml.Unmarshal(raw, &balances); err != nil {
		return err
	}
	entries := make([]LedgerExportEntry, 0, len(balances))
	for hexAddr, v := range balances {
		b, err := hex.DecodeString(hexAddr)
		if err != nil || len(b) != common.AddressLength {
			return fmt.Errorf("blockgraph: invalid address %q in initial ledger", hexAddr)
		}
		bal, ok := v.(int64)
		if !ok || bal < 0 {
			return fmt.Errorf("blockgraph: bad balance for %q in initial ledger", hexAddr)
		}
		entries = append(entries, LedgerExportEntry{
			Address: common.BytesToAddress(b),
			Data:    LedgerData{Balance: Amount(bal)},
		})
	}
	return ledger.LoadExport(entries)
}

func (g *BlockGraph) isGenesis(id common.BlockID) bool {
	for _, gh := range g.genesisHashes {
		if gh == id {
			return true
		}
	}
	return false
}

func (g *BlockGraph) nextSeq() uint64 {
	g.seq++
	return g.seq
}

// --- outputs -----------------------------------------------------

// GetBlocksToPropagate drains and returns the accumulated propagate set.
func (g *BlockGraph) GetBlocksToPropagate() map[common.BlockID]*Block {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.toPropagate
	g.toPropagate = make(map[common.BlockID]*Block)
	return out
}

// GetAttackAttempts drains and returns ids discarded as Invalid.
func (g *BlockGraph) GetAttackAttempts() []common.BlockID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.attackAttempts
	g.attackAttempts = nil
	return out
}

// GetNewFinalBlocks drains and returns ids that became final this cycle.
func (g *BlockGraph) GetNewFinalBlocks() map[common.BlockID]struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.newFinalBlocks
	g.newFinalBlocks = make(map[common.BlockID]struct{})
	return out
}

// GetNewStaleBlocks drains and returns ids discarded as Stale this cycle.
func (g *BlockGraph) GetNewStaleBlocks() map[common.BlockID]common.Slot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.newStaleBlocks
	g.newStaleBlocks = make(map[common.BlockID]common.Slot)
	return out
}

// GetBlockWishlist returns ids for which a full block is desired
// because only a header is held, or which are referenced as
// dependencies but still unknown.
func (g *BlockGraph) GetBlockWishlist() map[common.BlockID]struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	wish := make(map[common.BlockID]struct{})
	for id, st := range g.statuses {
		switch st.Kind {
		case StatusWaitingForDependencies:
			if st.HeldOnlyHeader {
				wish[id] = struct{}{}
			}
			for dep := range st.Missing {
				if dep != id {
					if _, known := g.statuses[dep]; !known {
						wish[dep] = struct{}{}
					}
				}
			}
		case StatusActive:
			for dep := range st.Active.Dependencies {
				if _, known := g.statuses[dep]; !known {
					wish[dep] = struct{}{}
				}
			}
		}
	}
	return wish
}

// BestParents returns the current per-thread blockclique tips.
func (g *BlockGraph) BestParents() []common.BlockID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]common.BlockID, len(g.bestParents))
	copy(out, g.bestParents)
	return out
}

// LatestFinalBlocksPeriods returns, per thread, the active final
// ancestor of BestParents with the greatest period.
func (g *BlockGraph) LatestFinalBlocksPeriods() []ParentRef {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ParentRef, len(g.latestFinalBlocksPeriods))
	copy(out, g.latestFinalBlocksPeriods)
	return out
}
