// Package ledgerstore provides disk-backed implementations of
// blockgraph.ExternalLedger: thin structs around *leveldb.DB and
// *badger.DB with a fixed key layout, plus an in-memory variant for
// tests and embedding.
package ledgerstore

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/threadchain/blockgraph/common"
	"github.com/threadchain/blockgraph/consensus/blockgraph"
	"github.com/threadchain/blockgraph/internal/log"
)

var logStore = log.NewModuleLogger(log.Store)

const (
	balancePrefix     = 'b'
	finalPeriodPrefix = 'p'
)

// Store is a leveldb-backed ExternalLedger. The ledger itself is
// global (one balance per address): threads each contribute deltas to
// it as they finalise, which is why ApplyFinalChanges takes a thread
// only to track that thread's own final-period progress, not to
// partition the balance keyspace. Key layout:
//	'b' | address(20)                     -> balance(8 BE)
//	'p' | thread(4 BE)                    -> final_period(8 BE)
type Store struct {
	fn string
	db *leveldb.DB
}

// Open opens or creates the leveldb database at dir, recovering the
// manifest if the store was left corrupted.
func Open(dir string, cacheSizeMB, numHandles int) (*Store, error) {
	if cacheSizeMB < 16 {
		cacheSizeMB = 16
	}
	if numHandles < 16 {
		numHandles = 16
	}
	options := &opt.Options{
		OpenFilesCacheCapacity: numHandles,
		BlockCacheCapacity:     cacheSizeMB / 2 * opt.MiB,
		WriteBuffer:            cacheSizeMB / 4 * opt.MiB,
	}
	db, err := leveldb.OpenFile(dir, options)
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, err
	}
	logStore.Info("opened ledger store", "path", dir)
	return &Store{fn: dir, db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		logStore.Error("failed to close ledger store", "err", err)
		return
	}
	logStore.Info("closed ledger store", "path", s.fn)
}

func balanceKey(addr common.Address) []byte {
	key := make([]byte, 1+common.AddressLength)
	key[0] = balancePrefix
	copy(key[1:], addr[:])
	return key
}

func finalPeriodKey(thread uint32) []byte {
	key := make([]byte, 1+4)
	key[0] = finalPeriodPrefix
	binary.BigEndian.PutUint32(key[1:], thread)
	return key
}

// GetFinalLedgerSubset implements blockgraph.ExternalLedger: missing
// addresses are simply absent from the result rather than reported as
// zero balances, so callers can distinguish "never touched" from
// "balance zero" if they choose to.
func (s *Store) GetFinalLedgerSubset(addresses map[common.Address]struct{}) (map[common.Address]blockgraph.LedgerData, error) {
	out := make(map[common.Address]blockgraph.LedgerData, len(addresses))
	it := s.db.NewIterator(util.BytesPrefix([]byte{balancePrefix}), nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != 1+common.AddressLength {
			continue
		}
		var addr common.Address
		copy(addr[:], key[1:])
		if _, want := addresses[addr]; !want {
			continue
		}
		out[addr] = blockgraph.LedgerData{Balance: blockgraph.Amount(binary.BigEndian.Uint64(it.Value()))}
	}
	return out, it.Error()
}

// ApplyFinalChanges implements blockgraph.ExternalLedger: every
// balance delta for thread and the advance of its final period are
// written in a single leveldb batch, so a crash mid-commit can never
// leave the final period ahead of the balances it implies.
func (s *Store) ApplyFinalChanges(thread uint32, changes []blockgraph.AddressChange, newFinalPeriod uint64) error {
	batch := new(leveldb.Batch)

	for _, c := range changes {
		current, err := s.balance(c.Address)
		if err != nil {
			return err
		}
		next, err := applyChange(current, c.Change)
		if err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(next))
		batch.Put(balanceKey(c.Address), buf[:])
	}

	var periodBuf [8]byte
	binary.BigEndian.PutUint64(periodBuf[:], newFinalPeriod)
	batch.Put(finalPeriodKey(thread), periodBuf[:])

	if err := s.db.Write(batch, nil); err != nil {
		return err
	}
	logStore.Debug("applied final ledger changes", "thread", thread, "period", newFinalPeriod, "count", len(changes))
	return nil
}

// Export implements blockgraph.ExternalLedger: it dumps every address
// currently holding a balance row, for inclusion in a bootstrap
// image.
func (s *Store) Export() ([]blockgraph.LedgerExportEntry, error) {
	var entries []blockgraph.LedgerExportEntry
	it := s.db.NewIterator(util.BytesPrefix([]byte{balancePrefix}), nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != 1+common.AddressLength {
			continue
		}
		var addr common.Address
		copy(addr[:], key[1:])
		entries = append(entries, blockgraph.LedgerExportEntry{
			Address: addr,
			Data:    blockgraph.LedgerData{Balance: blockgraph.Amount(binary.BigEndian.Uint64(it.Value()))},
		})
	}
	return entries, it.Error()
}

// LoadExport implements blockgraph.ExternalLedger: it replaces every
// balance row with entries in a single batch, the counterpart of
// Export used when bootstrapping from a peer's image.
func (s *Store) LoadExport(entries []blockgraph.LedgerExportEntry) error {
	it := s.db.NewIterator(util.BytesPrefix([]byte{balancePrefix}), nil)
	batch := new(leveldb.Batch)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	for _, e := range entries {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(e.Data.Balance))
		batch.Put(balanceKey(e.Address), buf[:])
	}
	if err := s.db.Write(batch, nil); err != nil {
		return err
	}
	logStore.Info("loaded ledger from bootstrap export", "entries", len(entries))
	return nil
}

func (s *Store) balance(addr common.Address) (blockgraph.Amount, error) {
	val, err := s.db.Get(balanceKey(addr), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return blockgraph.Amount(binary.BigEndian.Uint64(val)), nil
}

// FinalPeriod returns the latest committed final period for thread,
// or 0 if nothing has been committed yet.
func (s *Store) FinalPeriod(thread uint32) (uint64, error) {
	val, err := s.db.Get(finalPeriodKey(thread), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(val), nil
}

func applyChange(balance blockgraph.Amount, change blockgraph.LedgerChange) (blockgraph.Amount, error) {
	if change.Sign {
		return balance + change.Amount, nil
	}
	if change.Amount > balance {
		return 0, &blockgraph.InvalidLedgerChangeError{Msg: "ledger store: debit exceeds balance"}
	}
	return balance - change.Amount, nil
}
