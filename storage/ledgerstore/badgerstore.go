package ledgerstore

import (
	"encoding/binary"

	"github.com/dgraph-io/badger"

	"github.com/threadchain/blockgraph/common"
	"github.com/threadchain/blockgraph/consensus/blockgraph"
)

// BadgerStore is a dgraph-io/badger-backed ExternalLedger, the
// alternative backend alongside the leveldb-backed Store. Key layout
// matches Store's:
//	'b' | address(20)  -> balance(8 BE)
//	'p' | thread(4 BE) -> final_period(8 BE)
type BadgerStore struct {
	fn string
	db *badger.DB
}

// OpenBadger opens or creates a badger database at dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	logStore.Info("opened badger ledger store", "path", dir)
	return &BadgerStore{fn: dir, db: db}, nil
}

// Close releases the underlying database handle.
func (s *BadgerStore) Close() {
	if err := s.db.Close(); err != nil {
		logStore.Error("failed to close badger ledger store", "err", err)
		return
	}
	logStore.Info("closed badger ledger store", "path", s.fn)
}

func (s *BadgerStore) GetFinalLedgerSubset(addresses map[common.Address]struct{}) (map[common.Address]blockgraph.LedgerData, error) {
	out := make(map[common.Address]blockgraph.LedgerData, len(addresses))
	err := s.db.View(func(txn *badger.Txn) error {
		for addr := range addresses {
			item, err := txn.Get(balanceKey(addr))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[addr] = blockgraph.LedgerData{Balance: blockgraph.Amount(binary.BigEndian.Uint64(val))}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) ApplyFinalChanges(thread uint32, changes []blockgraph.AddressChange, newFinalPeriod uint64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, c := range changes {
			current, err := s.balanceTxn(txn, c.Address)
			if err != nil {
				return err
			}
			next, err := applyChange(current, c.Change)
			if err != nil {
				return err
			}
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(next))
			if err := txn.Set(balanceKey(c.Address), buf[:]); err != nil {
				return err
			}
		}
		var periodBuf [8]byte
		binary.BigEndian.PutUint64(periodBuf[:], newFinalPeriod)
		return txn.Set(finalPeriodKey(thread), periodBuf[:])
	})
	if err != nil {
		return err
	}
	logStore.Debug("applied final ledger changes", "thread", thread, "period", newFinalPeriod, "count", len(changes))
	return nil
}

func (s *BadgerStore) balanceTxn(txn *badger.Txn, addr common.Address) (blockgraph.Amount, error) {
	item, err := txn.Get(balanceKey(addr))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return blockgraph.Amount(binary.BigEndian.Uint64(val)), nil
}

// FinalPeriod returns the latest committed final period for thread,
// or 0 if nothing has been committed yet.
func (s *BadgerStore) FinalPeriod(thread uint32) (uint64, error) {
	var period uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(finalPeriodKey(thread))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		period = binary.BigEndian.Uint64(val)
		return nil
	})
	return period, err
}

// Export implements blockgraph.ExternalLedger.
func (s *BadgerStore) Export() ([]blockgraph.LedgerExportEntry, error) {
	var entries []blockgraph.LedgerExportEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte{balancePrefix}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 1+common.AddressLength {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var addr common.Address
			copy(addr[:], key[1:])
			entries = append(entries, blockgraph.LedgerExportEntry{
				Address: addr,
				Data:    blockgraph.LedgerData{Balance: blockgraph.Amount(binary.BigEndian.Uint64(val))},
			})
		}
		return nil
	})
	return entries, err
}

// LoadExport implements blockgraph.ExternalLedger, replacing every
// balance row with entries.
func (s *BadgerStore) LoadExport(entries []blockgraph.LedgerExportEntry) error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		prefix := []byte{balancePrefix}
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, append([]byte(nil), it.Item().Key()...))
		}
		it.Close()
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, e := range entries {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(e.Data.Balance))
			if err := txn.Set(balanceKey(e.Address), buf[:]); err != nil {
				return err
			}
		}
		logStore.Info("loaded ledger from bootstrap export", "entries", len(entries))
		return nil
	})
}
