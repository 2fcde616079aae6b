package blockgraph

import (
	"github.com/hashicorp/golang-lru"

	"github.com/threadchain/blockgraph/common"
)

// lruSeqSet bounds the Discarded status table to at most maxSize
// entries, evicting the oldest by insertion order. It wraps
// hashicorp/golang-lru directly, keyed by block id with an eviction
// callback that drops the id from BlockGraph's status table.
type lruSeqSet struct {
	cache *lru.Cache
}

// newLRUSeqSet builds a bounded set; onEvict is invoked with the
// evicted block id so the owner can remove it from block_statuses.
// maxSize <= 0 is treated as 1.
func newLRUSeqSet(maxSize int, onEvict func(common.BlockID)) *lruSeqSet {
	if maxSize <= 0 {
		maxSize = 1
	}
	c, _ := lru.NewWithEvict(maxSize, func(key interface{}, _ interface{}) {
		if onEvict != nil {
			onEvict(key.(common.BlockID))
		}
	})
	return &lruSeqSet{cache: c}
}

func (s *lruSeqSet) touch(id common.BlockID, seq uint64) {
	s.cache.Add(id, seq)
}

func (s *lruSeqSet) remove(id common.BlockID) {
	s.cache.Remove(id)
}

func (s *lruSeqSet) len() int {
	return s.cache.Len()
}
