package blockgraph

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/threadchain/blockgraph/common"
)

// OperationID identifies an operation within a block's operation set.
type OperationID common.BlockID

// Amount is an unsigned balance magnitude; LedgerChange pairs it with
// a sign so that commutative chaining can be
// expressed as ordinary signed-integer arithmetic without risking a
// silent two's-complement wrap.
type Amount uint64

// LedgerChange is a signed delta applied to one address's balance.
// Chaining two deltas must be commutative and associative.
type LedgerChange struct {
	Amount Amount
	Sign   bool // true = credit (+), false = debit (-)
}

// Chain combines two deltas into one, returning an error on overflow.
// Zero is the identity element.
func (c LedgerChange) Chain(o LedgerChange) (LedgerChange, error) {
	cv := signedValue(c)
	ov := signedValue(o)
	sum := cv + ov
	// overflow check: both operands share a sign and the result's
	// sign disagrees with theirs.
	if (cv > 0 && ov > 0 && sum <= 0) || (cv < 0 && ov < 0 && sum >= 0) {
		return LedgerChange{}, errOverflow("ledger change overflow")
	}
	if sum >= 0 {
		return LedgerChange{Amount: Amount(sum), Sign: true}, nil
	}
	return LedgerChange{Amount: Amount(-sum), Sign: false}, nil
}

func signedValue(c LedgerChange) int64 {
	if c.Sign {
		return int64(c.Amount)
	}
	return -int64(c.Amount)
}

// ChainLedgerChanges folds a slice of deltas with Chain, in order.
// Because Chain is commutative and associative, the result does not
// depend on the fold order.
func ChainLedgerChanges(changes ...LedgerChange) (LedgerChange, error) {
	acc := LedgerChange{Sign: true}
	for _, c := range changes {
		var err error
		acc, err = acc.Chain(c)
		if err != nil {
			return LedgerChange{}, err
		}
	}
	return acc, nil
}

// Header is the signed part of a block that is sufficient to run the
// header check without holding the full block body.
type Header struct {
	Slot       common.Slot
	Parents    []common.BlockID // length == thread_count, or nil for a genesis block
	Creator    common.Address
	MerkleRoot common.BlockID // commitment to the operation set, opaque here
}

// Operation is a single ledger/roll-affecting action carried in a
// block. Signing and signature verification happen outside this
// module; only the fields the validator needs are modeled.
type Operation struct {
	ID                  OperationID
	Sender              common.Address
	Recipient           common.Address
	Amount              Amount
	Fee                 Amount
	RollBuy             uint64
	RollSell            uint64
	ValidityStartPeriod uint64
	ValidityEndPeriod   uint64
}

// Block is a full block: header plus its ordered operations.
type Block struct {
	Header     Header
	Operations []Operation
}

// ComputeID derives a block's content-addressable id from its
// header. Signature verification itself is an external collaborator;
// this only needs to be a stable, collision-resistant function of the
// header bytes.
func (h Header) ComputeID() common.BlockID {
	buf := make([]byte, 0, 8+4+20+32+common.BlockIDLength*len(h.Parents))
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], h.Slot.Period)
	buf = append(buf, tmp[:]...)
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], h.Slot.Thread)
	buf = append(buf, tmp4[:]...)
	buf = append(buf, h.Creator[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	for _, p := range h.Parents {
		buf = append(buf, p[:]...)
	}
	sum := sha3.Sum256(buf)
	var id common.BlockID
	copy(id[:], sum[:])
	return id
}

// RollUpdate is a per-address change to its roll count; Sell beyond what is owned is compensated and clamped by
// the validator, never represented as negative here.
type RollUpdate struct {
	RollPurchases uint64
	RollSales     uint64
}

// Chain merges two roll updates for the same address.
func (r RollUpdate) Chain(o RollUpdate) RollUpdate {
	return RollUpdate{
		RollPurchases: r.RollPurchases + o.RollPurchases,
		RollSales:     r.RollSales + o.RollSales,
	}
}

// RollUpdates maps an address to its accumulated roll update.
type RollUpdates map[common.Address]RollUpdate

func (r RollUpdates) chainInto(addr common.Address, u RollUpdate) {
	r[addr] = r[addr].Chain(u)
}

// ThreadLedgerChanges maps an address to its accumulated ledger delta
// within one thread.
type ThreadLedgerChanges map[common.Address]LedgerChange

func (t ThreadLedgerChanges) chainInto(addr common.Address, c LedgerChange) error {
	merged, err := ChainLedgerChanges(t[addr], c)
	if err != nil {
		return err
	}
	t[addr] = merged
	return nil
}

// OperationSet maps an operation id to its index within the block and
// the period after which reuse of that operation is no longer
// illegal.
type OperationSet map[OperationID]OpSetEntry

type OpSetEntry struct {
	Index             int
	ValidityEndPeriod uint64
}

// ActiveBlock is a block admitted into the DAG.
type ActiveBlock struct {
	ID    common.BlockID
	Block Block

	// Parents[thread] is that thread's parent of this block.
	Parents []ParentRef
	// Children[thread] maps a child id to its period, for children in
	// that thread.
	Children    []map[common.BlockID]uint64
	Descendants map[common.BlockID]struct{}

	Dependencies map[common.BlockID]struct{}
	IsFinal      bool

	// BlockLedgerChange[thread][address] is this block's own
	// contribution to thread's ledger, chained at finalisation.
	BlockLedgerChange []ThreadLedgerChanges

	OperationSet          OperationSet
	AddressesToOperations map[common.Address]map[OperationID]struct{}

	RollUpdates RollUpdates
}

// ParentRef is a (id, period) pair naming one thread's parent.
type ParentRef struct {
	ID     common.BlockID
	Period uint64
}

func errOverflow(msg string) error { return &InvalidLedgerChangeError{Msg: msg} }
