package blockgraph

import (
	"bytes"
	"encoding/binary"
	"io"

	set "gopkg.in/fatih/set.v0"

	"github.com/threadchain/blockgraph/common"
	"github.com/threadchain/blockgraph/internal/log"
)

var logBootstrap = log.NewModuleLogger(log.Bootstrap)

// BootstrapBounds carries the configured caps the codec enforces on
// every collection it reads. It is threaded through
// explicitly rather than held as ambient state.
type BootstrapBounds struct {
	MaxBlocks        int
	MaxChildren      int
	MaxDeps          int
	MaxCliques       int
	MaxPosEntries    int
	MaxLedgerEntries int
	ThreadCount      int
}

func boundsFromConfig(cfg Config) BootstrapBounds {
	return BootstrapBounds{
		MaxBlocks:        cfg.MaxBootstrapBlocks,
		MaxChildren:      cfg.MaxBootstrapChildren,
		MaxDeps:          cfg.MaxBootstrapDeps,
		MaxCliques:       cfg.MaxBootstrapCliques,
		MaxPosEntries:    cfg.MaxBootstrapPosEntries,
		MaxLedgerEntries: cfg.MaxBootstrapLedgerEntries,
		ThreadCount:      int(cfg.ThreadCount),
	}
}

// ExportActiveBlock is the wire shape of an ActiveBlock: descendants,
// operation_set and addresses_to_operations are dropped and rebuilt on
// load.
type ExportActiveBlock struct {
	ID                common.BlockID
	Block             Block
	Parents           []ParentRef
	Children          [][]ChildRef
	BlockLedgerChange [][]AddressChange
	IsFinal           bool
	RollUpdates       []AddressRollUpdate
}

type ChildRef struct {
	ID     common.BlockID
	Period uint64
}

type AddressRollUpdate struct {
	Address common.Address
	Update  RollUpdate
}

// GiHeadEntry is one (id, incompatible-ids) row of the exported
// incompatibility graph.
type GiHeadEntry struct {
	ID        common.BlockID
	Incompats []common.BlockID
}

// BootstrappableGraph is the full wire image of the graph.
type BootstrappableGraph struct {
	ActiveBlocks             []ExportActiveBlock
	BestParents              []common.BlockID
	LatestFinalBlocksPeriods []ParentRef
	GiHead                   []GiHeadEntry
	MaxCliques               [][]common.BlockID
	Ledger                   LedgerExport
}

// Export snapshots the current graph state into its wire shape.
// Order of active_blocks follows map iteration and is not
// significant except that it is preserved faithfully on the
// serialize/deserialize round trip.
func (g *BlockGraph) Export() (BootstrappableGraph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var bg BootstrappableGraph
	for id, st := range g.statuses {
		if st.Kind != StatusActive {
			continue
		}
		ab := st.Active
		eab := ExportActiveBlock{
			ID:      id,
			Block:   ab.Block,
			Parents: ab.Parents,
			IsFinal: ab.IsFinal,
		}
		eab.Children = make([][]ChildRef, len(ab.Children))
		for t, m := range ab.Children {
			for cid, period := range m {
				eab.Children[t] = append(eab.Children[t], ChildRef{ID: cid, Period: period})
			}
		}
		eab.BlockLedgerChange = make([][]AddressChange, len(ab.BlockLedgerChange))
		for t, m := range ab.BlockLedgerChange {
			for addr, change := range m {
				eab.BlockLedgerChange[t] = append(eab.BlockLedgerChange[t], AddressChange{Address: addr, Change: change})
			}
		}
		for addr, u := range ab.RollUpdates {
			eab.RollUpdates = append(eab.RollUpdates, AddressRollUpdate{Address: addr, Update: u})
		}
		bg.ActiveBlocks = append(bg.ActiveBlocks, eab)
	}

	bg.BestParents = append([]common.BlockID(nil), g.bestParents...)
	bg.LatestFinalBlocksPeriods = append([]ParentRef(nil), g.latestFinalBlocksPeriods...)

	for id, incomp := range g.giHead {
		entry := GiHeadEntry{ID: id}
		for _, iv := range incomp.List() {
			entry.Incompats = append(entry.Incompats, iv.(common.BlockID))
		}
		bg.GiHead = append(bg.GiHead, entry)
	}

	for _, c := range g.maxCliques {
		var ids []common.BlockID
		for _, iv := range c.List() {
			ids = append(ids, iv.(common.BlockID))
		}
		bg.MaxCliques = append(bg.MaxCliques, ids)
	}

	entries, err := g.ledger.Export()
	if err != nil {
		return bg, err
	}
	bg.Ledger = LedgerExport{Entries: entries}

	return bg, nil
}

// Serialize encodes a BootstrappableGraph with varint-length-prefixed
// collections and big-endian fixed-size identifiers.
func Serialize(bg BootstrappableGraph, bounds BootstrapBounds) ([]byte, error) {
	var buf bytes.Buffer

	if err := writeBoundedSlice(&buf, len(bg.ActiveBlocks), bounds.MaxBlocks); err != nil {
		return nil, err
	}
	for _, ab := range bg.ActiveBlocks {
		if err := writeActiveBlock(&buf, ab, bounds); err != nil {
			return nil, err
		}
	}

	if len(bg.BestParents) != bounds.ThreadCount || len(bg.LatestFinalBlocksPeriods) != bounds.ThreadCount {
		return nil, &SerializeError{Msg: "best_parents/latest_final_blocks_periods length != thread_count"}
	}
	for _, id := range bg.BestParents {
		buf.Write(id[:])
	}
	for _, pr := range bg.LatestFinalBlocksPeriods {
		buf.Write(pr.ID[:])
		writeUvarint(&buf, pr.Period)
	}

	if err := writeBoundedSlice(&buf, len(bg.GiHead), bounds.MaxBlocks); err != nil {
		return nil, err
	}
	for _, e := range bg.GiHead {
		buf.Write(e.ID[:])
		if err := writeBoundedSlice(&buf, len(e.Incompats), bounds.MaxBlocks); err != nil {
			return nil, err
		}
		for _, id := range e.Incompats {
			buf.Write(id[:])
		}
	}

	if err := writeBoundedSlice(&buf, len(bg.MaxCliques), bounds.MaxCliques); err != nil {
		return nil, err
	}
	for _, c := range bg.MaxCliques {
		if err := writeBoundedSlice(&buf, len(c), bounds.MaxBlocks); err != nil {
			return nil, err
		}
		for _, id := range c {
			buf.Write(id[:])
		}
	}

	if err := writeBoundedSlice(&buf, len(bg.Ledger.Entries), bounds.MaxLedgerEntries); err != nil {
		return nil, err
	}
	for _, e := range bg.Ledger.Entries {
		buf.Write(e.Address[:])
		writeUvarint(&buf, uint64(e.Data.Balance))
	}

	return buf.Bytes(), nil
}

func writeActiveBlock(buf *bytes.Buffer, ab ExportActiveBlock, bounds BootstrapBounds) error {
	buf.Write(ab.ID[:])
	writeHeader(buf, ab.Block.Header)

	if err := writeBoundedSlice(buf, len(ab.Block.Operations), bounds.MaxBlocks); err != nil {
		return err
	}
	for _, op := range ab.Block.Operations {
		writeOperation(buf, op)
	}

	// Parents: one flag byte (0 = genesis, no parents; 1 = T parent
	// refs follow).
	if ab.Parents == nil {
		buf.WriteByte(0)
	} else {
		if len(ab.Parents) != bounds.ThreadCount {
			return &SerializeError{Msg: "parents length != thread_count"}
		}
		buf.WriteByte(1)
		for _, p := range ab.Parents {
			buf.Write(p.ID[:])
			writeUvarint(buf, p.Period)
		}
	}

	if len(ab.Children) != bounds.ThreadCount {
		return &SerializeError{Msg: "children length != thread_count"}
	}
	for _, cs := range ab.Children {
		if err := writeBoundedSlice(buf, len(cs), bounds.MaxChildren); err != nil {
			return err
		}
		for _, c := range cs {
			buf.Write(c.ID[:])
			writeUvarint(buf, c.Period)
		}
	}

	if len(ab.BlockLedgerChange) != bounds.ThreadCount {
		return &SerializeError{Msg: "block_ledger_change length != thread_count"}
	}
	for _, changes := range ab.BlockLedgerChange {
		if err := writeBoundedSlice(buf, len(changes), bounds.MaxDeps); err != nil {
			return err
		}
		for _, ac := range changes {
			buf.Write(ac.Address[:])
			writeSignedAmount(buf, ac.Change)
		}
	}

	var final byte
	if ab.IsFinal {
		final = 1
	}
	buf.WriteByte(final)

	if err := writeBoundedSlice(buf, len(ab.RollUpdates), bounds.MaxPosEntries); err != nil {
		return err
	}
	for _, ru := range ab.RollUpdates {
		buf.Write(ru.Address[:])
		writeUvarint(buf, ru.Update.RollPurchases)
		writeUvarint(buf, ru.Update.RollSales)
	}
	return nil
}

// writeHeader omits Header.Parents: it carries the same ids as the
// ActiveBlock's own Parents field (written separately, with the
// genesis flag), so reconstruction fills it in from there instead of
// storing it twice.
func writeHeader(buf *bytes.Buffer, h Header) {
	writeUvarint(buf, h.Slot.Period)
	writeUint32(buf, h.Slot.Thread)
	buf.Write(h.Creator[:])
	buf.Write(h.MerkleRoot[:])
}

func writeOperation(buf *bytes.Buffer, op Operation) {
	buf.Write(op.ID[:])
	buf.Write(op.Sender[:])
	buf.Write(op.Recipient[:])
	writeUvarint(buf, uint64(op.Amount))
	writeUvarint(buf, uint64(op.Fee))
	writeUvarint(buf, op.RollBuy)
	writeUvarint(buf, op.RollSell)
	writeUvarint(buf, op.ValidityStartPeriod)
	writeUvarint(buf, op.ValidityEndPeriod)
}

func writeSignedAmount(buf *bytes.Buffer, c LedgerChange) {
	var sign byte
	if c.Sign {
		sign = 1
	}
	buf.WriteByte(sign)
	writeUvarint(buf, uint64(c.Amount))
}

func writeBoundedSlice(buf *bytes.Buffer, n, max int) error {
	if max > 0 && n > max {
		return &SerializeError{Msg: "collection exceeds configured bound"}
	}
	writeUvarint(buf, uint64(n))
	return nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

// Deserialize decodes a byte stream produced by Serialize, enforcing
// the same bounds. descendants/operation_set/addresses_to_operations
// are not part of the wire image; NewFromBootstrap rebuilds them.
func Deserialize(data []byte, bounds BootstrapBounds) (BootstrappableGraph, error) {
	r := bytes.NewReader(data)
	var bg BootstrappableGraph

	nBlocks, err := readBoundedCount(r, bounds.MaxBlocks)
	if err != nil {
		return bg, err
	}
	for i := uint64(0); i < nBlocks; i++ {
		ab, err := readActiveBlock(r, bounds)
		if err != nil {
			return bg, err
		}
		bg.ActiveBlocks = append(bg.ActiveBlocks, ab)
	}

	bg.BestParents = make([]common.BlockID, bounds.ThreadCount)
	for t := 0; t < bounds.ThreadCount; t++ {
		var id common.BlockID
		if err := readFixed(r, id[:]); err != nil {
			return bg, err
		}
		bg.BestParents[t] = id
	}
	bg.LatestFinalBlocksPeriods = make([]ParentRef, bounds.ThreadCount)
	for t := 0; t < bounds.ThreadCount; t++ {
		var id common.BlockID
		if err := readFixed(r, id[:]); err != nil {
			return bg, err
		}
		period, err := readUvarint(r)
		if err != nil {
			return bg, err
		}
		bg.LatestFinalBlocksPeriods[t] = ParentRef{ID: id, Period: period}
	}

	nGi, err := readBoundedCount(r, bounds.MaxBlocks)
	if err != nil {
		return bg, err
	}
	for i := uint64(0); i < nGi; i++ {
		var id common.BlockID
		if err := readFixed(r, id[:]); err != nil {
			return bg, err
		}
		nInc, err := readBoundedCount(r, bounds.MaxBlocks)
		if err != nil {
			return bg, err
		}
		entry := GiHeadEntry{ID: id}
		for j := uint64(0); j < nInc; j++ {
			var other common.BlockID
			if err := readFixed(r, other[:]); err != nil {
				return bg, err
			}
			entry.Incompats = append(entry.Incompats, other)
		}
		bg.GiHead = append(bg.GiHead, entry)
	}

	nCliques, err := readBoundedCount(r, bounds.MaxCliques)
	if err != nil {
		return bg, err
	}
	for i := uint64(0); i < nCliques; i++ {
		nMembers, err := readBoundedCount(r, bounds.MaxBlocks)
		if err != nil {
			return bg, err
		}
		var members []common.BlockID
		for j := uint64(0); j < nMembers; j++ {
			var id common.BlockID
			if err := readFixed(r, id[:]); err != nil {
				return bg, err
			}
			members = append(members, id)
		}
		bg.MaxCliques = append(bg.MaxCliques, members)
	}

	nLedger, err := readBoundedCount(r, bounds.MaxLedgerEntries)
	if err != nil {
		return bg, err
	}
	for i := uint64(0); i < nLedger; i++ {
		var addr common.Address
		if err := readFixed(r, addr[:]); err != nil {
			return bg, err
		}
		balance, err := readUvarint(r)
		if err != nil {
			return bg, err
		}
		bg.Ledger.Entries = append(bg.Ledger.Entries, LedgerExportEntry{Address: addr, Data: LedgerData{Balance: Amount(balance)}})
	}

	return bg, nil
}

func readActiveBlock(r *bytes.Reader, bounds BootstrapBounds) (ExportActiveBlock, error) {
	var ab ExportActiveBlock
	if err := readFixed(r, ab.ID[:]); err != nil {
		return ab, err
	}
	h, err := readHeader(r, bounds)
	if err != nil {
		return ab, err
	}
	ab.Block.Header = h

	nOps, err := readBoundedCount(r, bounds.MaxBlocks)
	if err != nil {
		return ab, err
	}
	for i := uint64(0); i < nOps; i++ {
		op, err := readOperation(r)
		if err != nil {
			return ab, err
		}
		ab.Block.Operations = append(ab.Block.Operations, op)
	}

	hasParents, err := readByte(r)
	if err != nil {
		return ab, err
	}
	switch hasParents {
	case 0:
		ab.Parents = nil
	case 1:
		ab.Parents = make([]ParentRef, bounds.ThreadCount)
		for t := 0; t < bounds.ThreadCount; t++ {
			var id common.BlockID
			if err := readFixed(r, id[:]); err != nil {
				return ab, err
			}
			period, err := readUvarint(r)
			if err != nil {
				return ab, err
			}
			ab.Parents[t] = ParentRef{ID: id, Period: period}
		}
	default:
		return ab, newDeserializeError("invalid parent flag %d", hasParents)
	}
	if ab.Parents == nil {
		ab.Block.Header.Parents = nil
	} else {
		ab.Block.Header.Parents = make([]common.BlockID, len(ab.Parents))
		for i, p := range ab.Parents {
			ab.Block.Header.Parents[i] = p.ID
		}
	}

	ab.Children = make([][]ChildRef, bounds.ThreadCount)
	for t := 0; t < bounds.ThreadCount; t++ {
		n, err := readBoundedCount(r, bounds.MaxChildren)
		if err != nil {
			return ab, err
		}
		for j := uint64(0); j < n; j++ {
			var id common.BlockID
			if err := readFixed(r, id[:]); err != nil {
				return ab, err
			}
			period, err := readUvarint(r)
			if err != nil {
				return ab, err
			}
			ab.Children[t] = append(ab.Children[t], ChildRef{ID: id, Period: period})
		}
	}

	ab.BlockLedgerChange = make([][]AddressChange, bounds.ThreadCount)
	for t := 0; t < bounds.ThreadCount; t++ {
		n, err := readBoundedCount(r, bounds.MaxDeps)
		if err != nil {
			return ab, err
		}
		for j := uint64(0); j < n; j++ {
			var addr common.Address
			if err := readFixed(r, addr[:]); err != nil {
				return ab, err
			}
			change, err := readSignedAmount(r)
			if err != nil {
				return ab, err
			}
			ab.BlockLedgerChange[t] = append(ab.BlockLedgerChange[t], AddressChange{Address: addr, Change: change})
		}
	}

	finalByte, err := readByte(r)
	if err != nil {
		return ab, err
	}
	ab.IsFinal = finalByte == 1

	nRu, err := readBoundedCount(r, bounds.MaxPosEntries)
	if err != nil {
		return ab, err
	}
	for i := uint64(0); i < nRu; i++ {
		var addr common.Address
		if err := readFixed(r, addr[:]); err != nil {
			return ab, err
		}
		purchases, err := readUvarint(r)
		if err != nil {
			return ab, err
		}
		sales, err := readUvarint(r)
		if err != nil {
			return ab, err
		}
		ab.RollUpdates = append(ab.RollUpdates, AddressRollUpdate{Address: addr, Update: RollUpdate{RollPurchases: purchases, RollSales: sales}})
	}

	return ab, nil
}

func readHeader(r *bytes.Reader, bounds BootstrapBounds) (Header, error) {
	var h Header
	period, err := readUvarint(r)
	if err != nil {
		return h, err
	}
	thread, err := readUint32(r)
	if err != nil {
		return h, err
	}
	h.Slot = common.Slot{Period: period, Thread: thread}
	if err := readFixed(r, h.Creator[:]); err != nil {
		return h, err
	}
	if err := readFixed(r, h.MerkleRoot[:]); err != nil {
		return h, err
	}
	// h.Parents is filled in by readActiveBlock from ab.Parents, since
	// writeHeader does not serialize it separately.
	return h, nil
}

func readOperation(r *bytes.Reader) (Operation, error) {
	var op Operation
	if err := readFixed(r, op.ID[:]); err != nil {
		return op, err
	}
	if err := readFixed(r, op.Sender[:]); err != nil {
		return op, err
	}
	if err := readFixed(r, op.Recipient[:]); err != nil {
		return op, err
	}
	amt, err := readUvarint(r)
	if err != nil {
		return op, err
	}
	op.Amount = Amount(amt)
	fee, err := readUvarint(r)
	if err != nil {
		return op, err
	}
	op.Fee = Amount(fee)
	if op.RollBuy, err = readUvarint(r); err != nil {
		return op, err
	}
	if op.RollSell, err = readUvarint(r); err != nil {
		return op, err
	}
	if op.ValidityStartPeriod, err = readUvarint(r); err != nil {
		return op, err
	}
	if op.ValidityEndPeriod, err = readUvarint(r); err != nil {
		return op, err
	}
	return op, nil
}

func readSignedAmount(r *bytes.Reader) (LedgerChange, error) {
	signByte, err := readByte(r)
	if err != nil {
		return LedgerChange{}, err
	}
	amt, err := readUvarint(r)
	if err != nil {
		return LedgerChange{}, err
	}
	return LedgerChange{Amount: Amount(amt), Sign: signByte == 1}, nil
}

func readBoundedCount(r *bytes.Reader, max int) (uint64, error) {
	n, err := readUvarint(r)
	if err != nil {
		return 0, err
	}
	if max > 0 && n > uint64(max) {
		return 0, newDeserializeError("too many entries: %d exceeds bound %d", n, max)
	}
	return n, nil
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, newDeserializeError("truncated varint: %v", err)
	}
	return v, nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if err := readFixed(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readByte(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, newDeserializeError("truncated stream: %v", err)
	}
	return b, nil
}

func readFixed(r *bytes.Reader, dst []byte) error {
	if _, err := io.ReadFull(r, dst); err != nil {
		return newDeserializeError("truncated fixed field: %v", err)
	}
	return nil
}

// rebuildDescendants recomputes ActiveBlock.descendants by a
// transitive walk over parents, as required on reconstruction from a
// BootstrappableGraph. operation_set / addresses_to_operations are
// rebuilt from block contents by NewFromBootstrap itself.
func rebuildDescendants(blocks map[common.BlockID]*ActiveBlock) {
	for id, ab := range blocks {
		cur := ab
		visited := map[common.BlockID]struct{}{}
		queue := make([]common.BlockID, 0, len(cur.Parents))
		for _, p := range cur.Parents {
			queue = append(queue, p.ID)
		}
		for len(queue) > 0 {
			pid := queue[0]
			queue = queue[1:]
			if _, seen := visited[pid]; seen {
				continue
			}
			visited[pid] = struct{}{}
			pab, ok := blocks[pid]
			if !ok {
				continue
			}
			pab.Descendants[id] = struct{}{}
			for _, gp := range pab.Parents {
				queue = append(queue, gp.ID)
			}
		}
	}
}

// NewFromBootstrap reconstructs a BlockGraph from a previously
// exported image, rebuilding descendants, operation_set and
// addresses_to_operations from block contents rather than
// trusting wire data for them. The ledger collaborator is seeded from
// bg.Ledger via LoadExport before anything else runs.
func NewFromBootstrap(bg BootstrappableGraph, cfg Config, pos PosOracle, ledger ExternalLedger) (*BlockGraph, error) {
	if cfg.ThreadCount == 0 {
		return nil, newContainerInconsistency("thread_count must be > 0")
	}
	T := int(cfg.ThreadCount)

	if err := ledger.LoadExport(bg.Ledger.Entries); err != nil {
		return nil, err
	}

	g := &BlockGraph{
		cfg:                      cfg,
		pos:                      pos,
		ledger:                   ledger,
		genesisHashes:            make([]common.BlockID, 0, T),
		statuses:                 make(map[common.BlockID]*BlockStatus),
		latestFinalBlocksPeriods: append([]ParentRef(nil), bg.LatestFinalBlocksPeriods...),
		bestParents:              append([]common.BlockID(nil), bg.BestParents...),
		giHead:                   make(map[common.BlockID]set.Interface),
		toPropagate:              make(map[common.BlockID]*Block),
		newFinalBlocks:           make(map[common.BlockID]struct{}),
		newStaleBlocks:           make(map[common.BlockID]common.Slot),
	}
	g.discardedOrder = newLRUSeqSet(cfg.MaxDiscardedBlocks, func(id common.BlockID) {
		delete(g.statuses, id)
	})

	blocks := make(map[common.BlockID]*ActiveBlock, len(bg.ActiveBlocks))
	for _, eab := range bg.ActiveBlocks {
		ab := &ActiveBlock{
			ID:                    eab.ID,
			Block:                 eab.Block,
			Parents:               eab.Parents,
			Children:              make([]map[common.BlockID]uint64, T),
			Descendants:           make(map[common.BlockID]struct{}),
			Dependencies:          make(map[common.BlockID]struct{}),
			IsFinal:               eab.IsFinal,
			BlockLedgerChange:     make([]ThreadLedgerChanges, T),
			OperationSet:          make(OperationSet),
			AddressesToOperations: make(map[common.Address]map[OperationID]struct{}),
			RollUpdates:           make(RollUpdates),
		}
		for t := range ab.Children {
			ab.Children[t] = make(map[common.BlockID]uint64)
		}
		for t, cs := range eab.Children {
			for _, c := range cs {
				ab.Children[t][c.ID] = c.Period
			}
		}
		for t := range ab.BlockLedgerChange {
			ab.BlockLedgerChange[t] = make(ThreadLedgerChanges)
		}
		for t, changes := range eab.BlockLedgerChange {
			for _, ac := range changes {
				ab.BlockLedgerChange[t][ac.Address] = ac.Change
			}
		}
		for _, ru := range eab.RollUpdates {
			ab.RollUpdates[ru.Address] = ru.Update
		}
		for idx, op := range ab.Block.Operations {
			ab.OperationSet[op.ID] = OpSetEntry{Index: idx, ValidityEndPeriod: op.ValidityEndPeriod}
			addOp := func(addr common.Address) {
				m, ok := ab.AddressesToOperations[addr]
				if !ok {
					m = make(map[OperationID]struct{})
					ab.AddressesToOperations[addr] = m
				}
				m[op.ID] = struct{}{}
			}
			addOp(op.Sender)
			addOp(op.Recipient)
		}

		blocks[eab.ID] = ab
		if ab.Parents == nil {
			g.genesisHashes = append(g.genesisHashes, eab.ID)
		}
		g.statuses[eab.ID] = &BlockStatus{Kind: StatusActive, Active: ab}
	}
	rebuildDescendants(blocks)

	for _, entry := range bg.GiHead {
		s := set.New()
		for _, other := range entry.Incompats {
			s.Add(other)
		}
		g.giHead[entry.ID] = s
	}

	g.maxCliques = make([]set.Interface, 0, len(bg.MaxCliques))
	for _, members := range bg.MaxCliques {
		s := set.New()
		for _, id := range members {
			s.Add(id)
		}
		g.maxCliques = append(g.maxCliques, s)
	}
	if len(g.maxCliques) == 0 {
		g.maxCliques = []set.Interface{set.New()}
	}

	logBootstrap.Info("graph reconstructed from bootstrap image", "blocks", len(blocks))
	return g, nil
}
