// Package common holds the small value types shared by every
// block-graph package: fixed-size addresses, block ids and slots.
package common

import (
	"encoding/hex"
	"fmt"
)

const (
	// AddressLength is the fixed size of an Address, in bytes.
	AddressLength = 20
	// BlockIDLength is the fixed size of a content-addressable
	// block id, in bytes.
	BlockIDLength = 32
)

// Address identifies an account that can hold balance and rolls.
type Address [AddressLength]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// BytesToAddress right-aligns b into an Address, as go-ethereum-family
// codebases do for fixed-width identifiers.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// BlockID is the content-addressable identifier of a block, derived
// from its signed header.
type BlockID [BlockIDLength]byte

func (id BlockID) String() string { return hex.EncodeToString(id[:]) }

func BytesToBlockID(b []byte) (BlockID, error) {
	var id BlockID
	if len(b) != BlockIDLength {
		return id, fmt.Errorf("common: invalid block id length %d, want %d", len(b), BlockIDLength)
	}
	copy(id[:], b)
	return id, nil
}

// Slot is a (period, thread) coordinate in the multi-thread DAG.
type Slot struct {
	Period uint64
	Thread uint32
}

func (s Slot) String() string { return fmt.Sprintf("(%d,%d)", s.Period, s.Thread) }

// Less implements the ascending (period, thread) order the admission
// pipeline drains its work queue in.
func (s Slot) Less(o Slot) bool {
	if s.Period != o.Period {
		return s.Period < o.Period
	}
	return s.Thread < o.Thread
}

func (s Slot) Equal(o Slot) bool { return s.Period == o.Period && s.Thread == o.Thread }
