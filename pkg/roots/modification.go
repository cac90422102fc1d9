package roots

import (
	"bytes"

	"github.com/ssargent/rootsdb/internal/btree"
	"github.com/ssargent/rootsdb/pkg/rootserr"
)

// PersistenceMode controls how far a Modify call carries its effects
// (spec §4.4): Sync/Flush publish a new root immediately; Transactional
// defers root publication to the coordinator's commit.
type PersistenceMode int

const (
	// ModeSync serializes the root, appends its header, flushes, calls
	// Synchronize on the file, and publishes.
	ModeSync PersistenceMode = iota
	// ModeFlush is ModeSync without the Synchronize call.
	ModeFlush
	// ModeTransactional appends pages but writes no root header and
	// publishes nothing; the coordinator drives commit later.
	ModeTransactional
)

// KeyOperation is what a CompareSwapFunc decides for one key: Set a new
// value, Remove it, or Skip (leave it untouched).
type KeyOperation struct {
	Kind  btree.KeyOpKind
	Value []byte
}

// CompareSwapFunc is called once per key in a CompareSwap Modification,
// given the key's current value and whether it was found. Returning an
// error (e.g. rootserr.NewConflict) aborts that key's update and
// propagates to the caller (spec §4.4's "Conflict" surfacing, §9's
// "result-returning functional interface" design note).
type CompareSwapFunc func(key []byte, currentValue []byte, found bool) (KeyOperation, error)

type operationKind int

const (
	opSet operationKind = iota
	opRemove
	opCompareSwap
)

// Modification is a batch of key operations applied under one
// PersistenceMode (spec §4.4). Keys must be pre-sorted ascending.
type Modification struct {
	PersistenceMode PersistenceMode
	Keys            [][]byte
	kind            operationKind
	value           []byte
	fn              CompareSwapFunc
}

// NewSet builds a Modification that sets every key in keys to value.
func NewSet(mode PersistenceMode, keys [][]byte, value []byte) Modification {
	return Modification{PersistenceMode: mode, Keys: keys, kind: opSet, value: value}
}

// NewRemove builds a Modification that removes every key in keys.
func NewRemove(mode PersistenceMode, keys [][]byte) Modification {
	return Modification{PersistenceMode: mode, Keys: keys, kind: opRemove}
}

// NewCompareSwap builds a Modification driven by a per-key callback.
func NewCompareSwap(mode PersistenceMode, keys [][]byte, fn CompareSwapFunc) Modification {
	return Modification{PersistenceMode: mode, Keys: keys, kind: opCompareSwap, fn: fn}
}

// compareAndSwapFunc builds the CompareSwapFunc for a single-key
// compare-and-swap: succeeds (Set or Remove) iff the current value
// equals expected (nil expected means "key must not exist yet").
func compareAndSwapFunc(expected, newValue []byte) CompareSwapFunc {
	return func(key []byte, current []byte, found bool) (KeyOperation, error) {
		match := (!found && expected == nil) || (found && bytes.Equal(current, expected))
		if !match {
			var actual []byte
			if found {
				actual = current
			}
			return KeyOperation{}, rootserr.NewConflict(actual)
		}
		if newValue == nil {
			return KeyOperation{Kind: btree.KeyRemove}, nil
		}
		return KeyOperation{Kind: btree.KeySet, Value: newValue}, nil
	}
}
