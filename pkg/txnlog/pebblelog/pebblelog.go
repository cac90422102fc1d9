// Package pebblelog is a durable txnlog.Manager backed by cockroachdb/pebble,
// grounded on freyjadb's pkg/storage/storage.go (DefaultStorage wraps one
// *pebble.DB, Create/Read/Update/Delete/Close). It persists only the set of
// committed transaction ids — a single column mapping TransactionId ->
// committed — which is all spec §4.3's root discovery needs to verify a
// candidate root's transaction id across a process restart.
package pebblelog

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/ssargent/rootsdb/pkg/rootserr"
	"github.com/ssargent/rootsdb/pkg/txnlog"
)

// Manager is a crash-durable txnlog.Manager. Name locks are in-memory
// only (locks never need to survive a restart, only the committed set
// does); commit records are written with pebble.Sync so a confirmed
// commit survives a crash immediately after Commit returns.
type Manager struct {
	db *pebble.DB

	mu        sync.Mutex
	nextID    txnlog.TransactionID
	nameLocks map[string]*sync.Mutex
	held      map[txnlog.TransactionID][]string
}

// Open opens (creating if absent) a pebble-backed transaction log at dir.
func Open(dir string) (*Manager, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, rootserr.Wrap(rootserr.IO, err, "open pebble transaction log at %q", dir)
	}
	m := &Manager{
		db:        db,
		nameLocks: make(map[string]*sync.Mutex),
		held:      make(map[txnlog.TransactionID][]string),
	}
	last, err := m.loadLastID()
	if err != nil {
		db.Close()
		return nil, err
	}
	m.nextID = last
	return m, nil
}

func (m *Manager) loadLastID() (txnlog.TransactionID, error) {
	iter, err := m.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, rootserr.Wrap(rootserr.IO, err, "scan transaction log for last id")
	}
	defer iter.Close()
	var max txnlog.TransactionID
	for iter.Last(); iter.Valid(); iter.Prev() {
		id := decodeKey(iter.Key())
		if id > max {
			max = id
		}
	}
	return max, nil
}

func encodeKey(id txnlog.TransactionID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func decodeKey(b []byte) txnlog.TransactionID {
	return txnlog.TransactionID(binary.BigEndian.Uint64(b))
}

func (m *Manager) lockFor(name string) *sync.Mutex {
	m.mu.Lock()
	l, ok := m.nameLocks[name]
	if !ok {
		l = &sync.Mutex{}
		m.nameLocks[name] = l
	}
	m.mu.Unlock()
	return l
}

// NewTransaction allocates the next TransactionID and locks every named
// tree in sorted order (deadlock-free regardless of caller order).
func (m *Manager) NewTransaction(names []string) (*txnlog.ManagedTransaction, error) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for _, name := range sorted {
		m.lockFor(name).Lock()
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.held[id] = sorted
	m.mu.Unlock()

	return &txnlog.ManagedTransaction{ID: id, Names: sorted}, nil
}

// Commit durably records txn.ID as committed, syncing to disk before
// returning, then releases txn's locks.
func (m *Manager) Commit(txn *txnlog.ManagedTransaction) error {
	if err := m.db.Set(encodeKey(txn.ID), []byte{1}, pebble.Sync); err != nil {
		return rootserr.Wrap(rootserr.IO, err, "record transaction %d committed", txn.ID)
	}
	m.Unlock(txn)
	return nil
}

// Unlock releases txn's name locks without recording a commit.
func (m *Manager) Unlock(txn *txnlog.ManagedTransaction) {
	m.mu.Lock()
	names, ok := m.held[txn.ID]
	if ok {
		delete(m.held, txn.ID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	for i := len(names) - 1; i >= 0; i-- {
		m.lockFor(names[i]).Unlock()
	}
}

// WasSuccessful reports whether id was ever recorded committed,
// surviving process restarts since it reads from pebble.
func (m *Manager) WasSuccessful(id txnlog.TransactionID) (bool, error) {
	if id == 0 {
		return true, nil
	}
	_, closer, err := m.db.Get(encodeKey(id))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, rootserr.Wrap(rootserr.IO, err, "query transaction %d", id)
	}
	defer closer.Close()
	return true, nil
}

// Close closes the underlying pebble database.
func (m *Manager) Close() error {
	if err := m.db.Close(); err != nil {
		return rootserr.Wrap(rootserr.IO, err, "close transaction log")
	}
	return nil
}

var _ txnlog.Manager = (*Manager)(nil)
