// Package roots's Roots type is the multi-tree transaction coordinator
// (spec §4.8): one TreeFile cached per name, tree-name validation, and
// serialized multi-tree commits dispatched through internal/workerpool
// (spec §4.9). Grounded on pkg/store/kv_store.go's KVStore for the
// single-mutex-guarded-map-of-handles shape, generalized from one log file
// to a name-addressed family of tree files.
package roots

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ssargent/rootsdb/internal/filemanager"
	"github.com/ssargent/rootsdb/internal/workerpool"
	"github.com/ssargent/rootsdb/pkg/rootserr"
	"github.com/ssargent/rootsdb/pkg/txnlog"
)

// treeNamePattern is spec §4.8's allowed tree-name charset.
var treeNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// reservedTransactionsName is reserved for the transaction log itself and
// may never name a tree.
const reservedTransactionsName = "_transactions"

// ValidateTreeName enforces spec §4.8's charset and reserved-name rule.
func ValidateTreeName(name string) error {
	if name == "" {
		return rootserr.New(rootserr.InvalidTreeName, "tree name must not be empty")
	}
	if name == reservedTransactionsName {
		return rootserr.New(rootserr.InvalidTreeName, "%q is reserved for the transaction log", name)
	}
	if !treeNamePattern.MatchString(name) {
		return rootserr.New(rootserr.InvalidTreeName, "tree name %q must match [A-Za-z0-9._-]+", name)
	}
	return nil
}

// Roots owns one TreeFile per distinct tree name and a commit worker pool
// shared across every multi-tree transaction.
type Roots struct {
	dataDir string
	fm      filemanager.Manager
	tlog    txnlog.Manager
	cfg     TreeFileConfig
	pool    *workerpool.Pool

	mu      sync.Mutex
	trees   map[string]*TreeFile
	lowered map[string]string // lower(name) -> name, guards case-insensitive collisions
}

// New returns a coordinator rooted at dataDir. poolSize <= 0 defaults to
// the CPU count (spec §4.9).
func New(dataDir string, fm filemanager.Manager, tlog txnlog.Manager, cfg TreeFileConfig, poolSize int) *Roots {
	return &Roots{
		dataDir: dataDir,
		fm:      fm,
		tlog:    tlog,
		cfg:     cfg,
		pool:    workerpool.New(poolSize),
		trees:   make(map[string]*TreeFile),
		lowered: make(map[string]string),
	}
}

// Close stops the worker pool and closes every open tree file.
func (rs *Roots) Close() error {
	rs.pool.Close()

	rs.mu.Lock()
	defer rs.mu.Unlock()
	var firstErr error
	for _, tf := range rs.trees {
		if err := tf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rs.tlog != nil {
		if err := rs.tlog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tree returns the cached TreeFile for name, opening (or creating) it on
// first use. Two names differing only in case are rejected: filesystems
// that fold case would otherwise silently alias two "different" trees
// onto one file (spec §9's open question on tree-name collisions).
func (rs *Roots) Tree(name string) (*TreeFile, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.openLocked(name)
}

func (rs *Roots) openLocked(name string) (*TreeFile, error) {
	if tf, ok := rs.trees[name]; ok {
		return tf, nil
	}
	if err := ValidateTreeName(name); err != nil {
		return nil, err
	}

	lower := strings.ToLower(name)
	if existing, ok := rs.lowered[lower]; ok && existing != name {
		return nil, rootserr.New(rootserr.InvalidTreeName, "tree name %q collides case-insensitively with already-open tree %q", name, existing)
	}

	path := filepath.Join(rs.dataDir, name+".nebari")
	tf, err := Open(rs.fm, rs.tlog, name, path, rs.cfg)
	if err != nil {
		return nil, err
	}

	rs.trees[name] = tf
	rs.lowered[lower] = name
	return tf, nil
}

// Compact rewrites name's tree file to drop unreachable chunks (spec §4.7),
// dispatched outside of any multi-tree transaction since compaction owns
// its own exclusive lock internally.
func (rs *Roots) Compact(name string) error {
	tf, err := rs.Tree(name)
	if err != nil {
		return err
	}
	return tf.Compact(rs.tlog)
}

// Transaction opens (or creates) every named tree and allocates a
// coordinator transaction over them (spec §4.8's "transaction(names)").
func (rs *Roots) Transaction(names []string) (*ExecutingTransaction, error) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	for _, n := range sorted {
		if err := ValidateTreeName(n); err != nil {
			return nil, err
		}
	}

	txn, err := rs.tlog.NewTransaction(sorted)
	if err != nil {
		return nil, err
	}

	trees := make(map[string]*TreeFile, len(sorted))
	for _, n := range sorted {
		tf, err := rs.Tree(n)
		if err != nil {
			rs.tlog.Unlock(txn)
			return nil, err
		}
		trees[n] = tf
	}

	return &ExecutingTransaction{roots: rs, txn: txn, trees: trees, order: sorted}, nil
}

// ExecutingTransaction holds the exclusive tree-name locks and allocated
// TransactionId of one in-flight multi-tree transaction (spec §4.8, §3).
type ExecutingTransaction struct {
	roots *Roots
	txn   *txnlog.ManagedTransaction
	trees map[string]*TreeFile
	order []string
	done  bool
}

// ID returns the transaction's allocated id.
func (et *ExecutingTransaction) ID() uint64 { return uint64(et.txn.ID) }

func (et *ExecutingTransaction) tree(name string) (*TreeFile, error) {
	tf, ok := et.trees[name]
	if !ok {
		return nil, rootserr.New(rootserr.InvalidTreeName, "tree %q is not part of this transaction", name)
	}
	return tf, nil
}

// Set applies a Set modification to tree name's active root, buffered
// until Commit (spec §4.4's ModeTransactional).
func (et *ExecutingTransaction) Set(name string, keys [][]byte, value []byte) error {
	tf, err := et.tree(name)
	if err != nil {
		return err
	}
	_, err = tf.Modify(NewSet(ModeTransactional, keys, value), et.ID())
	return err
}

// Remove applies a Remove modification to tree name's active root.
func (et *ExecutingTransaction) Remove(name string, keys [][]byte) error {
	tf, err := et.tree(name)
	if err != nil {
		return err
	}
	_, err = tf.Modify(NewRemove(ModeTransactional, keys), et.ID())
	return err
}

// CompareSwap applies a CompareSwap modification to tree name's active root.
func (et *ExecutingTransaction) CompareSwap(name string, keys [][]byte, fn CompareSwapFunc) error {
	tf, err := et.tree(name)
	if err != nil {
		return err
	}
	_, err = tf.Modify(NewCompareSwap(ModeTransactional, keys, fn), et.ID())
	return err
}

// Get reads key from tree name's active root, observing this transaction's
// own uncommitted writes (spec §4.5's in_transaction reads).
func (et *ExecutingTransaction) Get(name string, key []byte) ([]byte, bool, error) {
	tf, err := et.tree(name)
	if err != nil {
		return nil, false, err
	}
	return tf.Get(key, true)
}

// Commit finalizes every tree's buffered modifications (spec §4.8):
// each tree fsyncs its new root (in parallel via the worker pool for more
// than one tree, inline otherwise), the log manager then durably records
// the transaction as committed, and only then are the new roots published
// to lock-free readers; locks release last.
func (et *ExecutingTransaction) Commit() error {
	if et.done {
		return rootserr.New(rootserr.Other, "transaction %d already finished", et.ID())
	}
	et.done = true

	jobs := make([]workerpool.Job, 0, len(et.order))
	for _, name := range et.order {
		tf := et.trees[name]
		jobs = append(jobs, func() error { return tf.PublishTransaction(et.ID()) })
	}

	var err error
	switch len(jobs) {
	case 0:
	case 1:
		err = jobs[0]()
	default:
		err = et.roots.pool.Run(jobs)
	}
	if err != nil {
		et.abort()
		return err
	}

	if err := et.roots.tlog.Commit(et.txn); err != nil {
		et.abort()
		return err
	}

	for _, name := range et.order {
		et.trees[name].FinalizePublish()
	}
	et.roots.tlog.Unlock(et.txn)
	return nil
}

// Rollback discards every tree's buffered modifications and releases the
// transaction's locks without committing (spec §4.8's "drop = rollback").
func (et *ExecutingTransaction) Rollback() {
	if et.done {
		return
	}
	et.done = true
	et.abort()
}

func (et *ExecutingTransaction) abort() {
	for _, name := range et.order {
		et.trees[name].Rollback()
	}
	et.roots.tlog.Unlock(et.txn)
}
