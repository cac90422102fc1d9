package roots

import (
	"io"
	"sync"

	"github.com/ssargent/rootsdb/internal/btree"
	"github.com/ssargent/rootsdb/internal/chunk"
	"github.com/ssargent/rootsdb/internal/filemanager"
	"github.com/ssargent/rootsdb/internal/pagewriter"
	"github.com/ssargent/rootsdb/pkg/metrics"
	"github.com/ssargent/rootsdb/pkg/rootserr"
	"github.com/ssargent/rootsdb/pkg/txnlog"
)

// treeState is one snapshot of a tree's root (spec §3's TreeState, minus
// the file-identity/order fields TreeFile tracks once for both its active
// and published copies).
type treeState struct {
	TransactionID  uint64
	Stats          ByIdStats
	ByIDRoot       btree.Pointer
	BySequenceRoot btree.Pointer
	LastSequence   uint64
}

// TreeFileConfig carries the per-tree collaborators and knobs that don't
// change across reopens (spec §6's Vault/Cache/Compressor, §3's max_order).
type TreeFileConfig struct {
	Vault       chunk.Vault
	Compressor  chunk.Compressor
	Cache       chunk.Cache
	FileID      uint64
	MaxOrder    int
	Metrics     *metrics.Metrics
	Versioned   bool
}

// TreeFile is one open tree's file handle, codec, paged writer, and
// published/active root split (spec §3's TreeState, §4.3-§4.7). Readers
// observe Published; a single writer at a time mutates Active under mu,
// the way pkg/store/kv_store.go's KVStore serialises writers behind one
// mutex while reads stay lock-free against the log tail.
type TreeFile struct {
	name      string
	path      string
	versioned bool
	maxOrder  int

	fileManager filemanager.Manager
	codec       *chunk.Codec
	metrics     *metrics.Metrics

	mu       sync.RWMutex
	file     filemanager.File
	identity filemanager.Identity
	writer   *pagewriter.Writer
	byID     *chunkStore[ByIdIndex]
	bySeq    *chunkStore[SequenceAggregate]

	published treeState
	active    treeState
}

// Open discovers or initialises name's tree file at path (spec §4.3) and
// returns a ready TreeFile. fm creates the file in append mode if absent.
func Open(fm filemanager.Manager, tlog txnlog.Manager, name, path string, cfg TreeFileConfig) (*TreeFile, error) {
	file, length, identity, err := fm.OpenAppend(path)
	if err != nil {
		return nil, err
	}

	codec := &chunk.Codec{Vault: cfg.Vault, Compressor: cfg.Compressor, Cache: cfg.Cache, FileID: cfg.FileID}
	writer := pagewriter.New(file, length)

	tf := &TreeFile{
		name:        name,
		path:        path,
		versioned:   cfg.Versioned,
		maxOrder:    cfg.MaxOrder,
		fileManager: fm,
		codec:       codec,
		metrics:     cfg.Metrics,
		file:        file,
		identity:    identity,
		writer:      writer,
	}
	tf.byID = &chunkStore[ByIdIndex]{codec: codec, writer: writer, reader: file, idxCo: byIdCodec{}, metrics: cfg.Metrics}
	if cfg.Versioned {
		tf.bySeq = &chunkStore[SequenceAggregate]{codec: codec, writer: writer, reader: file, idxCo: sequenceCodec{}, metrics: cfg.Metrics}
	}

	state, err := discoverRoot(file, length, codec, tlog, cfg.Versioned)
	if err != nil {
		file.Close()
		return nil, err
	}
	tf.published = state
	tf.active = state
	return tf, nil
}

// discoverRoot implements spec §4.3's page-aligned backward scan.
func discoverRoot(r io.ReaderAt, length int64, codec *chunk.Codec, tlog txnlog.Manager, versioned bool) (treeState, error) {
	if length == 0 {
		return treeState{}, nil
	}

	expected := pagewriter.HeaderUnversioned
	if versioned {
		expected = pagewriter.HeaderVersioned
	}

	p := (length / pagewriter.PageSize) * pagewriter.PageSize
	if length-p < 4 {
		p -= pagewriter.PageSize
	}

	for p >= 0 {
		header := make([]byte, 4)
		if _, err := r.ReadAt(header, p); err != nil {
			p -= pagewriter.PageSize
			continue
		}
		if header[0] != 'N' || header[1] != 'b' || header[2] != 'r' {
			p -= pagewriter.PageSize
			continue
		}

		kind := pagewriter.HeaderKind(header[3])
		if kind != expected {
			return treeState{}, rootserr.New(rootserr.DataIntegrity, "tree file header kind %d does not match expected kind %d (wrong tree opened)", kind, expected)
		}

		if data, err := codec.ReadChunk(r, p+4, true); err == nil {
			if state, ok, decodeErr := decodeCandidateRoot(data, versioned); decodeErr == nil && ok {
				if state.TransactionID == 0 || tlog == nil {
					return state, nil
				}
				if committed, err := tlog.WasSuccessful(txnlog.TransactionID(state.TransactionID)); err == nil && committed {
					return state, nil
				}
			}
		}
		p -= pagewriter.PageSize
	}

	return treeState{}, rootserr.New(rootserr.DataIntegrity, "no valid root found in %d bytes", length)
}

func decodeCandidateRoot(data []byte, versioned bool) (treeState, bool, error) {
	if versioned {
		vr, err := decodeVersionedRoot(data)
		if err != nil {
			return treeState{}, false, err
		}
		return treeState{TransactionID: vr.TransactionID, Stats: vr.Stats, ByIDRoot: vr.ByIDRoot, BySequenceRoot: vr.BySequenceRoot, LastSequence: vr.LastSequence}, true, nil
	}
	ur, err := decodeUnversionedRoot(data)
	if err != nil {
		return treeState{}, false, err
	}
	return treeState{TransactionID: ur.TransactionID, Stats: ur.Stats, ByIDRoot: ur.ByIDRoot}, true, nil
}

func encodeTreeState(s treeState, versioned bool) []byte {
	if versioned {
		return encodeVersionedRoot(VersionedRoot{
			TransactionID:  s.TransactionID,
			Stats:          s.Stats,
			ByIDRoot:       s.ByIDRoot,
			BySequenceRoot: s.BySequenceRoot,
			LastSequence:   s.LastSequence,
		})
	}
	return encodeUnversionedRoot(UnversionedRoot{TransactionID: s.TransactionID, Stats: s.Stats, ByIDRoot: s.ByIDRoot})
}

// Name returns the tree's name.
func (tf *TreeFile) Name() string { return tf.name }

// Identity returns the tree file's current on-disk identity, which changes
// across a compaction (spec §4.7).
func (tf *TreeFile) Identity() filemanager.Identity {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	return tf.identity
}

// CheckIdentity fails with TreeCompacted if identity no longer matches the
// tree file's current identity (spec §4.5's pre-read identity check).
func (tf *TreeFile) CheckIdentity(identity filemanager.Identity) error {
	if tf.Identity() != identity {
		return rootserr.New(rootserr.TreeCompacted, "tree %q file identity changed, reopen and retry", tf.name)
	}
	return nil
}

// Stats returns the by-id tree's current aggregate (active root if
// inTransaction, published otherwise).
func (tf *TreeFile) Stats(inTransaction bool) ByIdStats {
	return tf.snapshot(inTransaction).Stats
}

func (tf *TreeFile) snapshot(inTransaction bool) treeState {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	if inTransaction {
		return tf.active
	}
	return tf.published
}

// readSnapshot captures a root, the *chunkStore pair to traverse it with,
// and the file identity those stores were reading from, all under one
// tf.mu.RLock (spec §4.5's pre-read identity check; §7's "TreeCompacted
// ... recovered automatically by read-side wrappers"). Compact never
// mutates an existing chunkStore's fields in place — it builds fresh ones
// and reassigns tf.byID/tf.bySeq — so a captured store's fields are never
// rewritten under a traversal. Compact does close the old file before the
// swap, so chunk reads through a captured store can fail once it runs; the
// caller re-checks identity after the traversal and reports TreeCompacted
// whenever the identity has changed.
func (tf *TreeFile) readSnapshot(inTransaction bool) (treeState, *chunkStore[ByIdIndex], *chunkStore[SequenceAggregate], filemanager.Identity) {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	state := tf.published
	if inTransaction {
		state = tf.active
	}
	return state, tf.byID, tf.bySeq, tf.identity
}

func resolveOperation(mod Modification, key, curVal []byte, found bool) (KeyOperation, error) {
	switch mod.kind {
	case opSet:
		return KeyOperation{Kind: btree.KeySet, Value: mod.value}, nil
	case opRemove:
		return KeyOperation{Kind: btree.KeyRemove}, nil
	default:
		return mod.fn(key, curVal, found)
	}
}

// Modify applies mod's keys in order against the active root, threading
// versioned mirroring into the by-sequence tree, and publishes according
// to mod.PersistenceMode (spec §4.4). txnID is the coordinator-allocated
// transaction id for a transactional commit, or 0 for a standalone write.
// It reports whether any key actually changed the tree.
func (tf *TreeFile) Modify(mod Modification, txnID uint64) (bool, error) {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	state := tf.active
	anyChanged := false

	for _, key := range mod.Keys {
		next, changed, err := tf.applyOneLocked(state, key, mod)
		if err != nil {
			return false, err
		}
		if changed {
			anyChanged = true
			state = next
		}
	}

	if !anyChanged {
		return false, nil
	}

	state.TransactionID = txnID
	tf.active = state

	switch mod.PersistenceMode {
	case ModeTransactional:
		return true, nil
	case ModeFlush:
		return true, tf.publishLocked(false)
	default: // ModeSync
		return true, tf.publishLocked(true)
	}
}

// applyOneLocked applies one key of mod against state, mirroring a
// versioned tree's by-sequence entry, and returns the resulting state.
// Caller holds tf.mu.
func (tf *TreeFile) applyOneLocked(state treeState, key []byte, mod Modification) (treeState, bool, error) {
	order := btree.Order(state.Stats.AliveKeys+state.Stats.DeletedKeys, tf.maxOrder)

	var (
		wasFound    bool
		wasIndex    ByIdIndex
		opKind      btree.KeyOpKind
		newValueLen int
	)

	applyFn := func(k []byte, curIdx *ByIdIndex, curVal []byte) (btree.ApplyResult[ByIdIndex], error) {
		if curIdx != nil {
			wasFound = true
			wasIndex = *curIdx
		}
		op, err := resolveOperation(mod, k, curVal, wasFound)
		if err != nil {
			return btree.ApplyResult[ByIdIndex]{}, err
		}

		switch op.Kind {
		case btree.KeySkip:
			opKind = btree.KeySkip
			return btree.ApplyResult[ByIdIndex]{Kind: btree.KeySkip}, nil
		case btree.KeyRemove:
			if !wasFound {
				opKind = btree.KeySkip
				return btree.ApplyResult[ByIdIndex]{Kind: btree.KeySkip}, nil
			}
			opKind = btree.KeyRemove
			return btree.ApplyResult[ByIdIndex]{Kind: btree.KeyRemove, Index: wasIndex}, nil
		default:
			opKind = btree.KeySet
			newValueLen = len(op.Value)
			idx := ByIdIndex{Stats: ByIdStats{AliveKeys: 1, TotalBytes: uint64(len(op.Value))}}
			if tf.versioned {
				idx.HasSequence = true
				idx.LastSequence = state.LastSequence + 1
			}
			return btree.ApplyResult[ByIdIndex]{Kind: btree.KeySet, Value: op.Value, Index: idx}, nil
		}
	}

	newByID, changed, err := btree.ModifyOne(tf.byID, state.ByIDRoot, byIdReducer{}, order, key, applyFn)
	if err != nil {
		return state, false, err
	}
	if !changed {
		return state, false, nil
	}

	out := state
	out.ByIDRoot = newByID

	switch opKind {
	case btree.KeySet:
		if wasFound {
			out.Stats.TotalBytes = out.Stats.TotalBytes - wasIndex.Stats.TotalBytes + uint64(newValueLen)
		} else {
			out.Stats.AliveKeys++
			out.Stats.TotalBytes += uint64(newValueLen)
		}
	case btree.KeyRemove:
		out.Stats.AliveKeys--
		out.Stats.DeletedKeys++
		out.Stats.TotalBytes -= wasIndex.Stats.TotalBytes
	}

	if tf.versioned {
		var valuePtr btree.Pointer
		if opKind == btree.KeySet {
			entry, found, err := btree.GetEntry(tf.byID, newByID, key)
			if err != nil {
				return state, false, err
			}
			if found {
				valuePtr = entry.Value
			}
		}

		out.LastSequence = state.LastSequence + 1
		rec := SequenceRecord{
			Key:             append([]byte(nil), key...),
			HasLastSequence: wasFound && wasIndex.HasSequence,
			LastSequence:    wasIndex.LastSequence,
			Removed:         opKind == btree.KeyRemove,
			Value:           valuePtr,
		}

		seqApply := func(_ []byte, _ *SequenceAggregate, _ []byte) (btree.ApplyResult[SequenceAggregate], error) {
			return btree.ApplyResult[SequenceAggregate]{Kind: btree.KeySet, Value: encodeSequenceRecord(rec)}, nil
		}
		seqOrder := btree.Order(out.LastSequence, tf.maxOrder)
		newBySeq, _, err := btree.ModifyOne(tf.bySeq, state.BySequenceRoot, sequenceReducer{}, seqOrder, encodeSequenceID(SequenceID(out.LastSequence)), seqApply)
		if err != nil {
			return state, false, err
		}
		out.BySequenceRoot = newBySeq
	}

	return out, true, nil
}

// appendRootLocked serializes the active root and emits its page-aligned
// header, flushing (and syncing, if sync) without touching Published.
// Caller holds tf.mu.
func (tf *TreeFile) appendRootLocked(sync bool) error {
	root := encodeTreeState(tf.active, tf.versioned)
	kind := pagewriter.HeaderUnversioned
	if tf.versioned {
		kind = pagewriter.HeaderVersioned
	}
	if _, err := tf.writer.AlignAndEmitRootHeader(tf.codec, kind, root); err != nil {
		return err
	}
	if sync {
		if err := tf.writer.Sync(); err != nil {
			return err
		}
	} else if err := tf.writer.Flush(); err != nil {
		return err
	}
	return nil
}

// publishLocked appends the active root and immediately publishes it. Used
// by standalone (non-coordinated) Sync/Flush modifications, which have no
// separate log-commit linearisation point to wait for. Caller holds tf.mu.
func (tf *TreeFile) publishLocked(sync bool) error {
	if err := tf.appendRootLocked(sync); err != nil {
		return err
	}
	tf.published = tf.active
	return nil
}

// PublishTransaction appends the root header for a ModeTransactional
// Modify's already-written pages, stamping txnID, and syncs — but does
// not publish (spec §4.8 commit step 1: "after all trees successfully
// fsync their new roots" comes before the log commit and the actual
// publish in steps 2-3). Call FinalizePublish once the coordinator's log
// manager has durably recorded txnID as committed.
func (tf *TreeFile) PublishTransaction(txnID uint64) error {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.active.TransactionID = txnID
	return tf.appendRootLocked(true)
}

// FinalizePublish makes the already-fsynced active root visible to
// lock-free readers (spec §4.8 commit step 3).
func (tf *TreeFile) FinalizePublish() {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.published = tf.active
}

// Rollback resets the active root back to the published one (spec §4.8's
// "drop = rollback").
func (tf *TreeFile) Rollback() {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.active = tf.published
}

// Get looks up key against the published root, or the active root if
// inTransaction (spec §4.5).
func (tf *TreeFile) Get(key []byte, inTransaction bool) ([]byte, bool, error) {
	state, store, _, identity := tf.readSnapshot(inTransaction)
	_, value, found, err := btree.Get(store, state.ByIDRoot, key)
	if checkErr := tf.CheckIdentity(identity); checkErr != nil {
		return nil, false, checkErr
	}
	return value, found, err
}

// GetMultiple looks up every key in keys, calling visit for each found.
func (tf *TreeFile) GetMultiple(keys [][]byte, inTransaction bool, visit func(key, value []byte) error) error {
	state, store, _, identity := tf.readSnapshot(inTransaction)
	err := btree.GetMultiple(store, state.ByIDRoot, keys, nil, func(key []byte, _ ByIdIndex, value []byte) error {
		return visit(key, value)
	})
	if checkErr := tf.CheckIdentity(identity); checkErr != nil {
		return checkErr
	}
	return err
}

// Scan walks r in key order, calling visit for each entry — ascending if
// forwards is true, descending otherwise (spec.md §2's "in-order /
// reverse-order traversal", §4.5).
func (tf *TreeFile) Scan(r btree.KeyRange, forwards, inTransaction bool, visit func(key, value []byte) (bool, error)) error {
	state, store, _, identity := tf.readSnapshot(inTransaction)
	err := btree.Scan(store, state.ByIDRoot, forwards, r, nil, nil, func(key []byte, _ ByIdIndex, value []byte) (bool, error) {
		return visit(key, value)
	})
	if checkErr := tf.CheckIdentity(identity); checkErr != nil {
		return checkErr
	}
	return err
}

// Reduce aggregates r's keys' indexes (spec §4.6).
func (tf *TreeFile) Reduce(r btree.KeyRange, inTransaction bool) (ByIdIndex, error) {
	state, store, _, identity := tf.readSnapshot(inTransaction)
	idx, err := btree.Reduce(store, state.ByIDRoot, r, byIdReducer{})
	if checkErr := tf.CheckIdentity(identity); checkErr != nil {
		return ByIdIndex{}, checkErr
	}
	return idx, err
}

// First returns the smallest key in the tree, if any.
func (tf *TreeFile) First(inTransaction bool) (key, value []byte, found bool, err error) {
	state, store, _, identity := tf.readSnapshot(inTransaction)
	key, _, value, found, err = btree.First(store, state.ByIDRoot)
	if checkErr := tf.CheckIdentity(identity); checkErr != nil {
		return nil, nil, false, checkErr
	}
	return
}

// Last returns the largest key in the tree, if any.
func (tf *TreeFile) Last(inTransaction bool) (key, value []byte, found bool, err error) {
	state, store, _, identity := tf.readSnapshot(inTransaction)
	key, _, value, found, err = btree.Last(store, state.ByIDRoot)
	if checkErr := tf.CheckIdentity(identity); checkErr != nil {
		return nil, nil, false, checkErr
	}
	return
}

// Close releases the tree file's underlying handle.
func (tf *TreeFile) Close() error {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.file.Close()
}

// Compact rewrites the tree file into a fresh sibling and atomically
// replaces the original (spec §4.7): a read-snapshot copy pass, then a
// write-locked copy pass that catches writes made during the first, then
// an atomic swap that assigns the tree a fresh file identity.
func (tf *TreeFile) Compact(tlog txnlog.Manager) error {
	compactPath := tf.path + ".nebari.compacting"
	if err := tf.fileManager.Delete(compactPath); err != nil {
		return err
	}

	var txnID uint64
	var txn *txnlog.ManagedTransaction
	if tlog != nil {
		var err error
		txn, err = tlog.NewTransaction([]string{tf.name})
		if err != nil {
			return err
		}
		txnID = uint64(txn.ID)
	}

	dstFile, _, _, err := tf.fileManager.OpenAppend(compactPath)
	if err != nil {
		if tlog != nil {
			tlog.Unlock(txn)
		}
		return err
	}
	dstWriter := pagewriter.New(dstFile, 0)
	dstCodec := &chunk.Codec{Vault: tf.codec.Vault, Compressor: tf.codec.Compressor, FileID: tf.codec.FileID}
	dstByID := &chunkStore[ByIdIndex]{codec: dstCodec, writer: dstWriter, reader: dstFile, idxCo: byIdCodec{}, metrics: tf.metrics}
	var dstBySeq *chunkStore[SequenceAggregate]
	if tf.versioned {
		dstBySeq = &chunkStore[SequenceAggregate]{codec: dstCodec, writer: dstWriter, reader: dstFile, idxCo: sequenceCodec{}, metrics: tf.metrics}
	}

	fail := func(err error) error {
		dstFile.Close()
		if tlog != nil {
			tlog.Unlock(txn)
		}
		return err
	}

	seenByID := make(map[btree.Pointer]btree.Pointer)
	seenSeq := make(map[btree.Pointer]btree.Pointer)

	tf.mu.RLock()
	snapshot := tf.published
	srcByID := tf.byID
	srcBySeq := tf.bySeq
	tf.mu.RUnlock()

	if _, err := btree.Copy(srcByID, dstByID, snapshot.ByIDRoot, seenByID); err != nil {
		return fail(err)
	}
	if tf.versioned {
		if _, err := btree.Copy(srcBySeq, dstBySeq, snapshot.BySequenceRoot, seenSeq); err != nil {
			return fail(err)
		}
	}

	tf.mu.Lock()
	defer tf.mu.Unlock()

	active := tf.active
	newByID, err := btree.Copy(tf.byID, dstByID, active.ByIDRoot, seenByID)
	if err != nil {
		return fail(err)
	}
	var newBySeq btree.Pointer
	if tf.versioned {
		newBySeq, err = btree.Copy(tf.bySeq, dstBySeq, active.BySequenceRoot, seenSeq)
		if err != nil {
			return fail(err)
		}
	}

	rewritten := active
	rewritten.ByIDRoot = newByID
	rewritten.BySequenceRoot = newBySeq
	rewritten.TransactionID = txnID

	root := encodeTreeState(rewritten, tf.versioned)
	kind := pagewriter.HeaderUnversioned
	if tf.versioned {
		kind = pagewriter.HeaderVersioned
	}
	if _, err := dstWriter.AlignAndEmitRootHeader(dstCodec, kind, root); err != nil {
		return fail(err)
	}
	if err := dstWriter.Sync(); err != nil {
		return fail(err)
	}
	if err := dstFile.Close(); err != nil {
		if tlog != nil {
			tlog.Unlock(txn)
		}
		return err
	}

	if tlog != nil {
		if err := tlog.Commit(txn); err != nil {
			return err
		}
	}

	newIdentity, err := tf.fileManager.ReplaceWith(tf.path, compactPath)
	if err != nil {
		return err
	}

	if err := tf.file.Close(); err != nil {
		return err
	}
	newFile, newLength, _, err := tf.fileManager.OpenAppend(tf.path)
	if err != nil {
		return err
	}

	newWriter := pagewriter.New(newFile, newLength)

	// Build fresh chunkStore instances rather than mutating tf.byID/tf.bySeq's
	// fields in place: a reader that captured the old *chunkStore pointer via
	// readSnapshot before this point keeps the old file/writer pair instead
	// of racing this reassignment on the same struct's fields. That old file
	// is already closed above, so its reads fail and its identity re-check
	// reports TreeCompacted.
	tf.file = newFile
	tf.identity = newIdentity
	tf.writer = newWriter
	tf.byID = &chunkStore[ByIdIndex]{codec: tf.codec, writer: newWriter, reader: newFile, idxCo: byIdCodec{}, metrics: tf.metrics}
	if tf.versioned {
		tf.bySeq = &chunkStore[SequenceAggregate]{codec: tf.codec, writer: newWriter, reader: newFile, idxCo: sequenceCodec{}, metrics: tf.metrics}
	}
	tf.active = rewritten
	tf.published = rewritten
	return nil
}
