package roots

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ssargent/rootsdb/internal/btree"
	"github.com/ssargent/rootsdb/internal/filemanager"
	"github.com/ssargent/rootsdb/pkg/rootserr"
	"github.com/ssargent/rootsdb/pkg/txnlog"
)

func openTestTree(t *testing.T, fm filemanager.Manager, tlog txnlog.Manager, dir, name string, versioned bool) *TreeFile {
	t.Helper()
	tf, err := Open(fm, tlog, name, filepath.Join(dir, name+".nebari"), TreeFileConfig{MaxOrder: 8, Versioned: versioned})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tf
}

func mustGet(t *testing.T, tf *TreeFile, key string) string {
	t.Helper()
	v, found, err := tf.Get([]byte(key), false)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	if !found {
		t.Fatalf("Get(%q): not found", key)
	}
	return string(v)
}

func TestTreeFileSetAndGetSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	fm := filemanager.NewOSManager()
	tlog := txnlog.NewMemManager()

	tf := openTestTree(t, fm, tlog, dir, "widgets", false)

	for _, kv := range []struct{ k, v string }{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		changed, err := tf.Modify(NewSet(ModeSync, [][]byte{[]byte(kv.k)}, []byte(kv.v)), 0)
		if err != nil {
			t.Fatalf("Modify set %q: %v", kv.k, err)
		}
		if !changed {
			t.Fatalf("Modify set %q: expected changed", kv.k)
		}
	}

	if got := mustGet(t, tf, "b"); got != "2" {
		t.Fatalf("Get(b) = %q, want 2", got)
	}
	if tf.Stats(false).AliveKeys != 3 {
		t.Fatalf("AliveKeys = %d, want 3", tf.Stats(false).AliveKeys)
	}
	if err := tf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openTestTree(t, fm, tlog, dir, "widgets", false)
	defer reopened.Close()
	if got := mustGet(t, reopened, "a"); got != "1" {
		t.Fatalf("reopened Get(a) = %q, want 1", got)
	}
	if got := mustGet(t, reopened, "c"); got != "3" {
		t.Fatalf("reopened Get(c) = %q, want 3", got)
	}
	if reopened.Stats(false).AliveKeys != 3 {
		t.Fatalf("reopened AliveKeys = %d, want 3", reopened.Stats(false).AliveKeys)
	}
}

func TestTreeFileRemoveDeletesKey(t *testing.T) {
	dir := t.TempDir()
	fm := filemanager.NewOSManager()
	tlog := txnlog.NewMemManager()
	tf := openTestTree(t, fm, tlog, dir, "widgets", false)
	defer tf.Close()

	if _, err := tf.Modify(NewSet(ModeSync, [][]byte{[]byte("k")}, []byte("v")), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	changed, err := tf.Modify(NewRemove(ModeSync, [][]byte{[]byte("k")}), 0)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !changed {
		t.Fatalf("expected remove to report changed")
	}
	if _, found, err := tf.Get([]byte("k"), false); err != nil || found {
		t.Fatalf("Get after remove: found=%v err=%v", found, err)
	}
	stats := tf.Stats(false)
	if stats.AliveKeys != 0 || stats.DeletedKeys != 1 {
		t.Fatalf("stats after remove = %+v, want AliveKeys=0 DeletedKeys=1", stats)
	}
}

func TestTreeFileCompareSwapConflictLeavesValueUnchanged(t *testing.T) {
	dir := t.TempDir()
	fm := filemanager.NewOSManager()
	tlog := txnlog.NewMemManager()
	tf := openTestTree(t, fm, tlog, dir, "widgets", false)
	defer tf.Close()

	if _, err := tf.Modify(NewSet(ModeSync, [][]byte{[]byte("k")}, []byte("v1")), 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	cas := NewCompareSwap(ModeSync, [][]byte{[]byte("k")}, compareAndSwapFunc([]byte("wrong"), []byte("v2")))
	_, err := tf.Modify(cas, 0)
	if err == nil {
		t.Fatalf("expected conflict error")
	}
	if !rootserr.Is(err, rootserr.Conflict) {
		t.Fatalf("err = %v, want Conflict", err)
	}
	if got := mustGet(t, tf, "k"); got != "v1" {
		t.Fatalf("value after failed cas = %q, want v1", got)
	}
}

func TestTreeFileSkipAllReportsNoChange(t *testing.T) {
	dir := t.TempDir()
	fm := filemanager.NewOSManager()
	tlog := txnlog.NewMemManager()
	tf := openTestTree(t, fm, tlog, dir, "widgets", false)
	defer tf.Close()

	skipAll := func(key []byte, cur []byte, found bool) (KeyOperation, error) {
		return KeyOperation{Kind: btree.KeySkip}, nil
	}
	changed, err := tf.Modify(NewCompareSwap(ModeSync, [][]byte{[]byte("k")}, skipAll), 0)
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if changed {
		t.Fatalf("expected no change for all-skip modification")
	}
}

func TestTreeFileVersionedMirrorsBySequence(t *testing.T) {
	dir := t.TempDir()
	fm := filemanager.NewOSManager()
	tlog := txnlog.NewMemManager()
	tf := openTestTree(t, fm, tlog, dir, "events", true)
	defer tf.Close()

	for _, kv := range []struct{ k, v string }{{"a", "1"}, {"b", "2"}} {
		if _, err := tf.Modify(NewSet(ModeSync, [][]byte{[]byte(kv.k)}, []byte(kv.v)), 0); err != nil {
			t.Fatalf("set %q: %v", kv.k, err)
		}
	}

	state := tf.snapshot(false)
	if state.LastSequence != 2 {
		t.Fatalf("LastSequence = %d, want 2", state.LastSequence)
	}

	var count int
	err := btree.Scan(tf.bySeq, state.BySequenceRoot, true, btree.KeyRange{}, nil, nil, func(key []byte, idx SequenceAggregate, value []byte) (bool, error) {
		rec, err := decodeSequenceRecord(value)
		if err != nil {
			return false, err
		}
		if rec.Removed {
			t.Fatalf("unexpected tombstone for key %q", rec.Key)
		}
		count++
		return true, nil
	})
	if err != nil {
		t.Fatalf("scan by-sequence: %v", err)
	}
	if count != 2 {
		t.Fatalf("by-sequence entry count = %d, want 2", count)
	}
}

func TestTreeFileReduceRespectsKeyRange(t *testing.T) {
	dir := t.TempDir()
	fm := filemanager.NewOSManager()
	tlog := txnlog.NewMemManager()
	tf := openTestTree(t, fm, tlog, dir, "widgets", false)
	defer tf.Close()

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		if _, err := tf.Modify(NewSet(ModeSync, [][]byte{[]byte(k)}, []byte("v")), 0); err != nil {
			t.Fatalf("set %q: %v", k, err)
		}
	}

	full, err := tf.Reduce(btree.KeyRange{}, false)
	if err != nil {
		t.Fatalf("Reduce full: %v", err)
	}
	if full.Stats.AliveKeys != 5 {
		t.Fatalf("full AliveKeys = %d, want 5", full.Stats.AliveKeys)
	}

	bounded, err := tf.Reduce(btree.KeyRange{Start: []byte("b"), End: []byte("c")}, false)
	if err != nil {
		t.Fatalf("Reduce bounded: %v", err)
	}
	if bounded.Stats.AliveKeys != 2 {
		t.Fatalf("bounded AliveKeys = %d, want 2 (b,c)", bounded.Stats.AliveKeys)
	}
}

// TestTreeFileRecoversFromTornFinalWrite simulates a crash that leaves the
// final root header incomplete: spec §4.3's root discovery must walk
// backward past it and recover the last fully-committed root instead of
// failing to open.
func TestTreeFileRecoversFromTornFinalWrite(t *testing.T) {
	dir := t.TempDir()
	fm := filemanager.NewOSManager()
	tlog := txnlog.NewMemManager()
	path := filepath.Join(dir, "widgets.nebari")

	tf, err := Open(fm, tlog, "widgets", path, TreeFileConfig{MaxOrder: 8})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 40; i++ {
		k := []byte{byte(i)}
		if _, err := tf.Modify(NewSet(ModeSync, [][]byte{k}, []byte("v")), 0); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
	if err := tf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-8); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	reopened, err := Open(fm, tlog, "widgets", path, TreeFileConfig{MaxOrder: 8})
	if err != nil {
		t.Fatalf("reopen after torn final write: %v", err)
	}
	defer reopened.Close()

	if _, found, err := reopened.Get([]byte{0}, false); err != nil || !found {
		t.Fatalf("Get after recovery: found=%v err=%v", found, err)
	}
}

// TestTreeFileConcurrentWritesReadsAndCompactDoNotRace drives four
// concurrent writers plus reader loops against a tree while a fifth
// goroutine repeatedly compacts it (spec §8's S5 scenario: "four workers
// ... while a fifth thread loops compact()"). Readers racing an in-flight
// compaction must only ever see a clean result or rootserr.TreeCompacted —
// never a raw I/O error from a closed file handle or a corrupt read,
// which would mean tf.byID/tf.bySeq were mutated out from under an
// in-flight traversal instead of swapped.
func TestTreeFileConcurrentWritesReadsAndCompactDoNotRace(t *testing.T) {
	dir := t.TempDir()
	fm := filemanager.NewOSManager()
	tlog := txnlog.NewMemManager()
	tf := openTestTree(t, fm, tlog, dir, "widgets", false)
	defer tf.Close()

	const writers = 4
	const writesPerWriter = 25

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < writesPerWriter; i++ {
				k := []byte(fmt.Sprintf("writer-%d-key-%04d", w, i))
				if _, err := tf.Modify(NewSet(ModeSync, [][]byte{k}, []byte("v")), 0); err != nil {
					t.Errorf("writer %d set %d: %v", w, i, err)
					return
				}
			}
		}(w)
	}

	stop := make(chan struct{})
	var compactRuns int32

	compactDone := make(chan struct{})
	go func() {
		defer close(compactDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := tf.Compact(tlog); err != nil {
				t.Errorf("compact: %v", err)
				return
			}
			atomic.AddInt32(&compactRuns, 1)
			time.Sleep(time.Millisecond)
		}
	}()

	var readErrs int32
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, _, err := tf.Get([]byte("writer-0-key-0000"), false); err != nil && !rootserr.Is(err, rootserr.TreeCompacted) {
				atomic.AddInt32(&readErrs, 1)
				t.Errorf("Get during compaction: %v", err)
				return
			}
			err := tf.Scan(btree.KeyRange{}, true, false, func(key, value []byte) (bool, error) {
				return true, nil
			})
			if err != nil && !rootserr.Is(err, rootserr.TreeCompacted) {
				atomic.AddInt32(&readErrs, 1)
				t.Errorf("Scan during compaction: %v", err)
				return
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-compactDone
	<-readerDone

	if atomic.LoadInt32(&compactRuns) == 0 {
		t.Fatalf("expected at least one compaction to complete concurrently with writers")
	}
	if atomic.LoadInt32(&readErrs) != 0 {
		t.Fatalf("reader observed %d non-TreeCompacted errors", readErrs)
	}

	for w := 0; w < writers; w++ {
		for i := 0; i < writesPerWriter; i++ {
			k := []byte(fmt.Sprintf("writer-%d-key-%04d", w, i))
			if _, found, err := tf.Get(k, false); err != nil || !found {
				t.Fatalf("final Get(%s): found=%v err=%v", k, found, err)
			}
		}
	}
}

func TestTreeFileCompactPreservesData(t *testing.T) {
	dir := t.TempDir()
	fm := filemanager.NewOSManager()
	tlog := txnlog.NewMemManager()
	tf := openTestTree(t, fm, tlog, dir, "widgets", false)
	defer tf.Close()

	for i := 0; i < 20; i++ {
		k := []byte{byte('a' + i%26), byte(i)}
		if _, err := tf.Modify(NewSet(ModeSync, [][]byte{k}, []byte("value")), 0); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
	for i := 0; i < 10; i++ {
		k := []byte{byte('a' + i%26), byte(i)}
		if _, err := tf.Modify(NewRemove(ModeSync, [][]byte{k}), 0); err != nil {
			t.Fatalf("remove %d: %v", i, err)
		}
	}

	beforeIdentity := tf.Identity()
	if err := tf.Compact(tlog); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if tf.Identity() == beforeIdentity {
		t.Fatalf("Compact did not change file identity")
	}

	for i := 10; i < 20; i++ {
		k := []byte{byte('a' + i%26), byte(i)}
		if _, found, err := tf.Get(k, false); err != nil || !found {
			t.Fatalf("Get after compact for key %d: found=%v err=%v", i, found, err)
		}
	}
	for i := 0; i < 10; i++ {
		k := []byte{byte('a' + i%26), byte(i)}
		if _, found, err := tf.Get(k, false); err != nil || found {
			t.Fatalf("Get after compact for removed key %d: found=%v err=%v", i, found, err)
		}
	}
}
