// Package roots implements the tree root variants and the tree file
// (spec §4.3-§4.7): unversioned and versioned roots over internal/btree,
// root discovery, reads, modification, and online compaction. Grounded
// on original_source/nebari/src/tree/mod.rs and roots.rs for exact
// semantics, translated into freyjadb's idiom: exported constructors,
// (*TreeFile) receivers, fmt.Errorf-style wrapped errors (via
// pkg/rootserr), mutex-guarded state the way pkg/store/kv_store.go's
// KVStore guards isOpen/writer/reader with one mutex.
package roots

import (
	"encoding/binary"

	"github.com/ssargent/rootsdb/internal/btree"
	"github.com/ssargent/rootsdb/pkg/rootserr"
)

// ByIdStats is the default per-key/aggregated index for a by-id tree
// (spec §3): alive-key-count, deleted-key-count, total value bytes.
type ByIdStats struct {
	AliveKeys   uint64
	DeletedKeys uint64
	TotalBytes  uint64
}

func (s ByIdStats) add(o ByIdStats) ByIdStats {
	return ByIdStats{
		AliveKeys:   s.AliveKeys + o.AliveKeys,
		DeletedKeys: s.DeletedKeys + o.DeletedKeys,
		TotalBytes:  s.TotalBytes + o.TotalBytes,
	}
}

// ByIdIndex is the Idx type carried by every leaf/interior entry of a
// by-id tree. LastSequence/HasSequence are only meaningful for versioned
// trees: they record the tail sequence id for this key so the next write
// can chain the by-sequence tree's last_sequence field (spec §4.4).
type ByIdIndex struct {
	Stats        ByIdStats
	LastSequence uint64
	HasSequence  bool
}

// byIdReducer implements btree.Reducer[ByIdIndex] by summing ByIdStats;
// LastSequence/HasSequence carry no meaningful aggregate and are left
// zero above the leaf level.
type byIdReducer struct{}

func (byIdReducer) Reduce(raw []ByIdIndex) ByIdIndex {
	var out ByIdStats
	for _, r := range raw {
		out = out.add(r.Stats)
	}
	return ByIdIndex{Stats: out}
}

func (byIdReducer) Rereduce(reduced []ByIdIndex) ByIdIndex {
	var out ByIdStats
	for _, r := range reduced {
		out = out.add(r.Stats)
	}
	return ByIdIndex{Stats: out}
}

// byIdCodec implements btree.IndexCodec[ByIdIndex].
type byIdCodec struct{}

func (byIdCodec) EncodeIndex(idx ByIdIndex) []byte {
	buf := make([]byte, 25)
	binary.BigEndian.PutUint64(buf[0:8], idx.Stats.AliveKeys)
	binary.BigEndian.PutUint64(buf[8:16], idx.Stats.DeletedKeys)
	binary.BigEndian.PutUint64(buf[16:24], idx.Stats.TotalBytes)
	if idx.HasSequence {
		buf[24] = 1
	}
	return append(buf, encodeUint64(idx.LastSequence)...)
}

func (byIdCodec) DecodeIndex(b []byte) (ByIdIndex, error) {
	if len(b) != 33 {
		return ByIdIndex{}, rootserr.New(rootserr.DataIntegrity, "by-id index payload has %d bytes, want 33", len(b))
	}
	return ByIdIndex{
		Stats: ByIdStats{
			AliveKeys:   binary.BigEndian.Uint64(b[0:8]),
			DeletedKeys: binary.BigEndian.Uint64(b[8:16]),
			TotalBytes:  binary.BigEndian.Uint64(b[16:24]),
		},
		HasSequence:  b[24] == 1,
		LastSequence: binary.BigEndian.Uint64(b[25:33]),
	}, nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

var (
	_ btree.Reducer[ByIdIndex]    = byIdReducer{}
	_ btree.IndexCodec[ByIdIndex] = byIdCodec{}
)
