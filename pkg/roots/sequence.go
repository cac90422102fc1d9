package roots

import (
	"encoding/binary"

	"github.com/ssargent/rootsdb/internal/btree"
	"github.com/ssargent/rootsdb/pkg/rootserr"
)

// SequenceID is a versioned tree's monotonically increasing write
// identifier (spec §3, GLOSSARY).
type SequenceID uint64

// encodeSequenceID renders id as the by-sequence tree's 8-byte big-endian
// leaf key, so ascending byte-compare order matches ascending SequenceID
// order (spec §8 invariant 8: "scanning sequences ascending yields
// strictly increasing sequence ids").
func encodeSequenceID(id SequenceID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func decodeSequenceID(b []byte) SequenceID {
	return SequenceID(binary.BigEndian.Uint64(b))
}

// SequenceAggregate is the Idx for the by-sequence tree: just a count of
// entries, since the interesting content (key, last_sequence, value
// pointer) lives in each entry's value blob rather than its index.
type SequenceAggregate struct {
	Count uint64
}

type sequenceReducer struct{}

func (sequenceReducer) Reduce(raw []SequenceAggregate) SequenceAggregate {
	var out SequenceAggregate
	out.Count = uint64(len(raw))
	return out
}

func (sequenceReducer) Rereduce(reduced []SequenceAggregate) SequenceAggregate {
	var out SequenceAggregate
	for _, r := range reduced {
		out.Count += r.Count
	}
	return out
}

type sequenceCodec struct{}

func (sequenceCodec) EncodeIndex(idx SequenceAggregate) []byte { return encodeUint64(idx.Count) }

func (sequenceCodec) DecodeIndex(b []byte) (SequenceAggregate, error) {
	if len(b) != 8 {
		return SequenceAggregate{}, rootserr.New(rootserr.DataIntegrity, "sequence index payload has %d bytes, want 8", len(b))
	}
	return SequenceAggregate{Count: binary.BigEndian.Uint64(b)}, nil
}

// SequenceRecord is the by-sequence tree's per-entry value payload (spec
// §3: "SequenceId(u64) -> (key, last_sequence, embedded-index,
// value-location?)"). It is stored as an ordinary chunk-backed value, not
// as the tree's Idx, since it carries variable-length data (the key).
type SequenceRecord struct {
	Key             []byte
	HasLastSequence bool
	LastSequence    uint64
	Removed         bool
	Value           btree.Pointer
}

func encodeSequenceRecord(r SequenceRecord) []byte {
	buf := make([]byte, 0, 21+len(r.Key))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(r.Key)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, r.Key...)
	flags := byte(0)
	if r.HasLastSequence {
		flags |= 1
	}
	if r.Removed {
		flags |= 2
	}
	buf = append(buf, flags)
	buf = append(buf, encodeUint64(r.LastSequence)...)
	buf = append(buf, encodeUint64(uint64(r.Value))...)
	return buf
}

func decodeSequenceRecord(b []byte) (SequenceRecord, error) {
	if len(b) < 4 {
		return SequenceRecord{}, rootserr.New(rootserr.DataIntegrity, "sequence record too short")
	}
	klen := binary.BigEndian.Uint32(b[0:4])
	rest := b[4:]
	if uint32(len(rest)) < klen+1+8+8 {
		return SequenceRecord{}, rootserr.New(rootserr.DataIntegrity, "sequence record truncated")
	}
	key := append([]byte(nil), rest[:klen]...)
	rest = rest[klen:]
	flags := rest[0]
	rest = rest[1:]
	lastSeq := binary.BigEndian.Uint64(rest[:8])
	rest = rest[8:]
	valPtr := binary.BigEndian.Uint64(rest[:8])
	return SequenceRecord{
		Key:             key,
		HasLastSequence: flags&1 != 0,
		Removed:         flags&2 != 0,
		LastSequence:    lastSeq,
		Value:           btree.Pointer(valPtr),
	}, nil
}

var (
	_ btree.Reducer[SequenceAggregate]    = sequenceReducer{}
	_ btree.IndexCodec[SequenceAggregate] = sequenceCodec{}
)
