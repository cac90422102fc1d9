package roots

import (
	"encoding/binary"

	"github.com/ssargent/rootsdb/internal/btree"
	"github.com/ssargent/rootsdb/pkg/rootserr"
)

// UnversionedRoot is the by-id-only root shape (spec §3).
type UnversionedRoot struct {
	TransactionID uint64
	Stats         ByIdStats
	ByIDRoot      btree.Pointer
}

// VersionedRoot additionally carries a by-sequence secondary index
// sharing the same transactional commit (spec §3).
type VersionedRoot struct {
	TransactionID  uint64
	Stats          ByIdStats
	ByIDRoot       btree.Pointer
	BySequenceRoot btree.Pointer
	LastSequence   uint64
}

func encodeUnversionedRoot(r UnversionedRoot) []byte {
	buf := make([]byte, 0, 48)
	buf = append(buf, encodeUint64(r.TransactionID)...)
	buf = append(buf, encodeUint64(r.Stats.AliveKeys)...)
	buf = append(buf, encodeUint64(r.Stats.DeletedKeys)...)
	buf = append(buf, encodeUint64(r.Stats.TotalBytes)...)
	buf = append(buf, encodeUint64(uint64(r.ByIDRoot))...)
	return buf
}

func decodeUnversionedRoot(b []byte) (UnversionedRoot, error) {
	if len(b) != 40 {
		return UnversionedRoot{}, rootserr.New(rootserr.DataIntegrity, "unversioned root payload has %d bytes, want 40", len(b))
	}
	return UnversionedRoot{
		TransactionID: binary.BigEndian.Uint64(b[0:8]),
		Stats: ByIdStats{
			AliveKeys:   binary.BigEndian.Uint64(b[8:16]),
			DeletedKeys: binary.BigEndian.Uint64(b[16:24]),
			TotalBytes:  binary.BigEndian.Uint64(b[24:32]),
		},
		ByIDRoot: btree.Pointer(binary.BigEndian.Uint64(b[32:40])),
	}, nil
}

func encodeVersionedRoot(r VersionedRoot) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, encodeUint64(r.TransactionID)...)
	buf = append(buf, encodeUint64(r.Stats.AliveKeys)...)
	buf = append(buf, encodeUint64(r.Stats.DeletedKeys)...)
	buf = append(buf, encodeUint64(r.Stats.TotalBytes)...)
	buf = append(buf, encodeUint64(uint64(r.ByIDRoot))...)
	buf = append(buf, encodeUint64(uint64(r.BySequenceRoot))...)
	buf = append(buf, encodeUint64(r.LastSequence)...)
	return buf
}

func decodeVersionedRoot(b []byte) (VersionedRoot, error) {
	if len(b) != 56 {
		return VersionedRoot{}, rootserr.New(rootserr.DataIntegrity, "versioned root payload has %d bytes, want 56", len(b))
	}
	return VersionedRoot{
		TransactionID: binary.BigEndian.Uint64(b[0:8]),
		Stats: ByIdStats{
			AliveKeys:   binary.BigEndian.Uint64(b[8:16]),
			DeletedKeys: binary.BigEndian.Uint64(b[16:24]),
			TotalBytes:  binary.BigEndian.Uint64(b[24:32]),
		},
		ByIDRoot:       btree.Pointer(binary.BigEndian.Uint64(b[32:40])),
		BySequenceRoot: btree.Pointer(binary.BigEndian.Uint64(b[40:48])),
		LastSequence:   binary.BigEndian.Uint64(b[48:56]),
	}, nil
}
