package btree

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/ssargent/rootsdb/pkg/rootserr"
)

const (
	kindLeaf     byte = 0
	kindInterior byte = 1
)

func writeBlob(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return []byte{}, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// EncodeNode serializes n to bytes using codec to (de)serialize its Idx
// values. The format is implementation-defined (spec §6 only requires
// round-tripping): one kind byte, a u32 entry count, then per-entry
// length-prefixed key/max-key, length-prefixed encoded index, and an 8-byte
// pointer.
func EncodeNode[Idx any](n *Node[Idx], codec IndexCodec[Idx]) []byte {
	var buf bytes.Buffer
	if n.Leaf {
		buf.WriteByte(kindLeaf)
		var countBuf [4]byte
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(n.Entries)))
		buf.Write(countBuf[:])
		for _, e := range n.Entries {
			writeBlob(&buf, e.Key)
			writeBlob(&buf, codec.EncodeIndex(e.Index))
			writeUint64(&buf, uint64(e.Value))
		}
	} else {
		buf.WriteByte(kindInterior)
		var countBuf [4]byte
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(n.Children)))
		buf.Write(countBuf[:])
		for _, c := range n.Children {
			writeBlob(&buf, c.MaxKey)
			writeBlob(&buf, codec.EncodeIndex(c.Index))
			writeUint64(&buf, uint64(c.Child))
		}
	}
	return buf.Bytes()
}

// DecodeNode is EncodeNode's inverse.
func DecodeNode[Idx any](data []byte, codec IndexCodec[Idx]) (*Node[Idx], error) {
	if len(data) < 5 {
		return nil, rootserr.New(rootserr.DataIntegrity, "node payload too short (%d bytes)", len(data))
	}
	r := bytes.NewReader(data)
	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "read node kind")
	}
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "read node entry count")
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	n := &Node[Idx]{Leaf: kindByte == kindLeaf}
	if n.Leaf {
		n.Entries = make([]KeyEntry[Idx], 0, count)
		for i := uint32(0); i < count; i++ {
			key, err := readBlob(r)
			if err != nil {
				return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "read leaf key")
			}
			idxBytes, err := readBlob(r)
			if err != nil {
				return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "read leaf index")
			}
			idx, err := codec.DecodeIndex(idxBytes)
			if err != nil {
				return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "decode leaf index")
			}
			ptr, err := readUint64(r)
			if err != nil {
				return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "read leaf value pointer")
			}
			n.Entries = append(n.Entries, KeyEntry[Idx]{Key: key, Index: idx, Value: Pointer(ptr)})
		}
	} else {
		n.Children = make([]ChildEntry[Idx], 0, count)
		for i := uint32(0); i < count; i++ {
			maxKey, err := readBlob(r)
			if err != nil {
				return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "read child max key")
			}
			idxBytes, err := readBlob(r)
			if err != nil {
				return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "read child index")
			}
			idx, err := codec.DecodeIndex(idxBytes)
			if err != nil {
				return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "decode child index")
			}
			ptr, err := readUint64(r)
			if err != nil {
				return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "read child pointer")
			}
			n.Children = append(n.Children, ChildEntry[Idx]{MaxKey: maxKey, Index: idx, Child: Pointer(ptr)})
		}
	}
	return n, nil
}
