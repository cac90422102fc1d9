package roots

import (
	"io"

	"github.com/ssargent/rootsdb/internal/btree"
	"github.com/ssargent/rootsdb/internal/chunk"
	"github.com/ssargent/rootsdb/internal/pagewriter"
	"github.com/ssargent/rootsdb/pkg/metrics"
)

// chunkStore adapts a tree file's chunk.Codec + pagewriter.Writer +
// io.ReaderAt into a btree.Store[Idx], so internal/btree's modify/scan/
// reduce algorithms never see file I/O directly. One chunkStore instance
// backs the by-id tree (Idx = ByIdIndex); versioned trees use a second
// instance over the same codec/writer/reader backing the by-sequence
// tree (Idx = SequenceAggregate).
type chunkStore[Idx any] struct {
	codec   *chunk.Codec
	writer  *pagewriter.Writer
	reader  io.ReaderAt
	idxCo   btree.IndexCodec[Idx]
	metrics *metrics.Metrics
}

func (s *chunkStore[Idx]) ReadNode(ptr btree.Pointer) (*btree.Node[Idx], error) {
	data, err := s.codec.ReadChunk(s.reader, int64(ptr), true)
	if err != nil {
		return nil, err
	}
	return btree.DecodeNode[Idx](data, s.idxCo)
}

func (s *chunkStore[Idx]) WriteNode(n *btree.Node[Idx]) (btree.Pointer, error) {
	payload := btree.EncodeNode[Idx](n, s.idxCo)
	offset, err := s.codec.WriteChunk(s.writer, payload)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordChunkWrite("node")
	return btree.Pointer(offset), nil
}

func (s *chunkStore[Idx]) ReadValue(ptr btree.Pointer) ([]byte, error) {
	if ptr.IsZero() {
		return nil, nil
	}
	return s.codec.ReadChunk(s.reader, int64(ptr), true)
}

func (s *chunkStore[Idx]) WriteValue(data []byte) (btree.Pointer, error) {
	offset, err := s.codec.WriteChunk(s.writer, data)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordChunkWrite("value")
	return btree.Pointer(offset), nil
}

var _ btree.Store[ByIdIndex] = (*chunkStore[ByIdIndex])(nil)
var _ btree.Store[SequenceAggregate] = (*chunkStore[SequenceAggregate])(nil)
