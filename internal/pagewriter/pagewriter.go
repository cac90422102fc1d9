// Package pagewriter implements the buffered append writer (spec §4.2):
// an 8 KiB buffered writer over a tree file that tracks the current
// end-of-file offset and emits page-aligned root headers. Grounded on
// freyjadb's pkg/store/log_writer.go (bufio.Writer over *os.File, a mutex
// guarding a running offset, large writes bypassing the buffer).
package pagewriter

import (
	"bufio"
	"sync"

	"github.com/ssargent/rootsdb/internal/chunk"
	"github.com/ssargent/rootsdb/internal/filemanager"
	"github.com/ssargent/rootsdb/pkg/rootserr"
)

// Magic is written as the first four bytes of every fresh tree file.
const Magic = "Nbri"

// PageSize is the alignment window root headers are anchored to (spec §3).
const PageSize = 256

// rootMagic precedes every root header's one-byte kind tag.
const rootMagic = "Nbr"

// bufferSize matches freyjadb's LogWriter buffer size.
const bufferSize = 8 * 1024

// HeaderKind tags which root shape a root header introduces (spec §3).
type HeaderKind byte

const (
	// HeaderVersioned tags a root carrying both a by-id and a by-sequence tree.
	HeaderVersioned HeaderKind = 2
	// HeaderUnversioned tags a by-id-only root.
	HeaderUnversioned HeaderKind = 3
)

// Writer is a buffered, page-aware append writer over a single tree file.
type Writer struct {
	file   filemanager.File
	buf    *bufio.Writer
	offset int64
	mu     sync.Mutex
	fresh  bool
}

// New wraps file, which must already be positioned at startOffset (the
// file's current length). startOffset of 0 means the file is brand new and
// the "Nbri" magic has not yet been written.
func New(file filemanager.File, startOffset int64) *Writer {
	return &Writer{
		file:   file,
		buf:    bufio.NewWriterSize(file, bufferSize),
		offset: startOffset,
		fresh:  startOffset == 0,
	}
}

// Write appends p, flushing the buffer first for payloads at least as large
// as the buffer itself, and returns the offset at which p began.
func (w *Writer) Write(p []byte) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(p)
}

func (w *Writer) writeLocked(p []byte) (int64, error) {
	if w.fresh {
		if _, err := w.buf.WriteString(Magic); err != nil {
			return 0, rootserr.Wrap(rootserr.IO, err, "write file magic")
		}
		w.offset += int64(len(Magic))
		w.fresh = false
	}

	start := w.offset
	if len(p) >= bufferSize {
		if err := w.buf.Flush(); err != nil {
			return 0, rootserr.Wrap(rootserr.IO, err, "flush before large write")
		}
		if _, err := w.file.Write(p); err != nil {
			return 0, rootserr.Wrap(rootserr.IO, err, "append %d bytes", len(p))
		}
	} else if len(p) > 0 {
		if _, err := w.buf.Write(p); err != nil {
			return 0, rootserr.Wrap(rootserr.IO, err, "buffer %d bytes", len(p))
		}
	}
	w.offset += int64(len(p))
	return start, nil
}

// WriteChunk encodes payload through codec and appends it (spec §4.2).
func (w *Writer) WriteChunk(codec *chunk.Codec, payload []byte) (int64, error) {
	encoded, err := codec.Encode(payload)
	if err != nil {
		return 0, err
	}
	return w.Write(encoded)
}

// AlignAndEmitRootHeader pads with filler bytes up to the next page-aligned
// offset, writes the "Nbr"+kind header there, then writes root as a chunk
// immediately after (spec §4.2, §4.3). The header's own magic is what must
// land on a PAGE_SIZE boundary (invariant 2 and the discovery loop in
// §4.3 both key off the header's position, not the chunk's), so alignment
// targets the header, not the chunk that follows it. It returns the
// page-aligned offset of the header.
func (w *Writer) AlignAndEmitRootHeader(codec *chunk.Codec, kind HeaderKind, root []byte) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fresh {
		if _, err := w.writeLocked(nil); err != nil {
			return 0, err
		}
	}

	target := (w.offset / PageSize) * PageSize
	if target < w.offset {
		target += PageSize
	}
	if pad := target - w.offset; pad > 0 {
		if _, err := w.writeLocked(make([]byte, pad)); err != nil {
			return 0, rootserr.Wrap(rootserr.IO, err, "pad to page boundary")
		}
	}

	header := []byte{rootMagic[0], rootMagic[1], rootMagic[2], byte(kind)}
	headerOffset, err := w.writeLocked(header)
	if err != nil {
		return 0, rootserr.Wrap(rootserr.IO, err, "write root header")
	}

	encoded, err := codec.Encode(root)
	if err != nil {
		return 0, err
	}
	if _, err := w.writeLocked(encoded); err != nil {
		return 0, err
	}
	return headerOffset, nil
}

// Flush pushes buffered bytes to the underlying file without fsyncing.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return rootserr.Wrap(rootserr.IO, err, "flush paged writer")
	}
	return nil
}

// Sync flushes and fsyncs the underlying file.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return rootserr.Wrap(rootserr.IO, err, "flush before sync")
	}
	if err := w.file.Sync(); err != nil {
		return rootserr.Wrap(rootserr.IO, err, "sync tree file")
	}
	return nil
}

// Offset returns the writer's current end-of-file offset.
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Finish flushes any remaining buffered bytes and returns the final
// end-of-file offset (spec §4.2).
func (w *Writer) Finish() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return 0, rootserr.Wrap(rootserr.IO, err, "finish paged writer")
	}
	return w.offset, nil
}
