// Package chunk implements the on-disk chunk format (spec §4.1): a
// length-prefixed, CRC-32/BZIP2-checked, optionally-encrypted and
// optionally-compressed byte blob. It is the lowest layer of the engine,
// grounded on freyjadb's pkg/codec/record.go (length-prefixed, CRC'd
// records) generalized from a fixed key|value record to an opaque payload,
// since a tree's chunks hold either a serialized node or a raw value.
package chunk

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/ssargent/rootsdb/internal/crc32bzip2"
	"github.com/ssargent/rootsdb/pkg/rootserr"
)

// HeaderSize is the length of the length+CRC header preceding every chunk's
// payload on disk (spec §3: u32 length | u32 CRC-32/BZIP2).
const HeaderSize = 8

// MaxPayload is the largest payload a single chunk can carry (spec §3).
const MaxPayload = math.MaxUint32

// Vault is the opaque encryption collaborator consumed by the chunk codec
// (spec §6). A nil Vault means chunks are stored in plaintext.
type Vault interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Compressor is an optional value-compression collaborator composed with
// Vault: Compress runs before Encrypt on write, Decompress runs after
// Decrypt on read (see SPEC_FULL.md's vaultzstd module).
type Compressor interface {
	Compress(plain []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)
}

// Cache is the opaque block-cache collaborator keyed by (fileID, offset)
// (spec §6). A nil Cache disables caching.
type Cache interface {
	Get(fileID uint64, offset int64) ([]byte, bool)
	Insert(fileID uint64, offset int64, data []byte)
}

// Writer appends bytes to a tree file and reports the offset at which the
// write began. *pagewriter.Writer implements this.
type Writer interface {
	Write(p []byte) (offset int64, err error)
}

// Codec encodes and decodes chunks for a single tree file, wiring the
// optional Vault, Compressor and Cache collaborators together.
type Codec struct {
	Vault      Vault
	Compressor Compressor
	Cache      Cache
	FileID     uint64
}

// Encode transforms a payload into its on-disk chunk representation
// (compress, then encrypt, then frame with length+CRC) without writing it
// anywhere. Callers that need an offset use WriteChunk.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	data := payload
	if c.Compressor != nil {
		compressed, err := c.Compressor.Compress(data)
		if err != nil {
			return nil, rootserr.Wrap(rootserr.Other, err, "compress chunk payload")
		}
		data = compressed
	}
	if c.Vault != nil {
		enc, err := c.Vault.Encrypt(data)
		if err != nil {
			return nil, rootserr.Wrap(rootserr.Other, err, "encrypt chunk payload")
		}
		data = enc
	}
	if len(data) > MaxPayload {
		return nil, rootserr.New(rootserr.ValueTooLarge, "chunk payload of %d bytes exceeds max %d", len(data), MaxPayload)
	}
	buf := make([]byte, HeaderSize+len(data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(data)))
	binary.BigEndian.PutUint32(buf[4:8], crc32bzip2.Checksum(data))
	copy(buf[HeaderSize:], data)
	return buf, nil
}

// WriteChunk encodes payload and appends it via w, returning the offset at
// which the length header began (spec §4.1's write_chunk). Writes never
// populate the cache, so long compactions don't evict hotter entries.
func (c *Codec) WriteChunk(w Writer, payload []byte) (int64, error) {
	encoded, err := c.Encode(payload)
	if err != nil {
		return 0, err
	}
	offset, err := w.Write(encoded)
	if err != nil {
		return 0, rootserr.Wrap(rootserr.IO, err, "append chunk")
	}
	return offset, nil
}

// ReadChunk reads and decodes the chunk starting at offset in r, consulting
// and filling the cache on success (spec §4.1's read_chunk). validateCRC
// false skips the CRC check; every caller in this module, root discovery
// included, passes true.
func (c *Codec) ReadChunk(r io.ReaderAt, offset int64, validateCRC bool) ([]byte, error) {
	if c.Cache != nil {
		if data, ok := c.Cache.Get(c.FileID, offset); ok {
			return data, nil
		}
	}

	header := make([]byte, HeaderSize)
	if _, err := r.ReadAt(header, offset); err != nil {
		return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "read chunk header at offset %d", offset)
	}
	length := binary.BigEndian.Uint32(header[0:4])
	wantCRC := binary.BigEndian.Uint32(header[4:8])

	data := make([]byte, length)
	if length > 0 {
		if _, err := r.ReadAt(data, offset+HeaderSize); err != nil {
			return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "read chunk payload at offset %d", offset)
		}
	}

	if validateCRC {
		if got := crc32bzip2.Checksum(data); got != wantCRC {
			return nil, rootserr.New(rootserr.DataIntegrity, "crc mismatch at offset %d: got %#08x want %#08x", offset, got, wantCRC)
		}
	}

	if c.Vault != nil {
		dec, err := c.Vault.Decrypt(data)
		if err != nil {
			return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "decrypt chunk at offset %d", offset)
		}
		data = dec
	}
	if c.Compressor != nil {
		dec, err := c.Compressor.Decompress(data)
		if err != nil {
			return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "decompress chunk at offset %d", offset)
		}
		data = dec
	}

	if c.Cache != nil {
		c.Cache.Insert(c.FileID, offset, data)
	}
	return data, nil
}

// EncodedSize returns how many bytes payload would occupy on disk once
// compressed, encrypted and framed. It runs the full Encode and returns the
// length of the result.
func (c *Codec) EncodedSize(payload []byte) (int, error) {
	encoded, err := c.Encode(payload)
	if err != nil {
		return 0, err
	}
	return len(encoded), nil
}
