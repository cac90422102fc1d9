// Package vaultzstd implements chunk.Compressor with github.com/DataDog/zstd,
// a dependency the teacher's go.mod already carries indirectly but never
// imports. Wiring it gives chunk.Codec's optional compression stage
// (composed before encryption on write, after decryption on read) a
// concrete implementation.
package vaultzstd

import (
	"github.com/DataDog/zstd"

	"github.com/ssargent/rootsdb/pkg/rootserr"
)

// Compressor implements chunk.Compressor using zstd at a fixed level.
type Compressor struct {
	Level int
}

// New returns a Compressor at zstd's default compression level.
func New() *Compressor {
	return &Compressor{Level: zstd.DefaultCompression}
}

func (c *Compressor) Compress(data []byte) ([]byte, error) {
	out, err := zstd.CompressLevel(nil, data, c.level())
	if err != nil {
		return nil, rootserr.Wrap(rootserr.Other, err, "vaultzstd: compress")
	}
	return out, nil
}

func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := zstd.Decompress(nil, data)
	if err != nil {
		return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "vaultzstd: decompress")
	}
	return out, nil
}

func (c *Compressor) level() int {
	if c.Level == 0 {
		return zstd.DefaultCompression
	}
	return c.Level
}
