package pagewriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/rootsdb/internal/chunk"
	"github.com/ssargent/rootsdb/internal/filemanager"
)

func TestNewWriterEmitsMagicOnFirstWrite(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "pagewriter_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "t.nebari")
	mgr := filemanager.NewOSManager()
	f, size, _, err := mgr.OpenAppend(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	w := New(f, size)
	codec := &chunk.Codec{}

	off, err := w.WriteChunk(codec, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(Magic)), off, "first chunk should start right after the file magic")

	require.NoError(t, w.Sync())
	f.Close()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Magic, string(raw[:len(Magic)]))
}

func TestAlignAndEmitRootHeaderLandsOnPageBoundary(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "pagewriter_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "t.nebari")
	mgr := filemanager.NewOSManager()
	f, size, _, err := mgr.OpenAppend(path)
	require.NoError(t, err)

	w := New(f, size)
	codec := &chunk.Codec{}

	// Write a handful of small chunks so the header doesn't land right at
	// the start of the file, exercising the padding path.
	for i := 0; i < 3; i++ {
		_, err := w.WriteChunk(codec, []byte("leaf-or-value-chunk"))
		require.NoError(t, err)
	}

	headerOffset, err := w.AlignAndEmitRootHeader(codec, HeaderUnversioned, []byte("root-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), headerOffset%PageSize, "root header must start on a PAGE_SIZE boundary")

	require.NoError(t, w.Sync())
	f.Close()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Nbr", string(raw[headerOffset:headerOffset+3]))
	assert.Equal(t, byte(HeaderUnversioned), raw[headerOffset+3])
}

func TestFinishReturnsFinalOffset(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "pagewriter_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "t.nebari")
	mgr := filemanager.NewOSManager()
	f, size, _, err := mgr.OpenAppend(path)
	require.NoError(t, err)

	w := New(f, size)
	codec := &chunk.Codec{}
	_, err = w.WriteChunk(codec, []byte("abc"))
	require.NoError(t, err)

	final, err := w.Finish()
	require.NoError(t, err)
	assert.Equal(t, w.Offset(), final)
	f.Close()
}
