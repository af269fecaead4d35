package compression

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLevel(t *testing.T) {
	require.NoError(t, ValidateLevel(1))
	require.NoError(t, ValidateLevel(19))
	require.Error(t, ValidateLevel(0))
	require.Error(t, ValidateLevel(20))
}

func TestNewWriter_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("streamed payload "), 1000)

	var compressed bytes.Buffer
	w, err := NewWriter(&compressed, DefaultLevel)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Less(t, compressed.Len(), len(payload))

	decoder, err := zstd.NewReader(&compressed)
	require.NoError(t, err)
	defer decoder.Close()

	got, err := io.ReadAll(decoder)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestNewWriter_InvalidLevel(t *testing.T) {
	_, err := NewWriter(io.Discard, 42)
	require.Error(t, err)
}

func TestOpenArchive(t *testing.T) {
	basePath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(basePath, "dir", "nested"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(basePath, "dir", "a.txt"), []byte("first"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(basePath, "dir", "nested", "b.txt"), []byte("second"), 0600))

	archive, err := OpenArchive([]string{filepath.Join(basePath, "dir")}, DefaultLevel)
	require.NoError(t, err)
	defer archive.Close()

	decoder, err := zstd.NewReader(archive)
	require.NoError(t, err)
	defer decoder.Close()

	contents := map[string]string{}
	var names []string
	tr := tar.NewReader(decoder)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		names = append(names, header.Name)
		if header.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			contents[filepath.Base(header.Name)] = string(data)
		}
	}

	sort.Strings(names)
	want := []string{
		filepath.ToSlash(filepath.Join(basePath, "dir")),
		filepath.ToSlash(filepath.Join(basePath, "dir", "a.txt")),
		filepath.ToSlash(filepath.Join(basePath, "dir", "nested")),
		filepath.ToSlash(filepath.Join(basePath, "dir", "nested", "b.txt")),
	}
	assert.Equal(t, want, names)
	assert.Equal(t, map[string]string{"a.txt": "first", "b.txt": "second"}, contents)
}

func TestOpenArchive_MissingPath(t *testing.T) {
	archive, err := OpenArchive([]string{filepath.Join(t.TempDir(), "missing")}, DefaultLevel)
	require.NoError(t, err)
	defer archive.Close()

	_, err = io.ReadAll(archive)
	require.Error(t, err)
}

func TestOpenArchive_CloseBeforeRead(t *testing.T) {
	archive, err := OpenArchive([]string{filepath.Join(t.TempDir(), "missing")}, DefaultLevel)
	require.NoError(t, err)

	require.NoError(t, archive.Close())

	// the archiver never ran, so the missing path is not reported
	_, err = archive.Read(make([]byte, 8))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestAreAllPathsEmpty(t *testing.T) {
	// Set up test dir structure
	basePath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(basePath, "empty_dir"), 0700))
	require.NoError(t, os.MkdirAll(filepath.Join(basePath, "dir_with_dir_child", "nested_empty_dir"), 0700))
	require.NoError(t, os.MkdirAll(filepath.Join(basePath, "first_level", "second_level"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(basePath, "first_level", "second_level", "nested_file.txt"), []byte("hello"), 0700))

	tests := []struct {
		name         string
		includePaths []string
		want         bool
	}{
		{
			name:         "single empty dir",
			includePaths: []string{filepath.Join(basePath, "empty_dir")},
			want:         true,
		},
		{
			name:         "file",
			includePaths: []string{filepath.Join(basePath, "first_level", "second_level", "nested_file.txt")},
			want:         false,
		},
		{
			name:         "empty dir within dir",
			includePaths: []string{filepath.Join(basePath, "dir_with_dir_child")},
			want:         false,
		},
		{
			name:         "nonexistent dir",
			includePaths: []string{filepath.Join(basePath, "this doesn't exist")},
			want:         true,
		},
		{
			name: "empty and non-empty paths",
			includePaths: []string{
				filepath.Join(basePath, "this doesn't exist"),
				filepath.Join(basePath, "empty_dir"),
				filepath.Join(basePath, "first_level"),
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AreAllPathsEmpty(tt.includePaths))
		})
	}
}
