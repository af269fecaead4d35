// Package compression encodes upload payloads with zstd while they are being streamed.
package compression

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// DefaultLevel is the zstd level used when no level is configured.
const DefaultLevel = 3

// ContentEncoding is the Content-Encoding header value of zstd encoded bodies.
const ContentEncoding = "zstd"

// ValidateLevel ...
func ValidateLevel(level int) error {
	if level < 1 || level > 19 {
		return fmt.Errorf("compression level should be between 1 and 19")
	}
	return nil
}

// NewWriter returns a zstd encoder writing to w. Close flushes the last frame but does not close w.
func NewWriter(w io.Writer, level int) (*zstd.Encoder, error) {
	if err := ValidateLevel(level); err != nil {
		return nil, err
	}

	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	return encoder, nil
}

// WriteArchive writes a zstd compressed tar stream of includePaths to w.
// Entries are named by their cleaned path, relative paths stay relative.
func WriteArchive(w io.Writer, includePaths []string, level int) error {
	zstdWriter, err := NewWriter(w, level)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zstdWriter)

	for _, p := range includePaths {
		path := filepath.Clean(p)
		if err := filepath.Walk(path, func(file string, fi os.FileInfo, e error) error {
			if e != nil {
				return e
			}
			return addToArchive(tw, file, fi)
		}); err != nil {
			return fmt.Errorf("iterate on files: %w", err)
		}
	}

	// produce tar
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	// produce zstd
	if err := zstdWriter.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}

	return nil
}

func addToArchive(tw *tar.Writer, file string, fi os.FileInfo) error {
	var link string
	if fi.Mode()&os.ModeSymlink != 0 {
		var err error
		if link, err = os.Readlink(file); err != nil {
			return fmt.Errorf("read symlink: %w", err)
		}
	}

	header, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return fmt.Errorf("create file info header: %w", err)
	}
	header.Name = filepath.ToSlash(filepath.Clean(file))

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar file header: %w", err)
	}

	// nothing more to do for non-regular files or directories
	if !fi.Mode().IsRegular() {
		return nil
	}

	data, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	if _, err := io.Copy(tw, data); err != nil {
		data.Close() //nolint:errcheck
		return fmt.Errorf("copy to archive: %w", err)
	}
	if err := data.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	return nil
}

// OpenArchive returns a reader of the zstd compressed tar stream of includePaths.
// Archiving starts on the first Read, so opening and closing an archive without reading it walks nothing.
// Closing the returned reader stops the archiver.
func OpenArchive(includePaths []string, level int) (io.ReadCloser, error) {
	if err := ValidateLevel(level); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	return &archiveReader{
		includePaths: includePaths,
		level:        level,
		pr:           pr,
		pw:           pw,
	}, nil
}

type archiveReader struct {
	includePaths []string
	level        int
	pr           *io.PipeReader
	pw           *io.PipeWriter
	start        sync.Once
}

func (a *archiveReader) Read(p []byte) (int, error) {
	a.start.Do(func() {
		go func() {
			a.pw.CloseWithError(WriteArchive(a.pw, a.includePaths, a.level)) //nolint:errcheck
		}()
	})
	return a.pr.Read(p)
}

func (a *archiveReader) Close() error {
	// an archive closed before its first Read never starts
	a.start.Do(func() {})
	return a.pr.Close()
}

// AreAllPathsEmpty checks if the provided paths are all nonexistent files or empty directories
func AreAllPathsEmpty(includePaths []string) bool {
	allEmpty := true

	for _, path := range includePaths {
		// Check if file exists at path
		fileInfo, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			// File doesn't exist
			continue
		}
		if err != nil {
			continue
		}

		// Check if it's a directory
		if !fileInfo.IsDir() {
			// Is a file and it exists
			allEmpty = false
			break
		}

		file, err := os.Open(path)
		if err != nil {
			continue
		}
		_, err = file.Readdirnames(1) // query only 1 child
		file.Close()                  //nolint:errcheck
		if errors.Is(err, io.EOF) {
			// Dir is empty
			continue
		}
		if err == nil {
			// Dir has files or dirs
			allEmpty = false
			break
		}
	}

	return allEmpty
}
