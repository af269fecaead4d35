// Package progress streams an upload source into an HTTP request body in bounded chunks
// and reports the number of bytes sent after every chunk.
package progress

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// maxConsecutiveEmptyReads matches the limit bufio applies to readers that return (0, nil).
const maxConsecutiveEmptyReads = 100

// Func is called after each chunk was written with the total number of bytes written so far.
// The next chunk is not read until Func returns. A non-nil error aborts the transfer.
type Func func(ctx context.Context, uploaded int64) error

// Body is a single use request body. It owns its source and closes it on Close.
type Body struct {
	source     io.Reader
	bufferSize uint32
	onProgress Func

	length      int64
	knownLength bool

	transferred int64
	serialized  int32

	closeOnce sync.Once
	closeErr  error
}

// NewBody creates a Body reading source in chunks of at most bufferSize bytes.
// If source is an io.Seeker the remaining length is computed once here; a failing probe
// leaves the length unknown instead of failing.
func NewBody(source io.Reader, bufferSize uint32, onProgress Func) (*Body, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if bufferSize == 0 {
		return nil, ErrInvalidBufferSize
	}

	length, known := probeLength(source)

	return &Body{
		source:      source,
		bufferSize:  bufferSize,
		onProgress:  onProgress,
		length:      length,
		knownLength: known,
	}, nil
}

// ComputeLength returns the body length and true, or 0 and false if the length is unknown.
func (b *Body) ComputeLength() (int64, bool) {
	if b.knownLength {
		return b.length, true
	}
	return 0, false
}

// Transferred returns the number of bytes written and acknowledged by the progress callback.
func (b *Body) Transferred() int64 {
	return atomic.LoadInt64(&b.transferred)
}

// SerializeTo copies the source into w chunk by chunk.
// Every chunk is written before the progress callback reporting it is called,
// and the next chunk is read only after the callback returned.
func (b *Body) SerializeTo(ctx context.Context, w io.Writer) error {
	if !atomic.CompareAndSwapInt32(&b.serialized, 0, 1) {
		return ErrAlreadySerialized
	}

	buf := make([]byte, b.bufferSize)
	emptyReads := 0

	for {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		chunk := buf
		if b.knownLength {
			remaining := b.length - atomic.LoadInt64(&b.transferred)
			if remaining <= 0 {
				return nil
			}
			if remaining < int64(len(chunk)) {
				chunk = chunk[:remaining]
			}
		}

		n, readErr := b.source.Read(chunk)
		if n < 0 || n > len(chunk) {
			return fmt.Errorf("%w: invalid read count %d", ErrSourceRead, n)
		}

		if n > 0 {
			emptyReads = 0
			if err := b.writeChunk(ctx, w, chunk[:n]); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("%w: %w", ErrSourceRead, readErr)
		}

		if n == 0 {
			emptyReads++
			if emptyReads >= maxConsecutiveEmptyReads {
				return fmt.Errorf("%w: %w", ErrSourceRead, io.ErrNoProgress)
			}
		}
	}
}

func (b *Body) writeChunk(ctx context.Context, w io.Writer, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	written, err := w.Write(chunk)
	if err == nil && written != len(chunk) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelled(ctxErr)
		}
		return fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}

	total := atomic.LoadInt64(&b.transferred) + int64(len(chunk))

	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	if b.onProgress != nil {
		if err := b.onProgress(ctx, total); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return cancelled(ctxErr)
			}
			return fmt.Errorf("%w: %w", ErrCallback, err)
		}
	}

	atomic.StoreInt64(&b.transferred, total)
	return nil
}

// Close closes the source if it is an io.Closer. Only the first call closes it,
// later calls return the first result.
func (b *Body) Close() error {
	b.closeOnce.Do(func() {
		if closer, ok := b.source.(io.Closer); ok {
			b.closeErr = closer.Close()
		}
	})
	return b.closeErr
}

func cancelled(err error) error {
	return fmt.Errorf("serialization cancelled: %w", err)
}
