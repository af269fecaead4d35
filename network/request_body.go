package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/bitrise-io/go-streamupload/compression"
	"github.com/bitrise-io/go-streamupload/progress"
)

// RequestBody adapts a progress.Body to the io.ReadCloser an http.Request expects.
// The body is serialized on a separate goroutine through a pipe, started by the first Read.
// It implements retryablehttp's LenReader so a known length ends up in Content-Length.
type RequestBody struct {
	ctx   context.Context
	body  *progress.Body
	level int

	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	started bool
	closed  bool
	err     error
	done    chan struct{}
}

// NewRequestBody ...
func NewRequestBody(ctx context.Context, body *progress.Body) *RequestBody {
	pr, pw := io.Pipe()
	return &RequestBody{
		ctx:  ctx,
		body: body,
		pr:   pr,
		pw:   pw,
		done: make(chan struct{}),
	}
}

// NewCompressedRequestBody returns a RequestBody sending the body zstd encoded with the given level.
// The encoded length is not known in advance, so the request is sent with chunked transfer encoding.
func NewCompressedRequestBody(ctx context.Context, body *progress.Body, level int) (*RequestBody, error) {
	if err := compression.ValidateLevel(level); err != nil {
		return nil, err
	}
	rb := NewRequestBody(ctx, body)
	rb.level = level
	return rb, nil
}

// ContentLength returns the number of bytes the request body will have, or -1 if unknown.
func (r *RequestBody) ContentLength() int64 {
	if r.level > 0 {
		return -1
	}
	if length, ok := r.body.ComputeLength(); ok {
		return length
	}
	return -1
}

// Len implements retryablehttp.LenReader. 0 means unknown for outgoing requests.
func (r *RequestBody) Len() int {
	if length := r.ContentLength(); length > 0 {
		return int(length)
	}
	return 0
}

// Read implements io.Reader.
func (r *RequestBody) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if !r.started {
		r.started = true
		go r.serialize()
	}
	r.mu.Unlock()

	return r.pr.Read(p)
}

// Close stops the serialization if it is still running and closes the underlying body.
// The source is closed before waiting for the serializer, so a Read blocked on the source returns.
func (r *RequestBody) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	r.mu.Unlock()

	r.pr.Close() //nolint:errcheck
	err := r.body.Close()
	if started {
		<-r.done
	}
	return err
}

// Err returns the serialization result once the pipe was closed by the writer side.
func (r *RequestBody) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Transferred returns the number of source bytes sent so far.
func (r *RequestBody) Transferred() int64 {
	return r.body.Transferred()
}

func (r *RequestBody) serialize() {
	defer close(r.done)

	err := r.writeBody()

	r.mu.Lock()
	r.err = err
	r.mu.Unlock()

	r.pw.CloseWithError(err) //nolint:errcheck
}

func (r *RequestBody) writeBody() error {
	if r.level == 0 {
		return r.body.SerializeTo(r.ctx, r.pw)
	}

	encoder, err := compression.NewWriter(r.pw, r.level)
	if err != nil {
		return err
	}
	if err := r.body.SerializeTo(r.ctx, encoder); err != nil {
		encoder.Close() //nolint:errcheck
		return err
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("%w: flush zstd frame: %w", progress.ErrSinkWrite, err)
	}
	return nil
}

// NewRequest creates a request streaming body. Content-Length is set when the body length is known,
// otherwise the request uses chunked transfer encoding.
func NewRequest(ctx context.Context, method, url string, body *progress.Body) (*http.Request, error) {
	rb := NewRequestBody(ctx, body)

	req, err := http.NewRequestWithContext(ctx, method, url, rb)
	if err != nil {
		rb.Close() //nolint:errcheck
		return nil, err
	}

	req.ContentLength = rb.ContentLength()
	if req.ContentLength == 0 {
		req.Body = http.NoBody
		if err := rb.Close(); err != nil {
			return nil, fmt.Errorf("close empty body: %w", err)
		}
	}

	return req, nil
}
