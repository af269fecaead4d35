package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"sync"

	"github.com/bitrise-io/go-streamupload/compression"
	"github.com/bitrise-io/go-streamupload/progress"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// SourceOpener opens a fresh reader over the upload content. It is called once per attempt,
// the returned reader is owned and closed by the sender.
type SourceOpener func() (io.Reader, error)

// ProgressHandler receives the progress of an upload attempt. Returning an error aborts the upload without retrying.
type ProgressHandler func(event progress.Event) error

// AttemptHandler is called before an attempt starts sending, with the 1 based attempt number.
// The progress events that follow count from zero again.
type AttemptHandler func(attempt int)

// UploadParams ...
type UploadParams struct {
	// Method defaults to PUT.
	Method  string
	URL     string
	Headers map[string]string
	// Token is sent as a bearer token when not empty.
	Token string
	Open  SourceOpener
	// CompressionLevel enables zstd content encoding when greater than zero.
	CompressionLevel int
	// Request is passed to OnProgress as the event's Request. Defaults to URL.
	Request    interface{}
	OnProgress ProgressHandler
	OnAttempt  AttemptHandler
}

// UploadResult ...
type UploadResult struct {
	StatusCode int
	ETag       string
	// Attempts is the number of times the body was sent.
	Attempts int
}

// Sender uploads streamed bodies over HTTP and repeats failed attempts from the start of the source.
type Sender struct {
	client *retryablehttp.Client
	config Config
	logger log.Logger
}

// NewSender ...
func NewSender(config Config, logger log.Logger) *Sender {
	config = config.withDefaults()

	client := retryhttp.NewClient(logger)
	client.HTTPClient = config.HTTPClient
	client.RetryMax = config.MaxRetries
	client.RetryWaitMin = config.RetryWait
	if client.RetryWaitMax < config.RetryWait {
		client.RetryWaitMax = config.RetryWait
	}
	client.CheckRetry = checkUploadRetry
	client.RequestLogHook = countAttempt

	return &Sender{
		client: client,
		config: config,
		logger: logger,
	}
}

// CloseIdleConnections closes idle connections in the HTTP client.
func (s *Sender) CloseIdleConnections() {
	s.client.HTTPClient.CloseIdleConnections()
}

// Upload sends the content returned by params.Open as the request body.
func (s *Sender) Upload(ctx context.Context, params UploadParams) (UploadResult, error) {
	if err := validateUploadParams(params); err != nil {
		return UploadResult{}, err
	}
	method := params.Method
	if method == "" {
		method = http.MethodPut
	}

	state := &uploadState{}
	ctx = context.WithValue(ctx, uploadStateKey{}, state)

	bodyFunc := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		rb, err := s.openBody(ctx, params)
		if err != nil {
			return nil, err
		}
		attempt, sending := state.setBody(rb)
		if sending && params.OnAttempt != nil {
			params.OnAttempt(attempt)
		}
		return rb, nil
	})

	// retryablehttp opens the body once while building the request, only to read its Len().
	// That body is closed unread, it is not an attempt.
	state.setBuilding(true)
	req, err := retryablehttp.NewRequestWithContext(ctx, method, params.URL, bodyFunc)
	state.setBuilding(false)
	if err != nil {
		return UploadResult{}, fmt.Errorf("create request: %w", err)
	}
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}
	if params.Token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", params.Token))
	}
	if params.CompressionLevel > 0 {
		req.Header.Set("Content-Encoding", compression.ContentEncoding)
	}

	dumpReq := req.Request.Clone(ctx)
	if dumpReq.Header.Get("Authorization") != "" {
		dumpReq.Header.Set("Authorization", "[REDACTED]")
	}
	dump, err := httputil.DumpRequest(dumpReq, false)
	if err != nil {
		s.logger.Warnf("error while dumping request: %s", err)
	}
	s.logger.Debugf("Upload request dump: %s", string(dump))

	resp, err := s.client.Do(req)
	attempts := state.attempts()
	if err != nil {
		if resp != nil {
			resp.Body.Close() //nolint:errcheck
		}
		if serializeErr := state.bodyErr(); serializeErr != nil && !errors.Is(err, serializeErr) {
			return UploadResult{Attempts: attempts}, fmt.Errorf("%w (body: %s)", err, serializeErr)
		}
		return UploadResult{Attempts: attempts}, err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			s.logger.Printf(err.Error())
		}
	}(resp.Body)

	dump, err = httputil.DumpResponse(resp, true)
	if err != nil {
		s.logger.Warnf("error while dumping response: %s", err)
	}
	s.logger.Debugf("Upload response dump: %s", string(dump))

	result := UploadResult{
		StatusCode: resp.StatusCode,
		ETag:       resp.Header.Get("ETag"),
		Attempts:   attempts,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, unwrapError(resp)
	}

	return result, nil
}

func (s *Sender) openBody(ctx context.Context, params UploadParams) (*RequestBody, error) {
	source, err := params.Open()
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	body, err := newProgressBody(source, s.config.BufferSize, params)
	if err != nil {
		closeSource(source)
		return nil, err
	}

	if params.CompressionLevel > 0 {
		rb, err := NewCompressedRequestBody(ctx, body, params.CompressionLevel)
		if err != nil {
			body.Close() //nolint:errcheck
			return nil, err
		}
		return rb, nil
	}
	return NewRequestBody(ctx, body), nil
}

// newProgressBody creates the progress.Body of one attempt, translating its callbacks into events.
func newProgressBody(source io.Reader, bufferSize uint32, params UploadParams) (*progress.Body, error) {
	request := params.Request
	if request == nil {
		request = params.URL
	}

	totalSize := progress.SizeUnknown
	var onProgress progress.Func
	if params.OnProgress != nil {
		onProgress = func(_ context.Context, uploaded int64) error {
			event := progress.NewEvent(request, totalSize)
			event.UploadedSize = uploaded
			return params.OnProgress(*event)
		}
	}

	body, err := progress.NewBody(source, bufferSize, onProgress)
	if err != nil {
		return nil, err
	}
	if length, ok := body.ComputeLength(); ok {
		totalSize = length
	}
	return body, nil
}

func validateUploadParams(params UploadParams) error {
	if params.URL == "" {
		return fmt.Errorf("upload URL is empty")
	}
	if params.Open == nil {
		return fmt.Errorf("source opener is not set")
	}
	if params.CompressionLevel != 0 {
		if err := compression.ValidateLevel(params.CompressionLevel); err != nil {
			return err
		}
	}
	return nil
}

type uploadStateKey struct{}

// uploadState tracks the bodies created for one Upload call, so the retry policy can see why an attempt failed.
type uploadState struct {
	mu       sync.Mutex
	building bool
	body     *RequestBody
	opened   int
	attempt  int
}

func (u *uploadState) setBuilding(building bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.building = building
}

// setBody records the body of a new attempt and returns the attempt's number.
// It returns false for the body opened while the request is built.
func (u *uploadState) setBody(rb *RequestBody) (int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.building {
		return 0, false
	}
	u.body = rb
	u.opened++
	return u.opened, true
}

func (u *uploadState) bodyErr() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.body == nil {
		return nil
	}
	return u.body.Err()
}

func (u *uploadState) attempts() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.attempt
}

// countAttempt is called by retryablehttp before every attempt with the zero based retry number.
func countAttempt(_ retryablehttp.Logger, req *http.Request, retry int) {
	if state, ok := req.Context().Value(uploadStateKey{}).(*uploadState); ok {
		state.mu.Lock()
		state.attempt = retry + 1
		state.mu.Unlock()
	}
}

// checkUploadRetry stops retrying when the progress handler failed or the upload was cancelled,
// otherwise it falls back to retryablehttp's default policy.
func checkUploadRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if state, ok := ctx.Value(uploadStateKey{}).(*uploadState); ok {
		if bodyErr := state.bodyErr(); errors.Is(bodyErr, progress.ErrCallback) {
			return false, bodyErr
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func closeSource(source io.Reader) {
	if closer, ok := source.(io.Closer); ok {
		closer.Close() //nolint:errcheck
	}
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
