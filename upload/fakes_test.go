package upload

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-streamupload/network"
	"github.com/bitrise-io/go-streamupload/progress"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	return repo.envVars[key]
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type fakeTracker struct {
	mu     sync.Mutex
	events []string
	waited bool
}

func (t *fakeTracker) Enqueue(eventName string, _ ...analytics.Properties) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, eventName)
}

func (t *fakeTracker) Wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waited = true
}

func (t *fakeTracker) count(eventName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.events {
		if e == eventName {
			n++
		}
	}
	return n
}

func (t *fakeTracker) factory() trackerFactory {
	return func(log.Logger, analytics.Properties) analytics.Tracker {
		return t
	}
}

// fakeSender reads the whole source and reports it as a single progress event.
type fakeSender struct {
	mu          sync.Mutex
	failures    map[string]error
	received    map[string][]byte
	params      map[string]network.UploadParams
	inFlight    int32
	maxInFlight int32
	delay       time.Duration
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		failures: map[string]error{},
		received: map[string][]byte{},
		params:   map[string]network.UploadParams{},
	}
}

func (s *fakeSender) Upload(ctx context.Context, params network.UploadParams) (network.UploadResult, error) {
	current := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		highest := atomic.LoadInt32(&s.maxInFlight)
		if current <= highest || atomic.CompareAndSwapInt32(&s.maxInFlight, highest, current) {
			break
		}
	}
	time.Sleep(s.delay)

	if params.OnAttempt != nil {
		params.OnAttempt(1)
	}
	source, err := params.Open()
	if err != nil {
		return network.UploadResult{}, err
	}
	if closer, ok := source.(io.Closer); ok {
		defer closer.Close() //nolint:errcheck
	}
	data, err := io.ReadAll(source)
	if err != nil {
		return network.UploadResult{}, err
	}

	if params.OnProgress != nil {
		event := progress.NewEvent(params.Request, int64(len(data)))
		event.UploadedSize = int64(len(data))
		if err := params.OnProgress(*event); err != nil {
			return network.UploadResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.received[params.URL] = data
	s.params[params.URL] = params
	if err, ok := s.failures[params.URL]; ok {
		return network.UploadResult{StatusCode: 500, Attempts: 4}, err
	}
	return network.UploadResult{StatusCode: 200, ETag: "etag", Attempts: 1}, nil
}

// recordingLogger records the lines printed with Printf.
type recordingLogger struct {
	log.Logger
	mu    sync.Mutex
	lines []string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{Logger: log.NewLogger()}
}

func (l *recordingLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
	l.mu.Unlock()
	l.Logger.Printf(format, v...)
}
