// Package upload sends local files and directories to HTTP endpoints in parallel, reporting their progress.
package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-streamupload/compression"
	"github.com/bitrise-io/go-streamupload/network"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
)

// TokenEnvKey is the environment variable holding the optional bearer token of the upload endpoint.
const TokenEnvKey = "BITRISEIO_UPLOAD_API_TOKEN"

// archiveExtension is appended to the name of uploaded directories.
const archiveExtension = ".tar.zst"

// Input is the information that comes from the steps that call this shared implementation
type Input struct {
	// StepID identifies the exact step. Used for logging events.
	StepID  string
	Verbose bool
	// URL is the upload target of every path. It is a text/template:
	// {{ name }} is replaced by the path escaped base name of the uploaded file,
	// {{ getenv "KEY" }} by an environment variable.
	URL string
	// Method defaults to PUT. Allowed values are PUT, POST and PATCH.
	Method string
	// Paths are files or directories, wildcards are expanded. Directories are sent as a zstd compressed tar archive.
	Paths   []string
	Headers map[string]string
	// BufferSize is the chunk size of the default sender, one progress event is reported per chunk.
	// Ignored when a custom network.Uploader is provided.
	BufferSize uint32
	// Compression sends files zstd encoded with Content-Encoding: zstd.
	Compression bool
	// CompressionLevel is the zstd compression level used. Valid values are between 1 and 19.
	// If not provided (0), the default value (3) will be used.
	CompressionLevel int
	// Concurrency is the number of parallel uploads. Defaults to network.DefaultConcurrency().
	Concurrency int
}

// Result is the outcome of uploading one path.
type Result struct {
	Path string
	URL  string
	// IsDir is true when the path was sent as an archive.
	IsDir      bool
	Compressed bool
	// Size is the number of source bytes sent.
	Size       int64
	StatusCode int
	ETag       string
	Attempts   int
	Duration   time.Duration
	Err        error
}

type uploadConfig struct {
	Verbose          bool
	URLTemplate      string
	Method           string
	Paths            []string
	Headers          map[string]string
	BufferSize       uint32
	Compression      bool
	CompressionLevel int
	Concurrency      int
	APIAccessToken   string
}

// Uploader ...
type Uploader struct {
	envRepo      env.Repository
	logger       log.Logger
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	sender       network.Uploader
	newTracker   trackerFactory
}

// NewUploader creates a new Uploader instance. `sender` can be nil, unless you want to provide a custom `network.Uploader` implementation.
func NewUploader(
	envRepo env.Repository,
	logger log.Logger,
	pathModifier pathutil.PathModifier,
	pathChecker pathutil.PathChecker,
	sender network.Uploader,
) *Uploader {
	return &Uploader{
		envRepo:      envRepo,
		logger:       logger,
		pathModifier: pathModifier,
		pathChecker:  pathChecker,
		sender:       sender,
		newTracker:   defaultTrackerFactory,
	}
}

// Upload sends every path of the input and returns one Result per path.
// Failed uploads don't stop the others, their errors are returned together as a MultiError.
func (u *Uploader) Upload(ctx context.Context, input Input) ([]Result, error) {
	u.logger.TDebugf("Upload start")
	defer func() {
		u.logger.TDebugf("Upload done")
	}()

	config, err := u.createConfig(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse inputs: %w", err)
	}
	u.logger.EnableDebugLog(config.Verbose)
	u.logger.TDebugf("Config created")

	if len(config.Paths) == 0 {
		u.logger.Warnf("None of the provided paths exist, nothing to upload.")
		return nil, nil
	}

	tracker := newStepTracker(input.StepID, u.envRepo, u.logger, u.newTracker)
	defer tracker.wait()
	u.logger.TDebugf("Tracker created")

	sender := u.sender
	if sender == nil {
		networkConfig := network.DefaultConfig()
		networkConfig.BufferSize = config.BufferSize
		defaultSender := network.NewSender(networkConfig, u.logger)
		defer defaultSender.CloseIdleConnections()
		sender = defaultSender
	}

	u.logger.Println()
	u.logger.Infof("Uploading %d paths with %d parallel uploads...", len(config.Paths), config.Concurrency)
	startTime := time.Now()
	stats := NewStats()
	results := u.uploadAll(ctx, sender, config, stats, &tracker)
	totalTime := time.Since(startTime).Round(time.Second)

	var errs MultiError
	for _, result := range results {
		if result.Err != nil {
			AppendErr(&errs, fmt.Errorf("%s: %w", result.Path, result.Err))
		}
	}
	tracker.logUploadFinished(len(results), len(errs), totalTime)

	u.logger.Println()
	u.logger.Printf("Uploaded %d of %d paths (%s) in %s, average speed: %s/s",
		stats.FinishedCount(),
		len(results),
		units.HumanSizeWithPrecision(float64(stats.TotalBytes()), 3),
		totalTime,
		units.HumanSizeWithPrecision(stats.Throughput(), 3))

	if stats.FinishedCount() > 0 {
		u.logger.Printf("Average upload time per path: %s", stats.Average().Round(time.Millisecond))
	}

	if len(errs) > 0 {
		return results, errs
	}
	u.logger.Donef("All paths uploaded")
	return results, nil
}

func (u *Uploader) createConfig(input Input) (uploadConfig, error) {
	urlTemplate := strings.TrimSpace(input.URL)
	if urlTemplate == "" {
		return uploadConfig{}, fmt.Errorf("upload URL should not be empty")
	}
	if _, err := newURLModel(u.envRepo).Evaluate(urlTemplate, "name"); err != nil {
		return uploadConfig{}, fmt.Errorf("failed to evaluate URL template: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(input.Method))
	switch method {
	case "":
		method = http.MethodPut
	case http.MethodPut, http.MethodPost, http.MethodPatch:
	default:
		return uploadConfig{}, fmt.Errorf("unsupported upload method: %s", input.Method)
	}

	if len(input.Paths) == 0 {
		return uploadConfig{}, fmt.Errorf("paths should not be empty")
	}

	if input.CompressionLevel == 0 {
		input.CompressionLevel = compression.DefaultLevel
	}
	if err := compression.ValidateLevel(input.CompressionLevel); err != nil {
		return uploadConfig{}, err
	}

	if input.Concurrency < 0 {
		return uploadConfig{}, fmt.Errorf("concurrency should not be negative")
	}
	if input.Concurrency == 0 {
		input.Concurrency = network.DefaultConcurrency()
	}

	if input.BufferSize == 0 {
		input.BufferSize = network.DefaultBufferSize
	}

	finalPaths, err := u.evaluatePaths(input.Paths)
	u.logger.TDebugf("Final paths evaluated")
	if err != nil {
		return uploadConfig{}, fmt.Errorf("failed to parse paths: %w", err)
	}

	return uploadConfig{
		Verbose:          input.Verbose,
		URLTemplate:      urlTemplate,
		Method:           method,
		Paths:            finalPaths,
		Headers:          input.Headers,
		BufferSize:       input.BufferSize,
		Compression:      input.Compression,
		CompressionLevel: input.CompressionLevel,
		Concurrency:      input.Concurrency,
		APIAccessToken:   u.envRepo.Get(TokenEnvKey),
	}, nil
}

func (u *Uploader) uploadAll(ctx context.Context, sender network.Uploader, config uploadConfig, stats *Stats, tracker *stepTracker) []Result {
	type indexedResult struct {
		index  int
		result Result
	}

	resultChan := make(chan indexedResult, len(config.Paths))
	semaphore := make(chan struct{}, config.Concurrency)

	for i, path := range config.Paths {
		go func(index int, path string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			resultChan <- indexedResult{
				index:  index,
				result: u.uploadPath(ctx, sender, config, path, stats),
			}
		}(i, path)
	}

	results := make([]Result, len(config.Paths))
	for range config.Paths {
		r := <-resultChan
		results[r.index] = r.result
		if r.result.Err != nil {
			tracker.logFileFailed(r.result)
		} else {
			tracker.logFileUploaded(r.result)
		}
	}
	return results
}

func (u *Uploader) uploadPath(ctx context.Context, sender network.Uploader, config uploadConfig, path string, stats *Stats) (result Result) {
	result.Path = path
	startTime := time.Now()
	defer func() {
		result.Duration = time.Since(startTime)
	}()

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	info, err := os.Stat(path)
	if err != nil {
		result.Err = err
		return result
	}

	name := filepath.Base(path)
	var open network.SourceOpener
	compressionLevel := 0
	if info.IsDir() {
		result.IsDir = true
		name += archiveExtension
		open = func() (io.Reader, error) {
			return compression.OpenArchive([]string{path}, config.CompressionLevel)
		}
	} else {
		open = func() (io.Reader, error) {
			return os.Open(path)
		}
		if config.Compression {
			compressionLevel = config.CompressionLevel
			result.Compressed = true
		}
	}

	url, err := newURLModel(u.envRepo).Evaluate(config.URLTemplate, name)
	if err != nil {
		result.Err = fmt.Errorf("failed to evaluate URL template: %w", err)
		return result
	}
	result.URL = url

	progressLog := newProgressLog(u.logger, name)
	uploadResult, err := sender.Upload(ctx, network.UploadParams{
		Method:           config.Method,
		URL:              url,
		Headers:          config.Headers,
		Token:            config.APIAccessToken,
		Open:             open,
		CompressionLevel: compressionLevel,
		Request:          path,
		OnProgress:       progressLog.handle,
		OnAttempt:        progressLog.startAttempt,
	})
	result.StatusCode = uploadResult.StatusCode
	result.ETag = uploadResult.ETag
	result.Attempts = uploadResult.Attempts
	result.Size = progressLog.uploadedSize()
	if err != nil {
		u.logger.Errorf("Failed to upload %s: %s", path, err)
		result.Err = err
		return result
	}

	took := time.Since(startTime)
	stats.Update(took, result.Size)
	u.logger.Donef("Uploaded %s (%s) in %s",
		path, units.HumanSizeWithPrecision(float64(result.Size), 3), took.Round(time.Millisecond))
	u.logger.Debugf("%s: status %d, ETag %s, attempts %d", url, result.StatusCode, result.ETag, result.Attempts)

	return result
}
