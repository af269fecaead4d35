package network

import (
	"net/http"
	"runtime"
	"time"
)

// DefaultBufferSize is the chunk size used to stream upload bodies, in bytes.
const DefaultBufferSize = 64 * 1024

// Config holds the transfer settings shared by the HTTP and S3 senders.
type Config struct {
	// BufferSize is the maximum number of bytes read and written per chunk.
	// Every chunk produces one progress event.
	// Default: 64 KiB
	BufferSize uint32

	// MaxRetries is the number of times a failed upload attempt is repeated from the start.
	// Default: 3
	MaxRetries int

	// RetryWait is the minimum wait between attempts.
	// Default: 5 seconds
	RetryWait time.Duration

	// HTTPClient is the HTTP client used by Sender.
	// If nil, DefaultHTTPClient is used.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize: DefaultBufferSize,
		MaxRetries: 3,
		RetryWait:  5 * time.Second,
		HTTPClient: nil, // Will be created by Sender
	}
}

// DefaultConcurrency calculates the default number of parallel uploads based on CPU count.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 2

	if c > 8 {
		c = 8
	}

	if c < 2 {
		c = 2
	}

	return c
}

// DefaultHTTPClient creates an HTTP client for streamed uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - a streamed upload can take arbitrarily long, deadlines come from the context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BufferSize == 0 {
		c.BufferSize = defaults.BufferSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryWait <= 0 {
		c.RetryWait = defaults.RetryWait
	}
	if c.HTTPClient == nil {
		c.HTTPClient = DefaultHTTPClient()
	}
	return c
}
