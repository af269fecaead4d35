package progress

import "errors"

var (
	// ErrSourceRead is returned when reading the upload source fails.
	ErrSourceRead = errors.New("read upload source")

	// ErrSinkWrite is returned when the request body writer rejects a chunk.
	ErrSinkWrite = errors.New("write request body")

	// ErrCallback is returned when the progress callback fails. A failing observer aborts the transfer.
	ErrCallback = errors.New("progress callback")

	// ErrAlreadySerialized is returned by SerializeTo on a body that was already serialized.
	ErrAlreadySerialized = errors.New("body already serialized")

	// ErrInvalidBufferSize ...
	ErrInvalidBufferSize = errors.New("buffer size must be positive")

	// ErrNilSource ...
	ErrNilSource = errors.New("source must not be nil")
)
