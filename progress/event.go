package progress

import (
	"fmt"

	"github.com/docker/go-units"
)

// SizeUnknown is the TotalSize of an upload whose length is not known up front,
// such as a pipe or a deferred length upload.
const SizeUnknown int64 = -1

// Event is a snapshot of an upload's progress.
// The receiver must copy the fields it wants to keep.
type Event struct {
	// Request identifies the upload the event belongs to.
	Request interface{}
	// TotalSize is the size of the entire upload in bytes, or SizeUnknown.
	TotalSize int64
	// UploadedSize is the number of bytes sent so far.
	UploadedSize int64
}

// NewEvent ...
func NewEvent(request interface{}, totalSize int64) *Event {
	if totalSize < 0 {
		totalSize = SizeUnknown
	}
	return &Event{
		Request:   request,
		TotalSize: totalSize,
	}
}

// HasTotalSize reports whether the total size of the upload is known.
func (e Event) HasTotalSize() bool {
	return e.TotalSize >= 0
}

// Percent returns the completed percentage, or -1 if the total size is unknown.
func (e Event) Percent() float64 {
	if !e.HasTotalSize() {
		return -1
	}
	if e.TotalSize == 0 {
		return 100
	}
	return float64(e.UploadedSize) / float64(e.TotalSize) * 100
}

func (e Event) String() string {
	uploaded := units.HumanSizeWithPrecision(float64(e.UploadedSize), 3)
	if !e.HasTotalSize() {
		return fmt.Sprintf("%s / unknown", uploaded)
	}
	total := units.HumanSizeWithPrecision(float64(e.TotalSize), 3)
	return fmt.Sprintf("%s / %s (%.1f%%)", uploaded, total, e.Percent())
}
