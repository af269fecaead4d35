package upload

import (
	"sync"

	"github.com/bitrise-io/go-streamupload/progress"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	progressLogStepPercent = 10
	// uploads of unknown size are logged after every unknownSizeLogStep bytes
	unknownSizeLogStep = 10 * 1024 * 1024
)

// progressLog turns the progress events of one upload into at most one log line per 10%.
type progressLog struct {
	logger   log.Logger
	name     string
	mu       sync.Mutex
	lastStep int64
	uploaded int64
}

func newProgressLog(logger log.Logger, name string) *progressLog {
	return &progressLog{
		logger:   logger,
		name:     name,
		lastStep: -1,
	}
}

func (p *progressLog) handle(event progress.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.uploaded = event.UploadedSize

	var step int64
	if event.HasTotalSize() {
		step = int64(event.Percent()) / progressLogStepPercent
	} else {
		step = event.UploadedSize / unknownSizeLogStep
	}

	// the last event of a known size upload is always step 10
	if step <= p.lastStep {
		return nil
	}
	p.lastStep = step

	p.logger.Printf("%s: %s", p.name, event.String())
	return nil
}

// startAttempt is called before every attempt, the progress of a retried attempt is logged from zero again.
func (p *progressLog) startAttempt(attempt int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastStep = -1
	p.uploaded = 0
	if attempt > 1 {
		p.logger.Printf("%s: retrying upload (attempt %d)", p.name, attempt)
	}
}

// uploadedSize returns the number of bytes reported by the last event.
func (p *progressLog) uploadedSize() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploaded
}
