package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type trackerFactory func(logger log.Logger, properties analytics.Properties) analytics.Tracker

func defaultTrackerFactory(logger log.Logger, properties analytics.Properties) analytics.Tracker {
	return analytics.NewDefaultTracker(logger, properties)
}

type stepTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

func newStepTracker(stepID string, envRepo env.Repository, logger log.Logger, factory trackerFactory) stepTracker {
	p := analytics.Properties{
		"step_id":           stepID,
		"step_execution_id": envRepo.Get("BITRISE_STEP_EXECUTION_ID"),
		"build_slug":        envRepo.Get("BITRISE_BUILD_SLUG"),
		"app_slug":          envRepo.Get("BITRISE_APP_SLUG"),
		"workflow":          envRepo.Get("BITRISE_TRIGGERED_WORKFLOW_ID"),
		"is_pr_build":       envRepo.Get("IS_PR") == "true",
	}
	return stepTracker{
		tracker: factory(logger, p),
		logger:  logger,
	}
}

func (t *stepTracker) logFileUploaded(result Result) {
	properties := analytics.Properties{
		"upload_time_s":     result.Duration.Truncate(time.Second).Seconds(),
		"upload_size_bytes": result.Size,
		"attempts":          result.Attempts,
		"is_directory":      result.IsDir,
		"compressed":        result.Compressed,
	}
	t.tracker.Enqueue("step_upload_file_uploaded", properties)
}

func (t *stepTracker) logFileFailed(result Result) {
	properties := analytics.Properties{
		"upload_time_s": result.Duration.Truncate(time.Second).Seconds(),
		"attempts":      result.Attempts,
		"is_directory":  result.IsDir,
		"error":         result.Err.Error(),
	}
	t.tracker.Enqueue("step_upload_file_failed", properties)
}

func (t *stepTracker) logUploadFinished(pathCount int, failedCount int, totalTime time.Duration) {
	properties := analytics.Properties{
		"path_count":   pathCount,
		"failed_count": failedCount,
		"total_time_s": totalTime.Truncate(time.Second).Seconds(),
	}
	t.tracker.Enqueue("step_upload_finished", properties)
}

func (t *stepTracker) wait() {
	t.tracker.Wait()
}
