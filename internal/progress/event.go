// Package progress defines the status-delta events emitted by the pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of delta represented by an Event.
type Stage string

// Supported stages.
const (
	StageJobStart       Stage = "JOB_START"
	StageJobProgress    Stage = "JOB_PROGRESS"
	StageJobCompleted   Stage = "JOB_COMPLETED"
	StageJobPaused      Stage = "JOB_PAUSED"
	StageJobFailed      Stage = "JOB_FAILED"
	StageSubmissionDone Stage = "SUBMISSION_DONE"
)

// Event captures one job or submission status delta. Delivery is
// at-least-once with no ordering guarantee; percentage fields are
// last-write-wins on the consumer side.
type Event struct {
	// JobID identifies the job the delta belongs to.
	JobID string `json:"job_id"`
	// OwnerID scopes the delta to a tenant for fan-out routing.
	OwnerID string `json:"owner_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which lifecycle or submission milestone occurred.
	Stage Stage `json:"stage"`
	// URL is set for submission deltas.
	URL string `json:"url,omitempty"`
	// Status carries the submission outcome for SUBMISSION_DONE events.
	Status string `json:"status,omitempty"`
	// Counter snapshot at emission time.
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
	// Percent is run progress, 0-100.
	Percent float64 `json:"percent"`
	// Note lets emitters attach low-volume context (e.g. a pause reason).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.OwnerID == "" {
		return errors.New("owner id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobProgress, StageJobCompleted, StageJobPaused, StageJobFailed:
	case StageSubmissionDone:
		if e.URL == "" {
			return errors.New("submission delta requires url")
		}
		if e.Status == "" {
			return errors.New("submission delta requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}
