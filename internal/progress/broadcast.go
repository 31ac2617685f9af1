package progress

import (
	"context"

	"github.com/seoforge/url-indexer/internal/indexer"
)

// Broadcaster adapts the Hub to the indexer.Broadcaster contract, translating
// job and submission snapshots into status-delta events.
type Broadcaster struct {
	hub   Emitter
	clock indexer.Clock
}

// NewBroadcaster wires an emitter and clock into a Broadcaster.
func NewBroadcaster(hub Emitter, clock indexer.Clock) *Broadcaster {
	return &Broadcaster{hub: hub, clock: clock}
}

// JobStatusChanged emits a delta for the job's current state.
func (b *Broadcaster) JobStatusChanged(_ context.Context, ownerID string, job indexer.Job) {
	b.hub.Emit(Event{
		JobID:     job.ID,
		OwnerID:   ownerID,
		TS:        b.clock.Now(),
		Stage:     stageForJob(job),
		Processed: job.Counters.Processed,
		Succeeded: job.Counters.Succeeded,
		Failed:    job.Counters.Failed,
		Total:     job.Counters.Total,
		Percent:   job.Progress,
		Note:      job.StatusReason,
	})
}

// SubmissionStatusChanged emits a delta for one processed submission.
func (b *Broadcaster) SubmissionStatusChanged(_ context.Context, ownerID string, sub indexer.Submission) {
	b.hub.Emit(Event{
		JobID:   sub.JobID,
		OwnerID: ownerID,
		TS:      b.clock.Now(),
		Stage:   StageSubmissionDone,
		URL:     sub.URL,
		Status:  string(sub.Status),
		Note:    sub.ErrorText,
	})
}

func stageForJob(job indexer.Job) Stage {
	switch job.Status {
	case indexer.JobStatusRunning:
		if job.Counters.Processed == 0 {
			return StageJobStart
		}
		return StageJobProgress
	case indexer.JobStatusCompleted:
		return StageJobCompleted
	case indexer.JobStatusPaused:
		return StageJobPaused
	case indexer.JobStatusFailed:
		return StageJobFailed
	default:
		return StageJobStart
	}
}
