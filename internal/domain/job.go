package domain

import (
	"fmt"
	"time"
)

// JobState enumerates job lifecycle states.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateExpired    JobState = "expired"
)

// Terminal reports whether the state admits no further transitions. Completed
// is not terminal because the sweeper still moves it to Expired.
func (s JobState) Terminal() bool {
	return s == JobStateFailed || s == JobStateExpired
}

// transitions is the full set of legal state edges. Anything not listed
// violates the monotonic lifecycle.
var transitions = map[JobState][]JobState{
	JobStatePending:    {JobStateQueued},
	JobStateQueued:     {JobStateProcessing, JobStateFailed},
	JobStateProcessing: {JobStateQueued, JobStateCompleted, JobStateFailed},
	JobStateCompleted:  {JobStateExpired},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is the durable record of one optimization request.
type Job struct {
	ID                string
	OwnerIdentity     string
	State             JobState
	InputRef          string
	OutputRef         *string
	CleanupRef        *string
	TargetTriangles   int
	Preview           bool
	CreditConsumed    bool
	VertexCountBefore *int
	VertexCountAfter  *int
	ErrorDetail       string
	AttemptCount      int
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	ExpiresAt         *time.Time
}

// Validate checks the cross-field invariants that must hold after every
// transition: output_ref is set exactly in Completed, expires_at is set
// exactly in Completed or Expired.
func (j *Job) Validate() error {
	if (j.OutputRef != nil) != (j.State == JobStateCompleted) {
		return fmt.Errorf("job %s: output_ref presence inconsistent with state %s", j.ID, j.State)
	}
	hasExpiry := j.ExpiresAt != nil
	wantsExpiry := j.State == JobStateCompleted || j.State == JobStateExpired
	if hasExpiry != wantsExpiry {
		return fmt.Errorf("job %s: expires_at presence inconsistent with state %s", j.ID, j.State)
	}
	if j.ErrorDetail != "" && j.State != JobStateFailed {
		return fmt.Errorf("job %s: error_detail set outside failed state", j.ID)
	}
	return nil
}

// Downloadable reports whether the artifact can still be served at the given
// instant. State is authoritative; the expiry clock only narrows Completed.
func (j *Job) Downloadable(now time.Time) bool {
	if j.State != JobStateCompleted || j.OutputRef == nil {
		return false
	}
	return j.ExpiresAt == nil || now.Before(*j.ExpiresAt)
}
