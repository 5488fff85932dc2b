package matcher

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/facematch/pkg/models"
)

// OutcomeKind classifies how one processing cycle of a job ended.
type OutcomeKind int

const (
	// OutcomeMatched: searches and inserts finished; the job recurs.
	OutcomeMatched OutcomeKind = iota
	// OutcomeStale: the face is no longer the profile's default.
	OutcomeStale
	// OutcomeInvalid: missing profile or profile fields. Never retried.
	OutcomeInvalid
	// OutcomeTransient: a search or write failed and may succeed later.
	OutcomeTransient
)

type Outcome struct {
	Kind    OutcomeKind
	Message string
}

// Action is the store transition a Transition asks for.
type Action int

const (
	ActionRequeue Action = iota
	ActionRetry
	ActionComplete
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionRequeue:
		return "requeue"
	case ActionRetry:
		return "retry"
	case ActionComplete:
		return "complete"
	case ActionFail:
		return "fail"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Transition is the single next state of a processing job.
type Transition struct {
	Action         Action
	NextRunAt      time.Time // requeue, and retry with backoff
	ErrorMessage   string
	AttemptCounted bool // fail only
}

// Policy holds the timing knobs of the state machine.
type Policy struct {
	RequeueDelay time.Duration
	RetryBackoff time.Duration
}

// Decide maps the outcome of one cycle of job to its next state. It is the
// only place the retry budget is evaluated.
func Decide(job *models.MatchJob, outcome Outcome, now time.Time, p Policy) Transition {
	switch outcome.Kind {
	case OutcomeMatched:
		return Transition{Action: ActionRequeue, NextRunAt: now.Add(p.RequeueDelay)}
	case OutcomeStale:
		return Transition{Action: ActionComplete, ErrorMessage: outcome.Message}
	case OutcomeInvalid:
		return Transition{Action: ActionFail, ErrorMessage: outcome.Message}
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	if job.Attempts+1 < maxAttempts {
		t := Transition{Action: ActionRetry, ErrorMessage: outcome.Message}
		if p.RetryBackoff > 0 {
			t.NextRunAt = now.Add(p.RetryBackoff)
		}
		return t
	}
	return Transition{
		Action:         ActionFail,
		ErrorMessage:   "Max attempts reached: " + outcome.Message,
		AttemptCounted: true,
	}
}
