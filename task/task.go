// Package task drives one generation job from submission to a terminal state.
package task

import (
	"time"

	"StoryReel-server/provider"
)

// State is the lifecycle of a generation task.
type State string

const (
	StateCreated   State = "created"
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the task will not change state again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Policy bounds the poll loop.
type Policy struct {
	// Interval is slept before every status check.
	Interval time.Duration
	// MaxAttempts is the number of status checks before the task times out.
	MaxAttempts int
	// MaxEmptyCompletions fails the task once a provider has reported
	// "completed" without an artifact this many times. Zero means only the
	// attempt ceiling applies.
	MaxEmptyCompletions int
}

const defaultMaxEmptyCompletions = 6

// ImagePolicy covers still image generation: about five minutes.
func ImagePolicy() Policy {
	return Policy{Interval: 5 * time.Second, MaxAttempts: 60, MaxEmptyCompletions: defaultMaxEmptyCompletions}
}

// VideoPolicy covers clip generation: about thirty minutes.
func VideoPolicy() Policy {
	return Policy{Interval: 10 * time.Second, MaxAttempts: 180, MaxEmptyCompletions: defaultMaxEmptyCompletions}
}

// EnhancePolicy covers long-form upscaling and enhancement: about an hour.
func EnhancePolicy() Policy {
	return Policy{Interval: 10 * time.Second, MaxAttempts: 360, MaxEmptyCompletions: defaultMaxEmptyCompletions}
}

// Ceiling is the wall-clock bound implied by the policy.
func (p Policy) Ceiling() time.Duration {
	return p.Interval * time.Duration(p.MaxAttempts)
}

// Task is the record of one provider call. It is owned by the Machine run
// that created it; everyone else sees snapshots passed to the hook.
type Task struct {
	ID         string
	Provider   string
	ExternalID string
	State      State
	// Progress is 0-100 and never decreases.
	Progress  int
	ResultURL string
	Err       *provider.Error
	Cost      float64

	// Attempts counts status checks, including missed ones.
	Attempts         int
	PollMisses       int
	EmptyCompletions int

	Request *provider.GenerationRequest

	CreatedAt   time.Time
	SubmittedAt time.Time
	FinishedAt  time.Time
}

// ErrorKind returns the failure kind, or "" for a task that has not failed.
func (t *Task) ErrorKind() provider.Kind {
	if t.Err == nil {
		return ""
	}
	return t.Err.Kind
}

// ErrorMessage returns the user-facing failure message.
func (t *Task) ErrorMessage() string {
	if t.Err == nil {
		return ""
	}
	return t.Err.UserMessage()
}

func (t *Task) observeProgress(p int) bool {
	if p == provider.ProgressUnknown {
		return false
	}
	if p > 100 {
		p = 100
	}
	if p <= t.Progress {
		return false
	}
	t.Progress = p
	return true
}
