package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"StoryReel-server/provider"
)

var tracer = otel.Tracer("StoryReel-server/task")

// Metrics receives machine events. *metrics.Collector satisfies it.
type Metrics interface {
	RecordSubmission(provider, outcome string)
	RecordPoll(provider, result string)
	RecordTaskOutcome(provider, state, kind string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordSubmission(string, string)                        {}
func (nopMetrics) RecordPoll(string, string)                              {}
func (nopMetrics) RecordTaskOutcome(string, string, string, time.Duration) {}

// Poll results reported to Metrics.
const (
	PollOK    = "ok"
	PollMiss  = "miss"
	PollEmpty = "empty"
)

// Hook observes a snapshot after every state or progress change. It runs
// inline and must not block; persistence failures are the hook's problem.
type Hook func(Task)

// Machine runs tasks against one provider.
type Machine struct {
	prov    provider.Provider
	policy  Policy
	logger  *zap.Logger
	metrics Metrics
	hook    Hook
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

func WithMetrics(mt Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

func WithHook(h Hook) Option {
	return func(m *Machine) { m.hook = h }
}

// WithSleep replaces the inter-poll wait, mostly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Machine) { m.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New returns a Machine polling p under policy.
func New(p provider.Provider, policy Policy, opts ...Option) *Machine {
	m := &Machine{
		prov:    p,
		policy:  policy,
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "task"), zap.String("provider", p.Name()))
	return m
}

// Provider returns the provider the machine drives.
func (m *Machine) Provider() provider.Provider { return m.prov }

// Policy returns the poll policy.
func (m *Machine) Policy() Policy { return m.policy }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run submits req and polls it to a terminal state. The returned task is
// never nil. The error is the task's *provider.Error on failure, or the
// context error when polling was abandoned; an abandoned task stays in
// StatePolling and can be picked up again with Resume.
func (m *Machine) Run(ctx context.Context, req *provider.GenerationRequest) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.Run", trace.WithAttributes(
		attribute.String("provider", m.prov.Name()),
		attribute.String("mode", string(req.Mode())),
	))
	defer span.End()

	t := &Task{
		ID:        uuid.NewString(),
		Provider:  m.prov.Name(),
		State:     StateCreated,
		Request:   req,
		CreatedAt: m.now(),
	}
	m.emit(t)

	externalID, err := m.prov.Submit(ctx, req)
	if err != nil {
		perr := provider.AsError(m.prov.Name(), err)
		m.metrics.RecordSubmission(m.prov.Name(), string(perr.Kind))
		m.logger.Warn("submit failed",
			zap.String("task_id", t.ID),
			zap.String("kind", string(perr.Kind)),
			zap.Error(err))
		m.fail(t, perr)
		endSpan(span, t)
		return t, perr
	}
	m.metrics.RecordSubmission(m.prov.Name(), PollOK)
	t.ExternalID = externalID
	t.State = StateSubmitted
	t.SubmittedAt = m.now()
	span.SetAttributes(attribute.String("external_id", externalID))
	m.logger.Info("task submitted", zap.String("task_id", t.ID), zap.String("external_id", externalID))
	m.emit(t)

	t, err = m.poll(ctx, t)
	endSpan(span, t)
	return t, err
}

// Resume continues polling a task submitted earlier, typically one loaded
// back from the metadata store after a restart. The attempt count carries
// over so the ceiling holds across restarts. It never re-submits.
func (m *Machine) Resume(ctx context.Context, prev *Task) (*Task, error) {
	if prev == nil || prev.ExternalID == "" {
		return prev, errors.New("resume needs a submitted task with an external id")
	}
	t := *prev
	if t.State.Terminal() {
		if t.Err != nil {
			return &t, t.Err
		}
		return &t, nil
	}
	if t.Provider == "" {
		t.Provider = m.prov.Name()
	}
	ctx, span := tracer.Start(ctx, "task.Resume", trace.WithAttributes(
		attribute.String("provider", t.Provider),
		attribute.String("external_id", t.ExternalID),
		attribute.Int("attempts", t.Attempts),
	))
	defer span.End()

	m.logger.Info("resuming task",
		zap.String("task_id", t.ID),
		zap.String("external_id", t.ExternalID),
		zap.Int("attempts", t.Attempts))
	res, err := m.poll(ctx, &t)
	endSpan(span, res)
	return res, err
}

func (m *Machine) poll(ctx context.Context, t *Task) (*Task, error) {
	t.State = StatePolling
	m.emit(t)

	name := m.prov.Name()
	for t.Attempts < m.policy.MaxAttempts {
		if err := m.sleep(ctx, m.policy.Interval); err != nil {
			m.logger.Info("polling abandoned", zap.String("task_id", t.ID), zap.Error(err))
			return t, err
		}
		t.Attempts++

		st, err := m.prov.CheckStatus(ctx, t.ExternalID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return t, ctxErr
			}
			if provider.IsTransient(err) {
				t.PollMisses++
				m.metrics.RecordPoll(name, PollMiss)
				m.logger.Debug("status check missed",
					zap.String("task_id", t.ID),
					zap.Int("attempt", t.Attempts),
					zap.Error(err))
				m.emit(t)
				continue
			}
			perr := provider.AsError(name, err)
			m.logger.Warn("status check failed", zap.String("task_id", t.ID), zap.Error(err))
			m.fail(t, perr)
			return t, perr
		}

		if st.Cost > 0 {
			t.Cost = st.Cost
		}
		switch st.State {
		case provider.StateCompleted:
			if st.ResultURL == "" {
				t.EmptyCompletions++
				m.metrics.RecordPoll(name, PollEmpty)
				m.logger.Warn("completed without artifact, still polling",
					zap.String("task_id", t.ID),
					zap.String("external_id", t.ExternalID),
					zap.Int("empty_completions", t.EmptyCompletions))
				if max := m.policy.MaxEmptyCompletions; max > 0 && t.EmptyCompletions >= max {
					perr := provider.NewError(name, provider.KindProtocol,
						fmt.Sprintf("reported completed without an artifact %d times", t.EmptyCompletions))
					m.fail(t, perr)
					return t, perr
				}
				m.emit(t)
				continue
			}
			m.metrics.RecordPoll(name, PollOK)
			t.ResultURL = st.ResultURL
			t.Progress = 100
			t.State = StateCompleted
			t.FinishedAt = m.now()
			m.metrics.RecordTaskOutcome(name, string(StateCompleted), "", t.FinishedAt.Sub(t.CreatedAt))
			m.logger.Info("task completed",
				zap.String("task_id", t.ID),
				zap.String("external_id", t.ExternalID),
				zap.Int("attempts", t.Attempts))
			m.emit(t)
			return t, nil

		case provider.StateFailed:
			m.metrics.RecordPoll(name, PollOK)
			kind := st.ErrorKind
			if kind == "" {
				kind = provider.KindFailed
			}
			perr := provider.NewError(name, kind, st.ErrorMessage)
			m.fail(t, perr)
			return t, perr

		default:
			m.metrics.RecordPoll(name, PollOK)
			t.observeProgress(st.Progress)
			m.emit(t)
		}
	}

	perr := provider.NewError(name, provider.KindTimeout,
		fmt.Sprintf("no terminal status after %d checks", m.policy.MaxAttempts))
	m.fail(t, perr)
	return t, perr
}

func (m *Machine) fail(t *Task, perr *provider.Error) {
	t.State = StateFailed
	t.Err = perr
	t.FinishedAt = m.now()
	m.metrics.RecordTaskOutcome(t.Provider, string(StateFailed), string(perr.Kind), t.FinishedAt.Sub(t.CreatedAt))
	m.logger.Warn("task failed",
		zap.String("task_id", t.ID),
		zap.String("external_id", t.ExternalID),
		zap.String("kind", string(perr.Kind)),
		zap.String("detail", perr.Detail))
	m.emit(t)
}

func (m *Machine) emit(t *Task) {
	if m.hook != nil {
		m.hook(*t)
	}
}

func endSpan(span trace.Span, t *Task) {
	if t == nil {
		return
	}
	span.SetAttributes(
		attribute.String("state", string(t.State)),
		attribute.Int("attempts", t.Attempts),
	)
	if t.Err != nil {
		span.SetStatus(codes.Error, t.Err.Error())
	}
}
