package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"StoryReel-server/provider"
)

type step struct {
	status *provider.Status
	err    error
}

// fakeProvider replays scripted status results; after the script it keeps
// returning the last entry.
type fakeProvider struct {
	mu        sync.Mutex
	name      string
	caps      provider.Capabilities
	submitErr error
	steps     []step
	submits   int
	checks    int
	canceled  []string

	cancelCalled bool
	cancelCtxErr error
}

func (f *fakeProvider) Name() string                        { return f.name }
func (f *fakeProvider) Capabilities() provider.Capabilities { return f.caps }

func (f *fakeProvider) Submit(ctx context.Context, req *provider.GenerationRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "ext-1", nil
}

func (f *fakeProvider) CheckStatus(ctx context.Context, id string) (*provider.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if len(f.steps) == 0 {
		return &provider.Status{State: provider.StateProcessing, Progress: provider.ProgressUnknown}, nil
	}
	i := f.checks - 1
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	s := f.steps[i]
	return s.status, s.err
}

func (f *fakeProvider) FetchArtifact(ctx context.Context, id string) ([]byte, error) {
	return []byte("video"), nil
}

type cancelingProvider struct {
	*fakeProvider
	cancelErr error
}

func (c *cancelingProvider) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = append(c.canceled, id)
	c.cancelCalled = true
	c.cancelCtxErr = ctx.Err()
	return c.cancelErr
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func processing(p int) step {
	return step{status: &provider.Status{State: provider.StateProcessing, Progress: p}}
}

func completed(url string) step {
	return step{status: &provider.Status{State: provider.StateCompleted, Progress: 100, ResultURL: url}}
}

var testReq = &provider.GenerationRequest{ImageURLs: []string{"seed.png"}, Prompt: "a cat"}

func TestRunCompletes(t *testing.T) {
	fp := &fakeProvider{name: "fake", steps: []step{processing(10), processing(60), completed("https://cdn/v.mp4")}}
	var snaps []Task
	m := New(fp, Policy{MaxAttempts: 10}, WithSleep(noSleep), WithHook(func(t Task) { snaps = append(snaps, t) }))

	tk, err := m.Run(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, tk.State)
	assert.Equal(t, "https://cdn/v.mp4", tk.ResultURL)
	assert.Equal(t, 100, tk.Progress)
	assert.Equal(t, 3, tk.Attempts)
	assert.Equal(t, "ext-1", tk.ExternalID)
	assert.Nil(t, tk.Err)

	require.NotEmpty(t, snaps)
	assert.Equal(t, StateCreated, snaps[0].State)
	assert.Equal(t, StateSubmitted, snaps[1].State)
	assert.Equal(t, StatePolling, snaps[2].State)
	assert.Equal(t, StateCompleted, snaps[len(snaps)-1].State)
}

func TestRunSubmitFailureSkipsPolling(t *testing.T) {
	fp := &fakeProvider{name: "fake", submitErr: provider.NewError("fake", provider.KindQuota, "no credits")}
	m := New(fp, Policy{MaxAttempts: 10}, WithSleep(noSleep))

	tk, err := m.Run(context.Background(), testReq)
	require.Error(t, err)
	assert.Equal(t, provider.KindQuota, provider.KindOf(err))
	assert.Equal(t, StateFailed, tk.State)
	assert.Equal(t, provider.KindQuota, tk.ErrorKind())
	assert.NotEmpty(t, tk.ErrorMessage())
	assert.Zero(t, fp.checks)
	assert.Zero(t, tk.Attempts)
}

func TestRunForeignSubmitErrorIsProtocol(t *testing.T) {
	fp := &fakeProvider{name: "fake", submitErr: errors.New("weird")}
	tk, err := New(fp, Policy{MaxAttempts: 1}, WithSleep(noSleep)).Run(context.Background(), testReq)
	require.Error(t, err)
	assert.Equal(t, provider.KindProtocol, tk.ErrorKind())
}

func TestRunTimeoutAfterExactCeiling(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		max := rapid.IntRange(1, 50).Draw(rt, "max")
		fp := &fakeProvider{name: "fake"}
		tk, err := New(fp, Policy{MaxAttempts: max}, WithSleep(noSleep)).Run(context.Background(), testReq)
		if err == nil {
			rt.Fatalf("expected timeout")
		}
		if tk.ErrorKind() != provider.KindTimeout {
			rt.Fatalf("kind = %s", tk.ErrorKind())
		}
		if fp.checks != max || tk.Attempts != max {
			rt.Fatalf("checks = %d attempts = %d, want %d", fp.checks, tk.Attempts, max)
		}
	})
}

func TestProgressIsMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reported := rapid.SliceOfN(rapid.IntRange(-1, 150), 1, 40).Draw(rt, "progress")
		steps := make([]step, 0, len(reported)+1)
		for _, p := range reported {
			steps = append(steps, processing(p))
		}
		steps = append(steps, completed("https://cdn/v.mp4"))

		fp := &fakeProvider{name: "fake", steps: steps}
		last := 0
		hook := func(s Task) {
			if s.Progress < last {
				rt.Fatalf("progress went from %d to %d", last, s.Progress)
			}
			if s.Progress > 100 {
				rt.Fatalf("progress %d above 100", s.Progress)
			}
			last = s.Progress
		}
		tk, err := New(fp, Policy{MaxAttempts: len(steps)}, WithSleep(noSleep), WithHook(hook)).
			Run(context.Background(), testReq)
		if err != nil {
			rt.Fatalf("run: %v", err)
		}
		if tk.Progress != 100 {
			rt.Fatalf("final progress %d", tk.Progress)
		}
	})
}

func TestCompletedWithoutArtifactKeepsPolling(t *testing.T) {
	empty := step{status: &provider.Status{State: provider.StateCompleted, Progress: 100}}
	fp := &fakeProvider{name: "fake", steps: []step{processing(50), empty, completed("https://cdn/v.mp4")}}

	tk, err := New(fp, Policy{MaxAttempts: 10, MaxEmptyCompletions: 3}, WithSleep(noSleep)).
		Run(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, tk.State)
	assert.Equal(t, 1, tk.EmptyCompletions)
	assert.Equal(t, 3, tk.Attempts)
}

func TestCompletedWithoutArtifactIsBounded(t *testing.T) {
	empty := step{status: &provider.Status{State: provider.StateCompleted}}

	fp := &fakeProvider{name: "fake", steps: []step{empty}}
	tk, err := New(fp, Policy{MaxAttempts: 20, MaxEmptyCompletions: 4}, WithSleep(noSleep)).
		Run(context.Background(), testReq)
	require.Error(t, err)
	assert.Equal(t, provider.KindProtocol, tk.ErrorKind())
	assert.Equal(t, 4, tk.EmptyCompletions)
	assert.Equal(t, 4, fp.checks)

	// Without a bound only the ceiling applies.
	fp = &fakeProvider{name: "fake", steps: []step{empty}}
	tk, err = New(fp, Policy{MaxAttempts: 7}, WithSleep(noSleep)).Run(context.Background(), testReq)
	require.Error(t, err)
	assert.Equal(t, provider.KindTimeout, tk.ErrorKind())
	assert.Equal(t, 7, tk.EmptyCompletions)
}

func TestTransientChecksAreMisses(t *testing.T) {
	miss := step{err: provider.NewError("fake", provider.KindTransient, "502")}
	fp := &fakeProvider{name: "fake", steps: []step{miss, processing(40), miss, completed("https://cdn/v.mp4")}}

	tk, err := New(fp, Policy{MaxAttempts: 10}, WithSleep(noSleep)).Run(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, 2, tk.PollMisses)
	assert.Equal(t, 4, tk.Attempts)
}

func TestTransientMissesCountTowardCeiling(t *testing.T) {
	miss := step{err: provider.NewError("fake", provider.KindTransient, "reset")}
	fp := &fakeProvider{name: "fake", steps: []step{miss}}

	tk, err := New(fp, Policy{MaxAttempts: 5}, WithSleep(noSleep)).Run(context.Background(), testReq)
	require.Error(t, err)
	assert.Equal(t, provider.KindTimeout, tk.ErrorKind())
	assert.Equal(t, 5, tk.PollMisses)
}

func TestNonTransientCheckErrorFails(t *testing.T) {
	bad := step{err: provider.NewError("fake", provider.KindAuth, "expired key")}
	fp := &fakeProvider{name: "fake", steps: []step{processing(10), bad}}

	tk, err := New(fp, Policy{MaxAttempts: 10}, WithSleep(noSleep)).Run(context.Background(), testReq)
	require.Error(t, err)
	assert.Equal(t, provider.KindAuth, tk.ErrorKind())
	assert.Equal(t, 2, fp.checks)
}

func TestFailedStatusCarriesKind(t *testing.T) {
	tests := []struct {
		name   string
		status *provider.Status
		want   provider.Kind
	}{
		{"moderated", &provider.Status{State: provider.StateFailed, ErrorKind: provider.KindModeration, ErrorMessage: "nsfw"}, provider.KindModeration},
		{"plain", &provider.Status{State: provider.StateFailed, ErrorMessage: "oom"}, provider.KindFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakeProvider{name: "fake", steps: []step{{status: tt.status}}}
			tk, err := New(fp, Policy{MaxAttempts: 3}, WithSleep(noSleep)).Run(context.Background(), testReq)
			require.Error(t, err)
			assert.Equal(t, tt.want, tk.ErrorKind())
			assert.Equal(t, StateFailed, tk.State)
			assert.Equal(t, 1, tk.Attempts)
		})
	}
}

func TestCancelLeavesTaskResumable(t *testing.T) {
	fp := &fakeProvider{name: "fake", steps: []step{processing(30)}}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return ctx.Err()
	}

	tk, err := New(fp, Policy{MaxAttempts: 10}, WithSleep(sleep)).Run(ctx, testReq)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatePolling, tk.State)
	assert.Equal(t, 2, tk.Attempts)
	assert.Equal(t, 30, tk.Progress)

	fp2 := &fakeProvider{name: "fake", steps: []step{completed("https://cdn/v.mp4")}}
	res, err := New(fp2, Policy{MaxAttempts: 10}, WithSleep(noSleep)).Resume(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Zero(t, fp2.submits)
	assert.Equal(t, tk.ID, res.ID)
}

func TestResumeHonorsCeiling(t *testing.T) {
	prev := &Task{ID: "t1", Provider: "fake", ExternalID: "ext-9", State: StatePolling, Attempts: 8}
	fp := &fakeProvider{name: "fake"}

	res, err := New(fp, Policy{MaxAttempts: 10}, WithSleep(noSleep)).Resume(context.Background(), prev)
	require.Error(t, err)
	assert.Equal(t, provider.KindTimeout, res.ErrorKind())
	assert.Equal(t, 2, fp.checks)
	assert.Equal(t, 8, prev.Attempts)
}

func TestResumeTerminalAndInvalid(t *testing.T) {
	fp := &fakeProvider{name: "fake"}
	m := New(fp, Policy{MaxAttempts: 10}, WithSleep(noSleep))

	done := &Task{ID: "t1", ExternalID: "ext", State: StateCompleted, ResultURL: "u"}
	res, err := m.Resume(context.Background(), done)
	require.NoError(t, err)
	assert.Equal(t, "u", res.ResultURL)

	failed := &Task{ID: "t2", ExternalID: "ext", State: StateFailed, Err: provider.NewError("fake", provider.KindModeration, "")}
	_, err = m.Resume(context.Background(), failed)
	assert.Equal(t, provider.KindModeration, provider.KindOf(err))

	_, err = m.Resume(context.Background(), &Task{ID: "t3", State: StatePolling})
	assert.Error(t, err)
	assert.Zero(t, fp.checks)
}

func TestPolicies(t *testing.T) {
	assert.Equal(t, 5*time.Minute, ImagePolicy().Ceiling())
	assert.Equal(t, 30*time.Minute, VideoPolicy().Ceiling())
	assert.Equal(t, time.Hour, EnhancePolicy().Ceiling())
	assert.Equal(t, defaultMaxEmptyCompletions, VideoPolicy().MaxEmptyCompletions)
}

type recordingMetrics struct {
	polls    map[string]int
	outcomes []string
}

func (r *recordingMetrics) RecordSubmission(string, string) {}
func (r *recordingMetrics) RecordPoll(_ string, result string) {
	r.polls[result]++
}
func (r *recordingMetrics) RecordTaskOutcome(_ string, state, kind string, _ time.Duration) {
	r.outcomes = append(r.outcomes, state+":"+kind)
}

func TestMetricsObserveEmptyCompletions(t *testing.T) {
	empty := step{status: &provider.Status{State: provider.StateCompleted}}
	miss := step{err: provider.NewError("fake", provider.KindTransient, "")}
	fp := &fakeProvider{name: "fake", steps: []step{empty, miss, completed("https://cdn/v.mp4")}}
	rec := &recordingMetrics{polls: map[string]int{}}

	_, err := New(fp, Policy{MaxAttempts: 10}, WithSleep(noSleep), WithMetrics(rec)).Run(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{PollEmpty: 1, PollMiss: 1, PollOK: 1}, rec.polls)
	assert.Equal(t, []string{"completed:"}, rec.outcomes)
}
