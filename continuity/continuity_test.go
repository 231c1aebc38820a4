package continuity

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StoryReel-server/provider"
	"StoryReel-server/task"
)

var (
	withV2V = provider.Capabilities{SupportsContinuation: true, MaxReferenceImages: 1, Durations: []int{5, 10}}
	noV2V   = provider.Capabilities{MaxReferenceImages: 1, Durations: []int{5, 10}}
)

func TestParseOverride(t *testing.T) {
	assert.Equal(t, OverrideFresh, ParseOverride("I2V"))
	assert.Equal(t, OverrideFresh, ParseOverride("fresh"))
	assert.Equal(t, OverrideContinuation, ParseOverride(" v2v "))
	assert.Equal(t, OverrideContinuation, ParseOverride("continuation"))
	assert.Equal(t, OverrideNone, ParseOverride(""))
	assert.Equal(t, OverrideNone, ParseOverride("auto"))
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		caps    provider.Capabilities
		mode    provider.Mode
		warning bool
	}{
		{"previous clip and support", Input{PreviousVideoURL: "prev.mp4"}, withV2V, provider.ModeContinuation, false},
		{"no previous clip", Input{}, withV2V, provider.ModeFresh, false},
		{"provider cannot continue", Input{PreviousVideoURL: "prev.mp4"}, noV2V, provider.ModeFresh, false},
		{"fresh override wins", Input{PreviousVideoURL: "prev.mp4", Override: OverrideFresh}, withV2V, provider.ModeFresh, false},
		{"continuation override", Input{PreviousVideoURL: "prev.mp4", Override: OverrideContinuation}, withV2V, provider.ModeContinuation, false},
		{"continuation override without clip", Input{Override: OverrideContinuation}, withV2V, provider.ModeFresh, true},
		{"continuation override unsupported", Input{PreviousVideoURL: "prev.mp4", Override: OverrideContinuation}, noV2V, provider.ModeFresh, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.in, tt.caps)
			assert.Equal(t, tt.mode, d.Mode)
			assert.Equal(t, tt.warning, d.Warning != "")
		})
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	overrides := gen.OneConstOf(OverrideNone, OverrideFresh, OverrideContinuation)
	properties.Property("same inputs give the same mode", prop.ForAll(
		func(hasPrev, supports bool, ov Override, prompt string) bool {
			in := Input{Override: ov, Prompt: prompt}
			if hasPrev {
				in.PreviousVideoURL = "prev.mp4"
			}
			caps := provider.Capabilities{SupportsContinuation: supports}
			first := Decide(in, caps)
			for i := 0; i < 3; i++ {
				if Decide(in, caps) != first {
					return false
				}
			}
			want := provider.ModeFresh
			if ov != OverrideFresh && hasPrev && supports {
				want = provider.ModeContinuation
			}
			return first.Mode == want
		},
		gen.Bool(), gen.Bool(), overrides, gen.AlphaString(),
	))
	properties.TestingRun(t)
}

type fakeRunner struct {
	prov  *stubProvider
	errs  []error
	reqs  []*provider.GenerationRequest
	calls int
}

type stubProvider struct {
	caps provider.Capabilities
}

func (s *stubProvider) Name() string                        { return "stub" }
func (s *stubProvider) Capabilities() provider.Capabilities { return s.caps }
func (s *stubProvider) Submit(context.Context, *provider.GenerationRequest) (string, error) {
	return "", nil
}
func (s *stubProvider) CheckStatus(context.Context, string) (*provider.Status, error) { return nil, nil }
func (s *stubProvider) FetchArtifact(context.Context, string) ([]byte, error)         { return nil, nil }

func (f *fakeRunner) Provider() provider.Provider { return f.prov }

func (f *fakeRunner) Run(ctx context.Context, req *provider.GenerationRequest) (*task.Task, error) {
	f.reqs = append(f.reqs, req)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return &task.Task{State: task.StateFailed}, f.errs[i]
	}
	return &task.Task{State: task.StateCompleted, ResultURL: "out.mp4"}, nil
}

type fakeFrames struct {
	url string
	err error
	got []string
}

func (f *fakeFrames) ExtractLastFrame(ctx context.Context, videoURL string) (string, error) {
	f.got = append(f.got, videoURL)
	return f.url, f.err
}

type countingFallbacks struct{ n int }

func (c *countingFallbacks) RecordFallback(string) { c.n++ }

func TestExecuteContinuation(t *testing.T) {
	run := &fakeRunner{prov: &stubProvider{caps: withV2V}}
	p := NewPlanner(nil, Options{InjectIdentity: true}, nil, nil)

	out, err := p.Execute(context.Background(), Input{
		Prompt:           "the cat jumps",
		PreviousVideoURL: "scene1.mp4",
		SceneImageURL:    "scene2.png",
		DurationSeconds:  7,
	}, run)
	require.NoError(t, err)
	assert.Equal(t, provider.ModeContinuation, out.Mode)
	assert.False(t, out.FellBack)
	require.Len(t, run.reqs, 1)
	assert.Equal(t, "scene1.mp4", run.reqs[0].VideoURL)
	assert.Empty(t, run.reqs[0].ImageURLs)
	assert.Equal(t, 5, run.reqs[0].DurationSeconds)
	assert.NotContains(t, run.reqs[0].Prompt, "reference image")
}

func TestExecuteFallsBackFreshOnce(t *testing.T) {
	run := &fakeRunner{
		prov: &stubProvider{caps: withV2V},
		errs: []error{provider.NewError("stub", provider.KindFailed, "v2v broke")},
	}
	fb := &countingFallbacks{}
	p := NewPlanner(nil, Options{}, nil, fb)

	out, err := p.Execute(context.Background(), Input{
		Prompt:           "p",
		PreviousVideoURL: "scene1.mp4",
		SceneImageURL:    "scene2.png",
	}, run)
	require.NoError(t, err)
	assert.True(t, out.FellBack)
	assert.Equal(t, provider.ModeFresh, out.Mode)
	assert.Equal(t, "scene2.png", out.Seed)
	require.Len(t, run.reqs, 2)
	assert.Equal(t, provider.ModeContinuation, run.reqs[0].Mode())
	assert.Equal(t, []string{"scene2.png"}, run.reqs[1].ImageURLs)
	assert.Equal(t, 1, fb.n)
}

func TestExecuteFreshFailureIsFinal(t *testing.T) {
	boom := provider.NewError("stub", provider.KindModeration, "")
	run := &fakeRunner{prov: &stubProvider{caps: withV2V}, errs: []error{boom, boom}}

	out, err := NewPlanner(nil, Options{}, nil, nil).Execute(context.Background(), Input{
		Prompt: "p", PreviousVideoURL: "scene1.mp4", SceneImageURL: "s.png",
	}, run)
	require.Error(t, err)
	assert.Equal(t, provider.KindModeration, provider.KindOf(err))
	assert.True(t, out.FellBack)
	assert.Equal(t, 2, run.calls)
}

func TestExecuteNoFallbackOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run := &fakeRunner{prov: &stubProvider{caps: withV2V}, errs: []error{context.Canceled}}

	_, err := NewPlanner(nil, Options{}, nil, nil).Execute(ctx, Input{
		Prompt: "p", PreviousVideoURL: "scene1.mp4", SceneImageURL: "s.png",
	}, run)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, run.calls)
}

func TestExecuteFreshOverrideIgnoresPreviousClip(t *testing.T) {
	run := &fakeRunner{prov: &stubProvider{caps: withV2V}}

	out, err := NewPlanner(nil, Options{}, nil, nil).Execute(context.Background(), Input{
		Prompt: "p", PreviousVideoURL: "scene1.mp4", SceneImageURL: "s.png", Override: ParseOverride("i2v"),
	}, run)
	require.NoError(t, err)
	assert.Equal(t, provider.ModeFresh, out.Mode)
	require.Len(t, run.reqs, 1)
	assert.Empty(t, run.reqs[0].VideoURL)
}

func TestFreshSeedResolution(t *testing.T) {
	tests := []struct {
		name   string
		frames *fakeFrames
		in     Input
		want   string
	}{
		{"parent last frame", &fakeFrames{url: "frame.png"}, Input{ParentVideoURL: "parent.mp4", SceneImageURL: "s.png", SourceImageURL: "src.png"}, "frame.png"},
		{"extraction fails", &fakeFrames{err: errors.New("ffmpeg")}, Input{ParentVideoURL: "parent.mp4", SceneImageURL: "s.png", SourceImageURL: "src.png"}, "s.png"},
		{"extraction fails no still", &fakeFrames{err: errors.New("ffmpeg")}, Input{ParentVideoURL: "parent.mp4", SourceImageURL: "src.png"}, "src.png"},
		{"top level scene", &fakeFrames{url: "frame.png"}, Input{SceneImageURL: "s.png", SourceImageURL: "src.png"}, "s.png"},
		{"source only", &fakeFrames{}, Input{SourceImageURL: "src.png"}, "src.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &fakeRunner{prov: &stubProvider{caps: noV2V}}
			tt.in.Prompt = "p"
			out, err := NewPlanner(tt.frames, Options{}, nil, nil).Execute(context.Background(), tt.in, run)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Seed)
			assert.Equal(t, []string{tt.want}, run.reqs[0].ImageURLs)
			if tt.in.ParentVideoURL == "" {
				assert.Empty(t, tt.frames.got)
			}
		})
	}
}

func TestExecuteWithoutSeed(t *testing.T) {
	run := &fakeRunner{prov: &stubProvider{caps: noV2V}}
	out, err := NewPlanner(nil, Options{}, nil, nil).Execute(context.Background(), Input{Prompt: "p"}, run)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, provider.KindInvalidInput, provider.KindOf(err))
	assert.Zero(t, run.calls)
}

func TestFreshRequestNormalization(t *testing.T) {
	run := &fakeRunner{prov: &stubProvider{caps: noV2V}}
	p := NewPlanner(nil, Options{InjectIdentity: true, QualitySuffix: "4k"}, nil, nil)

	_, err := p.Execute(context.Background(), Input{
		Prompt:          "a dog runs",
		SceneImageURL:   "s.png",
		AspectRatio:     "portrait",
		DurationSeconds: 9,
		Camera:          "zoom in",
	}, run)
	require.NoError(t, err)
	req := run.reqs[0]
	assert.Equal(t, "9:16", req.AspectRatio)
	assert.Equal(t, 10, req.DurationSeconds)
	assert.Equal(t, "zoom in", req.Camera)
	assert.Contains(t, req.Prompt, "a dog runs.")
	assert.Contains(t, req.Prompt, "reference image")
	assert.Contains(t, req.Prompt, "4k")
}
