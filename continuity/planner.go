package continuity

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"StoryReel-server/normalize"
	"StoryReel-server/provider"
	"StoryReel-server/task"
)

// FrameExtractor pulls the last frame of a clip out as a still image.
type FrameExtractor interface {
	ExtractLastFrame(ctx context.Context, videoURL string) (string, error)
}

// Runner drives one request to a terminal state. *task.Machine satisfies it.
type Runner interface {
	Provider() provider.Provider
	Run(ctx context.Context, req *provider.GenerationRequest) (*task.Task, error)
}

// FallbackRecorder counts continuation attempts that were retried fresh.
type FallbackRecorder interface {
	RecordFallback(provider string)
}

// Options tune request building.
type Options struct {
	// InjectIdentity adds the identity clause to image seeded prompts.
	InjectIdentity bool
	// QualitySuffix is appended to every prompt when set.
	QualitySuffix string
}

// Planner turns a scene Input into at most two provider runs.
type Planner struct {
	frames  FrameExtractor
	opts    Options
	logger  *zap.Logger
	metrics FallbackRecorder
}

// NewPlanner returns a Planner. frames may be nil, in which case sub-scenes
// fall back to their own still image.
func NewPlanner(frames FrameExtractor, opts Options, logger *zap.Logger, metrics FallbackRecorder) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{frames: frames, opts: opts, logger: logger.With(zap.String("component", "continuity")), metrics: metrics}
}

// Outcome is what one scene attempt produced.
type Outcome struct {
	Task     *task.Task
	Mode     provider.Mode
	Seed     string
	Request  *provider.GenerationRequest
	FellBack bool
	Warning  string
}

// Execute runs the scene. A failed continuation is retried once as a fresh
// generation, so the caller sees a single outcome either way.
func (p *Planner) Execute(ctx context.Context, in Input, run Runner) (*Outcome, error) {
	prov := run.Provider()
	caps := prov.Capabilities()
	dec := Decide(in, caps)
	if dec.Warning != "" {
		p.logger.Warn("mode override not honored", zap.String("provider", prov.Name()), zap.String("reason", dec.Warning))
	}

	if dec.Mode == provider.ModeContinuation {
		req := p.continuationRequest(in, caps)
		t, err := run.Run(ctx, req)
		if err == nil {
			return &Outcome{Task: t, Mode: provider.ModeContinuation, Seed: in.PreviousVideoURL, Request: req}, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return &Outcome{Task: t, Mode: provider.ModeContinuation, Seed: in.PreviousVideoURL, Request: req}, err
		}
		p.logger.Warn("continuation failed, retrying fresh",
			zap.String("provider", prov.Name()),
			zap.String("kind", string(provider.KindOf(err))),
			zap.Error(err))
		if p.metrics != nil {
			p.metrics.RecordFallback(prov.Name())
		}
		out, ferr := p.runFresh(ctx, in, caps, run)
		if out != nil {
			out.FellBack = true
			out.Warning = dec.Warning
		}
		return out, ferr
	}

	out, err := p.runFresh(ctx, in, caps, run)
	if out != nil {
		out.Warning = dec.Warning
	}
	return out, err
}

func (p *Planner) runFresh(ctx context.Context, in Input, caps provider.Capabilities, run Runner) (*Outcome, error) {
	seed := p.freshSeed(ctx, in)
	if seed == "" {
		return nil, provider.NewError(run.Provider().Name(), provider.KindInvalidInput, "scene has no seed image")
	}
	req := p.freshRequest(in, seed, caps)
	t, err := run.Run(ctx, req)
	return &Outcome{Task: t, Mode: provider.ModeFresh, Seed: seed, Request: req}, err
}

// freshSeed resolves the still image for a fresh run: the parent's last
// frame for sub-scenes, then the scene's own still, then the storyboard
// source.
func (p *Planner) freshSeed(ctx context.Context, in Input) string {
	if in.ParentVideoURL != "" && p.frames != nil {
		frame, err := p.frames.ExtractLastFrame(ctx, in.ParentVideoURL)
		if err == nil && frame != "" {
			return frame
		}
		p.logger.Warn("last frame extraction failed", zap.String("video_url", in.ParentVideoURL), zap.Error(err))
	}
	if in.SceneImageURL != "" {
		return in.SceneImageURL
	}
	return in.SourceImageURL
}

func (p *Planner) prompt(raw string, imageSeeded bool) string {
	out := raw
	if imageSeeded && p.opts.InjectIdentity {
		out = normalize.InjectIdentity(out)
	}
	if p.opts.QualitySuffix != "" {
		out = normalize.BoostQuality(out, p.opts.QualitySuffix)
	}
	return out
}

func (p *Planner) freshRequest(in Input, seed string, caps provider.Capabilities) *provider.GenerationRequest {
	return &provider.GenerationRequest{
		ImageURLs:        caps.LimitImages([]string{seed}),
		Prompt:           p.prompt(in.Prompt, true),
		NegativePrompt:   in.NegativePrompt,
		DurationSeconds:  caps.ClampDuration(in.DurationSeconds),
		AspectRatio:      normalize.AspectRatio(in.AspectRatio),
		Camera:           in.Camera,
		EndImageURL:      in.EndImageURL,
		ElementImageURLs: caps.LimitImages(in.ElementImageURLs),
	}
}

func (p *Planner) continuationRequest(in Input, caps provider.Capabilities) *provider.GenerationRequest {
	return &provider.GenerationRequest{
		VideoURL:        in.PreviousVideoURL,
		Prompt:          p.prompt(in.Prompt, false),
		NegativePrompt:  in.NegativePrompt,
		DurationSeconds: caps.ClampDuration(in.DurationSeconds),
		AspectRatio:     normalize.AspectRatio(in.AspectRatio),
		Camera:          in.Camera,
	}
}
