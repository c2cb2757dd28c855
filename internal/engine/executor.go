// Package engine is the generation orchestration core: a typed job
// executor over the capability clients, a bounded batch runner, the
// staged pipeline coordinator, and the auto-loop scheduler.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"server/internal/domain"
	"server/internal/providers/image"
	"server/internal/providers/plan"
	"server/internal/providers/speech"
	"server/internal/providers/video"
)

const tracerName = "server/internal/engine"

// Capabilities bundles the external generation services the executor
// can invoke. Every field is required.
type Capabilities struct {
	Planner plan.Planner
	Speech  speech.Synthesizer
	Image   image.Generator
	Video   video.Client
}

// ExecutorConfig tunes the video poll loop. Both knobs are deployment
// configuration, not constants: providers differ in how long a render
// takes and how often they want to be polled.
type ExecutorConfig struct {
	PollInterval    time.Duration
	PollMaxAttempts int
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollMaxAttempts <= 0 {
		c.PollMaxAttempts = 60
	}
	return c
}

// Executor invokes exactly one capability per job and maps every
// failure into the error taxonomy. It never touches the ledger;
// charging and compensation belong to the caller.
type Executor struct {
	caps   Capabilities
	cfg    ExecutorConfig
	logger zerolog.Logger
	tracer trace.Tracer
}

func NewExecutor(caps Capabilities, cfg ExecutorConfig, logger zerolog.Logger) *Executor {
	return &Executor{
		caps:   caps,
		cfg:    cfg.withDefaults(),
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Execute runs one job to its single outcome.
func (e *Executor) Execute(ctx context.Context, req domain.JobRequest) domain.JobOutcome {
	ctx, span := e.tracer.Start(ctx, "executor.execute",
		trace.WithAttributes(
			attribute.String("job.id", req.ID),
			attribute.String("job.kind", string(req.Kind)),
		))
	defer span.End()

	out := domain.JobOutcome{JobID: req.ID, Kind: req.Kind}
	switch payload := req.Payload.(type) {
	case domain.PlanPayload:
		out.Plans, out.Err = e.executePlan(ctx, payload)
	case domain.SpeechPayload:
		out.Artifact, out.Err = e.executeSpeech(ctx, payload)
	case domain.ImagePayload:
		out.Artifact, out.Err = e.executeImage(ctx, payload)
	case domain.VideoPayload:
		out.Artifact, out.Err = e.executeVideo(ctx, payload)
	default:
		out.Err = fmt.Errorf("%w: unsupported payload %T", domain.ErrInvalidInput, req.Payload)
	}
	if out.Err != nil {
		span.RecordError(out.Err)
		e.logger.Warn().Err(out.Err).
			Str("job_id", req.ID).
			Str("kind", string(req.Kind)).
			Msg("job failed")
	}
	return out
}

func (e *Executor) executePlan(ctx context.Context, p domain.PlanPayload) ([]domain.ScenePlan, error) {
	plans, err := e.caps.Planner.Plan(ctx, plan.Request{
		Concept:    p.Concept,
		SceneCount: p.SceneCount,
		HasImages:  p.HasScenes,
		Locale:     p.Locale,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: planner returned no scenes", domain.ErrProviderFailure)
	}
	out := make([]domain.ScenePlan, len(plans))
	for i, sp := range plans {
		out[i] = domain.ScenePlan{
			VisualInstruction: sp.VisualInstruction,
			VoiceOver:         sp.VoiceOver,
			ShotType:          sp.ShotType,
		}
	}
	return out, nil
}

func (e *Executor) executeSpeech(ctx context.Context, p domain.SpeechPayload) (*domain.Artifact, error) {
	asset, err := e.caps.Speech.Synthesize(ctx, speech.Request{Text: p.Text, Locale: p.Locale})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	return &domain.Artifact{
		Data:    asset.Data,
		Format:  asset.Format,
		Seconds: asset.Seconds,
	}, nil
}

func (e *Executor) executeImage(ctx context.Context, p domain.ImagePayload) (*domain.Artifact, error) {
	asset, err := e.caps.Image.Generate(ctx, image.Request{
		Instruction: p.Instruction,
		References:  p.References,
		AspectRatio: p.AspectRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	return &domain.Artifact{
		URL:    asset.URL,
		Data:   asset.Data,
		Format: asset.Format,
	}, nil
}

// executeVideo runs the submit/poll/fetch state machine. The task is
// polled on a fixed interval until it is terminal or the attempt
// ceiling is reached; exhaustion reports as a timeout. Poll errors
// consume an attempt like any other observation, so a dead provider
// cannot pin the loop forever.
func (e *Executor) executeVideo(ctx context.Context, p domain.VideoPayload) (*domain.Artifact, error) {
	ctx, span := e.tracer.Start(ctx, "executor.video_poll")
	defer span.End()

	taskID, err := e.caps.Video.Submit(ctx, video.SubmitRequest{
		ImageRef:    p.ImageRef,
		Motion:      p.Motion,
		AspectRatio: p.AspectRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	span.SetAttributes(attribute.String("video.task_id", taskID))

	for attempt := 0; attempt < e.cfg.PollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
		case <-time.After(e.cfg.PollInterval):
		}

		st, err := e.caps.Video.Status(ctx, taskID)
		if err != nil {
			e.logger.Debug().Err(err).Str("task_id", taskID).Int("attempt", attempt+1).Msg("video poll error")
			continue
		}
		switch st.State {
		case video.StateSucceeded:
			if st.ArtifactURL == "" {
				return nil, fmt.Errorf("%w: task %s succeeded without output", domain.ErrProviderFailure, taskID)
			}
			span.SetAttributes(attribute.Int("video.attempts", attempt+1))
			return &domain.Artifact{URL: st.ArtifactURL, Format: "video/mp4"}, nil
		case video.StateFailed:
			return nil, fmt.Errorf("%w: task %s failed", domain.ErrProviderFailure, taskID)
		}
	}
	return nil, fmt.Errorf("%w: task %s still pending after %d polls", domain.ErrTimeout, taskID, e.cfg.PollMaxAttempts)
}
