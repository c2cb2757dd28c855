package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"server/internal/domain"
	"server/internal/ledger"
)

// Stage names as they appear in progress events.
const (
	StagePlan   = "plan"
	StageSpeech = "speech"
	StageImage  = "image"
	StageVideo  = "video"
)

// CoordinatorConfig tunes the staged pipeline.
type CoordinatorConfig struct {
	Concurrency         int
	MinSceneSeconds     int
	DefaultSceneSeconds int
	DefaultSceneCount   int
	CompositeCost       int64
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MinSceneSeconds <= 0 {
		c.MinSceneSeconds = 3
	}
	if c.DefaultSceneSeconds <= 0 {
		c.DefaultSceneSeconds = 4
	}
	if c.DefaultSceneCount <= 0 {
		c.DefaultSceneCount = 5
	}
	if c.CompositeCost <= 0 {
		c.CompositeCost = 10
	}
	return c
}

// Coordinator sequences the production pipeline: one planning call,
// then a speech fan-out, then an image fan-out, each stage finishing
// across the whole scene set before the next begins. Video is an
// explicit per-scene operation, never fanned out silently.
type Coordinator struct {
	mu       sync.RWMutex
	runs     map[string]*domain.Run
	exec     *Executor
	ledger   *ledger.Ledger
	policies domain.PolicyTable
	cfg      CoordinatorConfig
	events   *Broadcaster
	logger   zerolog.Logger
	tracer   trace.Tracer
}

func NewCoordinator(exec *Executor, lg *ledger.Ledger, policies domain.PolicyTable, cfg CoordinatorConfig, events *Broadcaster, logger zerolog.Logger) *Coordinator {
	if policies == nil {
		policies = domain.DefaultPolicies()
	}
	return &Coordinator{
		runs:     make(map[string]*domain.Run),
		exec:     exec,
		ledger:   lg,
		policies: policies,
		cfg:      cfg.withDefaults(),
		events:   events,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// SubmitRunRequest carries either a concept to plan from scratch, or
// pre-uploaded source images the plan will be aligned to, or both.
type SubmitRunRequest struct {
	Concept      string
	SceneCount   int
	AspectRatio  string
	Locale       string
	BrandStyle   string
	SourceImages []string
}

// CreateRun validates and registers a run. No credits are committed
// here; production starts with ProduceRun.
func (c *Coordinator) CreateRun(req SubmitRunRequest) (*domain.Run, error) {
	if strings.TrimSpace(req.Concept) == "" && len(req.SourceImages) == 0 {
		return nil, fmt.Errorf("%w: concept or source images required", domain.ErrInvalidInput)
	}
	now := time.Now().UTC()
	run := &domain.Run{
		ID:          uuid.NewString(),
		Concept:     strings.TrimSpace(req.Concept),
		AspectRatio: domain.NormalizeAspectRatio(req.AspectRatio),
		Locale:      req.Locale,
		BrandStyle:  req.BrandStyle,
		SceneCount:  req.SceneCount,
		Status:      domain.RunPlanning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, src := range req.SourceImages {
		run.Scenes = append(run.Scenes, &domain.Scene{
			ID:              uuid.NewString(),
			Position:        i,
			SourceImage:     src,
			DurationSeconds: c.cfg.DefaultSceneSeconds,
		})
	}

	c.mu.Lock()
	c.runs[run.ID] = run
	c.mu.Unlock()

	c.publish(Event{Type: EventRunAccepted, RunID: run.ID})
	return run.Clone(), nil
}

// ProduceRun drives the registered run through plan, speech, and image
// stages. Planning failure aborts before any spend; speech and image
// items fail independently without stopping siblings or the next
// stage.
func (c *Coordinator) ProduceRun(ctx context.Context, runID string) (*domain.Run, error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.produce_run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	c.mu.RLock()
	run, ok := c.runs[runID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}

	sceneCount := run.SceneTarget(c.cfg.DefaultSceneCount)

	plans, err := c.planStage(ctx, run, sceneCount)
	if err != nil {
		c.failRun(run, err)
		return nil, err
	}
	c.applyPlan(run, plans)

	c.speechStage(ctx, run)
	c.imageStage(ctx, run)

	c.mu.Lock()
	run.Status = domain.RunReady
	run.UpdatedAt = time.Now().UTC()
	snapshot := run.Clone()
	c.mu.Unlock()

	c.publish(Event{Type: EventRunCompleted, RunID: run.ID, Balance: c.ledger.Balance()})
	return snapshot, nil
}

// Run returns a read-side snapshot.
func (c *Coordinator) Run(id string) (*domain.Run, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	run, ok := c.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, id)
	}
	return run.Clone(), nil
}

// RenderSceneVideo runs the on-demand video stage for one scene. The
// cost is reserved before dispatch and refunded exactly once when the
// outcome is a failure; the failure itself is surfaced, not swallowed.
func (c *Coordinator) RenderSceneVideo(ctx context.Context, runID, sceneID string) (domain.JobOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.render_scene_video",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("scene.id", sceneID),
		))
	defer span.End()

	c.mu.Lock()
	run, ok := c.runs[runID]
	if !ok {
		c.mu.Unlock()
		return domain.JobOutcome{}, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	scene := run.Scene(sceneID)
	if scene == nil {
		c.mu.Unlock()
		return domain.JobOutcome{}, fmt.Errorf("%w: scene %s", domain.ErrNotFound, sceneID)
	}
	imageRef := scene.ImageRef()
	if imageRef == "" {
		c.mu.Unlock()
		return domain.JobOutcome{}, fmt.Errorf("%w: scene %s has no image to animate", domain.ErrInvalidInput, sceneID)
	}
	if scene.VideoState == domain.WorkGenerating {
		c.mu.Unlock()
		return domain.JobOutcome{}, fmt.Errorf("%w: scene %s video already in progress", domain.ErrInvalidInput, sceneID)
	}
	scene.VideoState = domain.WorkGenerating
	motion := scene.VisualInstruction
	ratio := run.AspectRatio
	c.mu.Unlock()
	c.publish(Event{Type: EventSceneUpdated, RunID: runID, SceneID: sceneID, Stage: StageVideo, Detail: "generating"})

	policy := c.policies[domain.JobVideo]
	out := c.runCharged(ctx, domain.JobRequest{
		ID:              uuid.NewString(),
		Kind:            domain.JobVideo,
		Cost:            policy.Cost,
		RefundOnFailure: policy.RefundOnFailure,
		Payload: domain.VideoPayload{
			ImageRef:    imageRef,
			Motion:      motion,
			AspectRatio: ratio,
		},
	})

	c.mu.Lock()
	if out.Failed() {
		scene.VideoState = domain.WorkFailed
		scene.LastError = domain.FailureClass(out.Err)
	} else {
		scene.Video = out.Artifact
		scene.VideoState = domain.WorkReady
		scene.LastError = ""
	}
	run.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()

	detail := "ready"
	if out.Failed() {
		detail = domain.FailureClass(out.Err)
	}
	c.publish(Event{Type: EventSceneUpdated, RunID: runID, SceneID: sceneID, Stage: StageVideo, Detail: detail, Balance: c.ledger.Balance()})
	return out, nil
}

// CompositeRequest describes one auto-loop cycle: quantity composite
// variations over the same reference images.
type CompositeRequest struct {
	Instruction string
	References  []string
	AspectRatio string
	BrandStyle  string
	Quantity    int
}

// CycleCost prices one cycle of the given quantity.
func (c *Coordinator) CycleCost(quantity int) int64 {
	if quantity < 1 {
		quantity = 1
	}
	return c.cfg.CompositeCost * int64(quantity)
}

// RunComposite produces one batch of composite images. Items are
// priced and admission-checked individually; the batch as a whole
// fails only when not a single item produced an artifact.
func (c *Coordinator) RunComposite(ctx context.Context, req CompositeRequest) ([]domain.JobOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.run_composite",
		trace.WithAttributes(attribute.Int("composite.quantity", req.Quantity)))
	defer span.End()

	if len(req.References) == 0 {
		return nil, fmt.Errorf("%w: at least one source image required", domain.ErrInvalidInput)
	}
	quantity := req.Quantity
	if quantity < 1 {
		quantity = 1
	}

	base := compositeInstruction(req.Instruction, req.BrandStyle)
	reqs := make([]domain.JobRequest, quantity)
	for i := range reqs {
		instruction := base
		if i > 0 {
			instruction = fmt.Sprintf("%s (Variation %d, slightly different angle or composition arrangement.)", base, i+1)
		}
		reqs[i] = domain.JobRequest{
			ID:   uuid.NewString(),
			Kind: domain.JobImage,
			Cost: c.cfg.CompositeCost,
			Payload: domain.ImagePayload{
				Instruction: instruction,
				References:  req.References,
				AspectRatio: domain.NormalizeAspectRatio(req.AspectRatio),
			},
		}
	}

	outcomes := RunBatch(ctx, c.cfg.Concurrency, reqs, c.runCharged)

	succeeded := 0
	starved := 0
	for _, out := range outcomes {
		if !out.Failed() {
			succeeded++
		} else if errors.Is(out.Err, domain.ErrInsufficientCredits) {
			starved++
		}
	}
	if succeeded == 0 {
		if starved == len(outcomes) {
			return outcomes, fmt.Errorf("%w: composite batch", domain.ErrInsufficientCredits)
		}
		return outcomes, fmt.Errorf("%w: no composite images generated", domain.ErrProviderFailure)
	}
	return outcomes, nil
}

// runCharged pairs the admission check with execution: the cost is
// reserved before dispatch, and a refundable job that fails refunds
// exactly once at this single call site.
func (c *Coordinator) runCharged(ctx context.Context, req domain.JobRequest) domain.JobOutcome {
	if req.Cost > 0 && !c.ledger.Reserve(req.Cost, req.ID) {
		return domain.JobOutcome{
			JobID: req.ID,
			Kind:  req.Kind,
			Err:   fmt.Errorf("%w: job %s needs %d credits", domain.ErrInsufficientCredits, req.ID, req.Cost),
		}
	}
	out := c.exec.Execute(ctx, req)
	if out.Failed() && req.RefundOnFailure && req.Cost > 0 {
		c.ledger.Refund(req.Cost, req.ID)
	}
	return out
}

func (c *Coordinator) planStage(ctx context.Context, run *domain.Run, sceneCount int) ([]domain.ScenePlan, error) {
	c.publish(Event{Type: EventStageStarted, RunID: run.ID, Stage: StagePlan})

	concept := run.Concept
	if concept == "" {
		concept = "Create a compelling visual sequence"
	}
	policy := c.policies[domain.JobPlan]
	out := c.runCharged(ctx, domain.JobRequest{
		ID:              uuid.NewString(),
		Kind:            domain.JobPlan,
		Cost:            policy.Cost,
		RefundOnFailure: policy.RefundOnFailure,
		Payload: domain.PlanPayload{
			Concept:    concept,
			SceneCount: sceneCount,
			HasScenes:  len(run.Scenes) > 0,
			Locale:     run.Locale,
		},
	})
	if out.Failed() {
		return nil, out.Err
	}
	c.publish(Event{Type: EventStageCompleted, RunID: run.ID, Stage: StagePlan})
	return out.Plans, nil
}

// applyPlan aligns the plan positionally to existing scenes, padding
// gaps with the run concept, or creates the scene list from scratch.
func (c *Coordinator) applyPlan(run *domain.Run, plans []domain.ScenePlan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(run.Scenes) > 0 {
		for i, scene := range run.Scenes {
			if i < len(plans) {
				scene.VisualInstruction = fallback(plans[i].VisualInstruction, run.Concept)
				scene.VoiceOver = plans[i].VoiceOver
			} else {
				scene.VisualInstruction = fallback(scene.VisualInstruction, run.Concept)
			}
		}
	} else {
		for i, p := range plans {
			run.Scenes = append(run.Scenes, &domain.Scene{
				ID:                uuid.NewString(),
				Position:          i,
				VisualInstruction: p.VisualInstruction,
				VoiceOver:         p.VoiceOver,
				DurationSeconds:   c.cfg.DefaultSceneSeconds,
			})
		}
	}
	run.Status = domain.RunGenerating
	run.UpdatedAt = time.Now().UTC()
}

func (c *Coordinator) speechStage(ctx context.Context, run *domain.Run) {
	c.publish(Event{Type: EventStageStarted, RunID: run.ID, Stage: StageSpeech})

	policy := c.policies[domain.JobSpeech]
	var targets []*domain.Scene
	var reqs []domain.JobRequest
	c.mu.Lock()
	for _, scene := range run.Scenes {
		if strings.TrimSpace(scene.VoiceOver) == "" {
			continue
		}
		scene.AudioState = domain.WorkGenerating
		targets = append(targets, scene)
		reqs = append(reqs, domain.JobRequest{
			ID:              uuid.NewString(),
			Kind:            domain.JobSpeech,
			Cost:            policy.Cost,
			RefundOnFailure: policy.RefundOnFailure,
			Payload:         domain.SpeechPayload{Text: scene.VoiceOver, Locale: run.Locale},
		})
	}
	c.mu.Unlock()

	outcomes := RunBatch(ctx, c.cfg.Concurrency, reqs, c.runCharged)

	c.mu.Lock()
	for i, out := range outcomes {
		scene := targets[i]
		if out.Failed() {
			// Non-fatal: duration keeps its prior value, audio stays absent.
			scene.AudioState = domain.WorkFailed
			scene.LastError = domain.FailureClass(out.Err)
			continue
		}
		scene.Audio = out.Artifact
		scene.AudioState = domain.WorkReady
		if out.Artifact.Seconds > 0 {
			scene.DurationSeconds = audioDuration(out.Artifact.Seconds, c.cfg.MinSceneSeconds)
		}
	}
	run.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()

	for i := range targets {
		detail := "ready"
		if outcomes[i].Failed() {
			detail = domain.FailureClass(outcomes[i].Err)
		}
		c.publish(Event{Type: EventSceneUpdated, RunID: run.ID, SceneID: targets[i].ID, Stage: StageSpeech, Detail: detail})
	}
	c.publish(Event{Type: EventStageCompleted, RunID: run.ID, Stage: StageSpeech, Balance: c.ledger.Balance()})
}

func (c *Coordinator) imageStage(ctx context.Context, run *domain.Run) {
	c.publish(Event{Type: EventStageStarted, RunID: run.ID, Stage: StageImage})

	policy := c.policies[domain.JobImage]
	var targets []*domain.Scene
	var reqs []domain.JobRequest
	c.mu.Lock()
	for _, scene := range run.Scenes {
		if scene.ImageRef() != "" || strings.TrimSpace(scene.VisualInstruction) == "" {
			continue
		}
		scene.ImageState = domain.WorkGenerating
		targets = append(targets, scene)
		reqs = append(reqs, domain.JobRequest{
			ID:              uuid.NewString(),
			Kind:            domain.JobImage,
			Cost:            policy.Cost,
			RefundOnFailure: policy.RefundOnFailure,
			Payload: domain.ImagePayload{
				Instruction: imageInstruction(scene.VisualInstruction, run.BrandStyle),
				AspectRatio: run.AspectRatio,
			},
		})
	}
	c.mu.Unlock()

	outcomes := RunBatch(ctx, c.cfg.Concurrency, reqs, c.runCharged)

	c.mu.Lock()
	for i, out := range outcomes {
		scene := targets[i]
		if out.Failed() {
			// The scene stays visually empty; the operator can retry it.
			scene.ImageState = domain.WorkFailed
			scene.LastError = domain.FailureClass(out.Err)
			continue
		}
		scene.Image = out.Artifact
		scene.ImageState = domain.WorkReady
	}
	run.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()

	for i := range targets {
		detail := "ready"
		if outcomes[i].Failed() {
			detail = domain.FailureClass(outcomes[i].Err)
		}
		c.publish(Event{Type: EventSceneUpdated, RunID: run.ID, SceneID: targets[i].ID, Stage: StageImage, Detail: detail})
	}
	c.publish(Event{Type: EventStageCompleted, RunID: run.ID, Stage: StageImage, Balance: c.ledger.Balance()})
}

func (c *Coordinator) failRun(run *domain.Run, err error) {
	c.mu.Lock()
	run.Status = domain.RunFailed
	run.Error = domain.FailureClass(err)
	run.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()
	c.publish(Event{Type: EventRunFailed, RunID: run.ID, Detail: domain.FailureClass(err)})
	c.logger.Error().Err(err).Str("run_id", run.ID).Msg("run aborted at planning")
}

func (c *Coordinator) publish(e Event) {
	if c.events != nil {
		c.events.Publish(e)
	}
}

// audioDuration floors the measured audio length at the minimum scene
// length and rounds up to whole seconds.
func audioDuration(seconds float64, minSeconds int) int {
	d := int(math.Ceil(seconds))
	if d < minSeconds {
		d = minSeconds
	}
	return d
}

func imageInstruction(visual, brandStyle string) string {
	instruction := visual
	if brandStyle != "" {
		instruction += " Style: " + brandStyle + "."
	}
	return instruction + " Photorealistic, 8k, seamless composition."
}

func compositeInstruction(custom, brandStyle string) string {
	instruction := "Create a perfectly blended, photorealistic composition. Match lighting, shadows, and perspective seamlessly."
	if strings.TrimSpace(custom) != "" {
		instruction += " Scene details: " + strings.TrimSpace(custom) + "."
	}
	if brandStyle != "" {
		instruction += " Apply brand style: " + brandStyle + "."
	}
	return instruction
}

func fallback(value, alt string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return alt
}
