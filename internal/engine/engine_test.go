package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/ledger"
	"server/internal/providers/image"
	"server/internal/providers/plan"
	"server/internal/providers/speech"
	"server/internal/providers/video"
)

// Fakes shared across the engine tests. Each one is deterministic and
// safe for concurrent use.

type fakePlanner struct {
	mu    sync.Mutex
	calls int
	err   error
	plans []plan.ScenePlan
}

func (f *fakePlanner) Plan(_ context.Context, req plan.Request) ([]plan.ScenePlan, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.plans != nil {
		return f.plans, nil
	}
	out := make([]plan.ScenePlan, req.SceneCount)
	for i := range out {
		out[i] = plan.ScenePlan{
			VisualInstruction: fmt.Sprintf("scene %d for %s", i+1, req.Concept),
			VoiceOver:         fmt.Sprintf("voice over %d", i+1),
			ShotType:          "medium",
		}
	}
	return out, nil
}

type fakeSpeech struct {
	mu       sync.Mutex
	calls    int
	seconds  float64
	failText string
}

func (f *fakeSpeech) Synthesize(_ context.Context, req speech.Request) (*speech.Asset, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failText != "" && strings.Contains(req.Text, f.failText) {
		return nil, errors.New("tts unavailable")
	}
	seconds := f.seconds
	if seconds == 0 {
		seconds = 5.2
	}
	return &speech.Asset{Data: []byte("riff"), Format: "audio/wav", Seconds: seconds}, nil
}

type fakeImage struct {
	err   error
	delay time.Duration

	calls       int32
	inFlight    int32
	maxInFlight int32
}

func (f *fakeImage) Generate(_ context.Context, _ image.Request) (*image.Asset, error) {
	atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.inFlight, -1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &image.Asset{URL: "https://cdn.example.test/image.png", Format: "image/png"}, nil
}

type statusStep struct {
	status video.Status
	err    error
}

type fakeVideo struct {
	submitErr error
	steps     []statusStep

	polls int32
	next  int32
}

func (f *fakeVideo) Submit(context.Context, video.SubmitRequest) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "task-1", nil
}

func (f *fakeVideo) Status(context.Context, string) (video.Status, error) {
	atomic.AddInt32(&f.polls, 1)
	i := int(atomic.AddInt32(&f.next, 1)) - 1
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	step := f.steps[i]
	return step.status, step.err
}

type capturingExporter struct {
	batches chan []*domain.Artifact
}

func newCapturingExporter() *capturingExporter {
	return &capturingExporter{batches: make(chan []*domain.Artifact, 16)}
}

func (e *capturingExporter) ExportBatch(_ context.Context, _ int, artifacts []*domain.Artifact) {
	e.batches <- artifacts
}

func defaultCaps() Capabilities {
	return Capabilities{
		Planner: &fakePlanner{},
		Speech:  &fakeSpeech{},
		Image:   &fakeImage{},
		Video:   &fakeVideo{steps: []statusStep{{status: video.Status{State: video.StateSucceeded, ArtifactURL: "https://cdn.example.test/clip.mp4"}}}},
	}
}

func newTestExecutor(caps Capabilities) *Executor {
	return NewExecutor(caps, ExecutorConfig{PollInterval: time.Millisecond, PollMaxAttempts: 5}, zerolog.Nop())
}

func newTestCoordinator(caps Capabilities, balance int64) (*Coordinator, *ledger.Ledger) {
	lg := ledger.New(balance)
	coord := NewCoordinator(
		newTestExecutor(caps),
		lg,
		domain.DefaultPolicies(),
		CoordinatorConfig{Concurrency: 4},
		NewBroadcaster(),
		zerolog.Nop(),
	)
	return coord, lg
}
