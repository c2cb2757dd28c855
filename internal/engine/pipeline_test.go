package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"server/internal/domain"
	"server/internal/ledger"
	"server/internal/providers/video"
)

func TestCreateRunRequiresConceptOrImages(t *testing.T) {
	coord, _ := newTestCoordinator(defaultCaps(), 100)

	if _, err := coord.CreateRun(SubmitRunRequest{Concept: "   "}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestRunNotFound(t *testing.T) {
	coord, _ := newTestCoordinator(defaultCaps(), 100)

	if _, err := coord.Run("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestProduceRunFullPipeline(t *testing.T) {
	coord, lg := newTestCoordinator(defaultCaps(), 100)

	created, err := coord.CreateRun(SubmitRunRequest{Concept: "artisan coffee launch", SceneCount: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	run, err := coord.ProduceRun(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}

	if run.Status != domain.RunReady {
		t.Fatalf("run status %s, want ready", run.Status)
	}
	if len(run.Scenes) != 3 {
		t.Fatalf("got %d scenes, want 3", len(run.Scenes))
	}
	for i, s := range run.Scenes {
		if s.Position != i {
			t.Fatalf("scene %d stored at position %d", i, s.Position)
		}
		if s.AudioState != domain.WorkReady || s.Audio == nil {
			t.Fatalf("scene %d audio state %s", i, s.AudioState)
		}
		// 5.2s of measured audio rounds up to 6.
		if s.DurationSeconds != 6 {
			t.Fatalf("scene %d duration %d, want 6", i, s.DurationSeconds)
		}
		if s.ImageState != domain.WorkReady || s.Image == nil {
			t.Fatalf("scene %d image state %s", i, s.ImageState)
		}
		if s.VideoState != domain.WorkIdle {
			t.Fatalf("scene %d video state %s, want idle", i, s.VideoState)
		}
	}

	// 3 speech jobs at 1 credit and 3 image jobs at 5.
	if got := lg.Balance(); got != 82 {
		t.Fatalf("balance %d, want 82", got)
	}
}

func TestProduceRunSpeechFailureIsIsolated(t *testing.T) {
	caps := defaultCaps()
	caps.Speech = &fakeSpeech{failText: "voice over 2"}
	coord, lg := newTestCoordinator(caps, 100)

	created, _ := coord.CreateRun(SubmitRunRequest{Concept: "failure isolation", SceneCount: 3})
	run, err := coord.ProduceRun(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}

	if run.Status != domain.RunReady {
		t.Fatalf("run status %s, want ready", run.Status)
	}
	broken := run.Scenes[1]
	if broken.AudioState != domain.WorkFailed {
		t.Fatalf("scene 2 audio state %s, want failed", broken.AudioState)
	}
	if broken.Audio != nil {
		t.Fatal("failed scene must not carry audio")
	}
	if broken.LastError != "provider_failure" {
		t.Fatalf("scene 2 last error %q", broken.LastError)
	}
	// The failed item keeps the default duration.
	if broken.DurationSeconds != 4 {
		t.Fatalf("scene 2 duration %d, want 4", broken.DurationSeconds)
	}
	for _, i := range []int{0, 2} {
		if run.Scenes[i].AudioState != domain.WorkReady {
			t.Fatalf("scene %d audio state %s, want ready", i+1, run.Scenes[i].AudioState)
		}
	}
	// The image stage still ran for all three scenes.
	for i, s := range run.Scenes {
		if s.ImageState != domain.WorkReady {
			t.Fatalf("scene %d image state %s, want ready", i+1, s.ImageState)
		}
	}
	// Speech is not refundable: the failed item still spent its credit.
	if got := lg.Balance(); got != 82 {
		t.Fatalf("balance %d, want 82", got)
	}
}

func TestProduceRunPlanFailureAbortsBeforeSpend(t *testing.T) {
	caps := defaultCaps()
	caps.Planner = &fakePlanner{err: errors.New("model overloaded")}
	speech := &fakeSpeech{}
	img := &fakeImage{}
	caps.Speech = speech
	caps.Image = img
	coord, lg := newTestCoordinator(caps, 100)

	created, _ := coord.CreateRun(SubmitRunRequest{Concept: "doomed"})
	_, err := coord.ProduceRun(context.Background(), created.ID)
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("got %v, want ErrProviderFailure", err)
	}

	run, _ := coord.Run(created.ID)
	if run.Status != domain.RunFailed {
		t.Fatalf("run status %s, want failed", run.Status)
	}
	if run.Error != "provider_failure" {
		t.Fatalf("run error %q", run.Error)
	}
	if got := lg.Balance(); got != 100 {
		t.Fatalf("balance %d, want untouched 100", got)
	}
	if speech.calls != 0 || atomic.LoadInt32(&img.calls) != 0 {
		t.Fatalf("downstream stages ran after plan failure: speech=%d image=%d", speech.calls, img.calls)
	}
}

func TestProduceRunAlignsPlanToUploadedScenes(t *testing.T) {
	caps := defaultCaps()
	img := &fakeImage{}
	caps.Image = img
	coord, _ := newTestCoordinator(caps, 100)

	created, _ := coord.CreateRun(SubmitRunRequest{
		Concept:      "align to uploads",
		SourceImages: []string{"data:image/png;base64,AAA", "data:image/png;base64,BBB"},
	})
	run, err := coord.ProduceRun(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}

	if len(run.Scenes) != 2 {
		t.Fatalf("got %d scenes, want the 2 uploads", len(run.Scenes))
	}
	for i, s := range run.Scenes {
		if s.SourceImage == "" {
			t.Fatalf("scene %d lost its upload", i)
		}
		if s.VisualInstruction == "" || s.VoiceOver == "" {
			t.Fatalf("scene %d was not aligned to the plan: %+v", i, s)
		}
	}
	// Uploaded scenes already have imagery; nothing to synthesize.
	if got := atomic.LoadInt32(&img.calls); got != 0 {
		t.Fatalf("image generator called %d times for uploaded scenes", got)
	}
}

func TestProduceRunStopsAdmittingWhenBudgetRunsOut(t *testing.T) {
	// 2 credits cover two speech items; the third speech item and all
	// image items are refused admission, but the run still finishes.
	coord, lg := newTestCoordinator(defaultCaps(), 2)

	created, _ := coord.CreateRun(SubmitRunRequest{Concept: "shoestring", SceneCount: 3})
	run, err := coord.ProduceRun(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}

	if run.Status != domain.RunReady {
		t.Fatalf("run status %s, want ready", run.Status)
	}
	audioReady, audioStarved := 0, 0
	for _, s := range run.Scenes {
		switch s.AudioState {
		case domain.WorkReady:
			audioReady++
		case domain.WorkFailed:
			audioStarved++
			if s.LastError != "insufficient_credits" {
				t.Fatalf("starved scene error %q", s.LastError)
			}
		}
		if s.ImageState != domain.WorkFailed {
			t.Fatalf("image state %s, want failed for every scene", s.ImageState)
		}
	}
	if audioReady != 2 || audioStarved != 1 {
		t.Fatalf("audio ready=%d starved=%d, want 2/1", audioReady, audioStarved)
	}
	if got := lg.Balance(); got != 0 {
		t.Fatalf("balance %d, want 0", got)
	}
}

func produceReadyRun(t *testing.T, coord *Coordinator) *domain.Run {
	t.Helper()
	created, err := coord.CreateRun(SubmitRunRequest{
		Concept:      "video candidate",
		SourceImages: []string{"data:image/png;base64,AAA"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	run, err := coord.ProduceRun(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	return run
}

func TestRenderSceneVideoChargesOnSuccess(t *testing.T) {
	coord, lg := newTestCoordinator(defaultCaps(), 100)
	run := produceReadyRun(t, coord)
	before := lg.Balance()

	out, err := coord.RenderSceneVideo(context.Background(), run.ID, run.Scenes[0].ID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.Failed() {
		t.Fatalf("video failed: %v", out.Err)
	}

	got, _ := coord.Run(run.ID)
	scene := got.Scenes[0]
	if scene.VideoState != domain.WorkReady || scene.Video == nil {
		t.Fatalf("scene video state %s", scene.VideoState)
	}
	if lg.Balance() != before-25 {
		t.Fatalf("balance %d, want %d", lg.Balance(), before-25)
	}
}

func TestRenderSceneVideoRefundsOnFailure(t *testing.T) {
	caps := defaultCaps()
	caps.Video = &fakeVideo{steps: []statusStep{{status: video.Status{State: video.StateFailed}}}}
	coord, lg := newTestCoordinator(caps, 100)
	run := produceReadyRun(t, coord)
	before := lg.Balance()

	out, err := coord.RenderSceneVideo(context.Background(), run.ID, run.Scenes[0].ID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !errors.Is(out.Err, domain.ErrProviderFailure) {
		t.Fatalf("got %v, want ErrProviderFailure", out.Err)
	}

	// The charge was compensated exactly once.
	if lg.Balance() != before {
		t.Fatalf("balance %d, want restored %d", lg.Balance(), before)
	}
	spends, refunds := 0, 0
	for _, e := range lg.History() {
		switch e.Type {
		case ledger.TxSpend:
			if e.Amount == 25 {
				spends++
			}
		case ledger.TxRefund:
			if e.Amount == 25 {
				refunds++
			}
		}
	}
	if spends != 1 || refunds != 1 {
		t.Fatalf("journal has %d spends / %d refunds of 25, want 1/1", spends, refunds)
	}

	got, _ := coord.Run(run.ID)
	if got.Scenes[0].VideoState != domain.WorkFailed {
		t.Fatalf("scene video state %s, want failed", got.Scenes[0].VideoState)
	}
}

func TestRenderSceneVideoRequiresImage(t *testing.T) {
	caps := defaultCaps()
	caps.Image = &fakeImage{err: errors.New("filtered")}
	coord, _ := newTestCoordinator(caps, 100)

	created, _ := coord.CreateRun(SubmitRunRequest{Concept: "imageless", SceneCount: 1})
	run, err := coord.ProduceRun(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}

	_, err = coord.RenderSceneVideo(context.Background(), run.ID, run.Scenes[0].ID)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestRenderSceneVideoInsufficientCredits(t *testing.T) {
	// The produced run leaves 24 credits, one short of the video price.
	coord, lg := newTestCoordinator(defaultCaps(), 25)
	run := produceReadyRun(t, coord)
	if got := lg.Balance(); got != 24 {
		t.Fatalf("setup balance %d, want 24", got)
	}

	out, err := coord.RenderSceneVideo(context.Background(), run.ID, run.Scenes[0].ID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !errors.Is(out.Err, domain.ErrInsufficientCredits) {
		t.Fatalf("got %v, want ErrInsufficientCredits", out.Err)
	}
	if got := lg.Balance(); got != 24 {
		t.Fatalf("balance %d changed by a refused job", got)
	}
}

func TestRunCompositeChargesPerItem(t *testing.T) {
	coord, lg := newTestCoordinator(defaultCaps(), 100)

	outcomes, err := coord.RunComposite(context.Background(), CompositeRequest{
		References: []string{"data:image/png;base64,AAA"},
		Quantity:   3,
	})
	if err != nil {
		t.Fatalf("composite: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	for i, out := range outcomes {
		if out.Failed() {
			t.Fatalf("item %d failed: %v", i, out.Err)
		}
	}
	if got := lg.Balance(); got != 70 {
		t.Fatalf("balance %d, want 70", got)
	}
}

func TestRunCompositeFailsOnlyWhenAllItemsFail(t *testing.T) {
	caps := defaultCaps()
	caps.Image = &fakeImage{err: errors.New("filtered")}
	coord, _ := newTestCoordinator(caps, 100)

	_, err := coord.RunComposite(context.Background(), CompositeRequest{
		References: []string{"data:image/png;base64,AAA"},
		Quantity:   2,
	})
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("got %v, want ErrProviderFailure", err)
	}
}

func TestRunCompositeRequiresReferences(t *testing.T) {
	coord, _ := newTestCoordinator(defaultCaps(), 100)

	_, err := coord.RunComposite(context.Background(), CompositeRequest{Quantity: 1})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}
