package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/engine"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/ledger"
	"server/internal/providers/image"
	"server/internal/providers/plan"
	"server/internal/providers/speech"
	"server/internal/providers/video"
)

type stubPlanner struct{}

func (stubPlanner) Plan(_ context.Context, req plan.Request) ([]plan.ScenePlan, error) {
	out := make([]plan.ScenePlan, req.SceneCount)
	for i := range out {
		out[i] = plan.ScenePlan{
			VisualInstruction: fmt.Sprintf("frame %d", i+1),
			VoiceOver:         fmt.Sprintf("line %d", i+1),
			ShotType:          "wide",
		}
	}
	return out, nil
}

type stubSpeech struct{}

func (stubSpeech) Synthesize(context.Context, speech.Request) (*speech.Asset, error) {
	return &speech.Asset{Data: []byte("riff"), Format: "audio/wav", Seconds: 4.5}, nil
}

type stubImage struct{}

func (stubImage) Generate(context.Context, image.Request) (*image.Asset, error) {
	return &image.Asset{URL: "https://cdn.example.test/i.png", Format: "image/png"}, nil
}

type stubVideo struct {
	mu    sync.Mutex
	state string
}

func (v *stubVideo) Submit(context.Context, video.SubmitRequest) (string, error) {
	return "task-9", nil
}

func (v *stubVideo) Status(context.Context, string) (video.Status, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	state := v.state
	if state == "" {
		state = video.StateSucceeded
	}
	if state == video.StateSucceeded {
		return video.Status{State: state, ArtifactURL: "https://cdn.example.test/clip.mp4"}, nil
	}
	return video.Status{State: state}, nil
}

func newTestServer(t *testing.T, balance int64) (*httptest.Server, *engine.Broadcaster, *ledger.Ledger) {
	t.Helper()
	logger := zerolog.Nop()
	lg := ledger.New(balance)
	events := engine.NewBroadcaster()

	exec := engine.NewExecutor(engine.Capabilities{
		Planner: stubPlanner{},
		Speech:  stubSpeech{},
		Image:   stubImage{},
		Video:   &stubVideo{},
	}, engine.ExecutorConfig{PollInterval: time.Millisecond, PollMaxAttempts: 5}, logger)

	coord := engine.NewCoordinator(exec, lg, domain.DefaultPolicies(),
		engine.CoordinatorConfig{Concurrency: 4}, events, logger)
	loop := engine.NewAutoLoop(coord, lg, events, nil, time.Millisecond, logger)

	app := &handlers.App{Engine: coord, Loop: loop, Ledger: lg, Stream: events, Logger: logger}
	router := httpapi.NewRouter(app, httpapi.Options{DefaultLocale: "en-US", Logger: logger})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, events, lg
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func waitForRun(t *testing.T, base, runID, status string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, body := getJSON(t, base+"/v1/runs/"+runID)
		if body["status"] == status {
			return body
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", runID, status)
	return nil
}

func TestSubmitRunLifecycle(t *testing.T) {
	srv, _, lg := newTestServer(t, 100)

	resp, body := postJSON(t, srv.URL+"/v1/runs", `{"concept":"launch teaser","scene_count":2}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d, want 202", resp.StatusCode)
	}
	runID, _ := body["id"].(string)
	if runID == "" {
		t.Fatalf("no run id in %v", body)
	}

	run := waitForRun(t, srv.URL, runID, "ready")
	scenes, _ := run["scenes"].([]any)
	if len(scenes) != 2 {
		t.Fatalf("got %d scenes, want 2", len(scenes))
	}
	// 2 speech credits and 10 image credits spent.
	if got := lg.Balance(); got != 88 {
		t.Fatalf("balance %d, want 88", got)
	}
}

func TestSubmitRunValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, 100)

	resp, body := postJSON(t, srv.URL+"/v1/runs", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	errObj, _ := body["error"].(map[string]any)
	if errObj["code"] != "validation" {
		t.Fatalf("error code %v, want validation", errObj["code"])
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, 100)

	resp, _ := getJSON(t, srv.URL+"/v1/runs/does-not-exist")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
}

func TestRenderSceneVideoEndpoint(t *testing.T) {
	srv, _, lg := newTestServer(t, 100)

	_, body := postJSON(t, srv.URL+"/v1/runs", `{"concept":"clip","scene_count":1}`)
	runID := body["id"].(string)
	run := waitForRun(t, srv.URL, runID, "ready")
	scene := run["scenes"].([]any)[0].(map[string]any)
	sceneID := scene["id"].(string)
	before := lg.Balance()

	resp, out := postJSON(t, fmt.Sprintf("%s/v1/runs/%s/scenes/%s/video", srv.URL, runID, sceneID), `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200: %v", resp.StatusCode, out)
	}
	rendered, _ := out["scene"].(map[string]any)
	if rendered["video_state"] != "ready" {
		t.Fatalf("video state %v, want ready", rendered["video_state"])
	}
	if got := lg.Balance(); got != before-25 {
		t.Fatalf("balance %d, want %d", got, before-25)
	}
}

func TestRenderSceneVideoInsufficientCredits(t *testing.T) {
	srv, _, _ := newTestServer(t, 6)

	_, body := postJSON(t, srv.URL+"/v1/runs", `{"concept":"clip","scene_count":1}`)
	runID := body["id"].(string)
	run := waitForRun(t, srv.URL, runID, "ready")
	sceneID := run["scenes"].([]any)[0].(map[string]any)["id"].(string)

	resp, out := postJSON(t, fmt.Sprintf("%s/v1/runs/%s/scenes/%s/video", srv.URL, runID, sceneID), `{}`)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status %d, want 402: %v", resp.StatusCode, out)
	}
}

func TestCreditsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, 250)

	resp, body := getJSON(t, srv.URL+"/v1/credits")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	if body["balance"].(float64) != 250 {
		t.Fatalf("balance %v, want 250", body["balance"])
	}
	history, _ := body["history"].([]any)
	if len(history) != 1 {
		t.Fatalf("history has %d entries, want the initial grant", len(history))
	}
}

func TestAutoLoopEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, 15)

	resp, _ := postJSON(t, srv.URL+"/v1/autoloop/start", `{"references":[],"quantity":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty references: status %d, want 400", resp.StatusCode)
	}

	resp, state := postJSON(t, srv.URL+"/v1/autoloop/start",
		`{"references":["data:image/png;base64,AAA"],"quantity":1}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start: status %d, want 202: %v", resp.StatusCode, state)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, body := getJSON(t, srv.URL+"/v1/autoloop")
		loop, _ := body["loop"].(map[string]any)
		if loop["running"] == false {
			if loop["cycle_count"].(float64) != 1 {
				t.Fatalf("cycle count %v, want 1", loop["cycle_count"])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("loop never finished")
}

func TestAutoLoopStartUnderfunded(t *testing.T) {
	srv, _, _ := newTestServer(t, 5)

	resp, _ := postJSON(t, srv.URL+"/v1/autoloop/start",
		`{"references":["data:image/png;base64,AAA"],"quantity":1}`)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status %d, want 402", resp.StatusCode)
	}
}

func TestEventsStream(t *testing.T) {
	srv, events, _ := newTestServer(t, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	events.Publish(engine.Event{Type: engine.EventRunAccepted, RunID: "r-42"})

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	chunk := string(buf[:n])
	if !strings.Contains(chunk, "event: run.accepted") || !strings.Contains(chunk, "r-42") {
		t.Fatalf("unexpected stream chunk %q", chunk)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)

	resp, body := getJSON(t, srv.URL+"/v1/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("body %v", body)
	}
}
