package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/engine"
	"server/internal/middleware"
)

type submitRunRequest struct {
	Concept      string   `json:"concept"`
	SceneCount   int      `json:"scene_count"`
	AspectRatio  string   `json:"aspect_ratio"`
	BrandStyle   string   `json:"brand_style"`
	SourceImages []string `json:"source_images"`
}

// SubmitRun registers a run and starts producing it in the
// background. The accepted snapshot comes back immediately; progress
// flows through GET /runs/{id} and the event stream.
func (a *App) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "validation", "invalid payload")
		return
	}

	run, err := a.Engine.CreateRun(engine.SubmitRunRequest{
		Concept:      req.Concept,
		SceneCount:   req.SceneCount,
		AspectRatio:  req.AspectRatio,
		Locale:       middleware.LocaleFromContext(r.Context()),
		BrandStyle:   req.BrandStyle,
		SourceImages: req.SourceImages,
	})
	if err != nil {
		a.fail(w, err)
		return
	}

	go func() {
		if _, err := a.Engine.ProduceRun(context.Background(), run.ID); err != nil {
			a.Logger.Error().Err(err).Str("run_id", run.ID).Msg("run production failed")
		}
	}()

	a.json(w, http.StatusAccepted, run)
}

func (a *App) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.Engine.Run(chi.URLParam(r, "runID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, run)
}

// RenderSceneVideo runs the on-demand video stage synchronously: the
// response carries the finished scene or the classified failure.
func (a *App) RenderSceneVideo(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	sceneID := chi.URLParam(r, "sceneID")

	out, err := a.Engine.RenderSceneVideo(r.Context(), runID, sceneID)
	if err != nil {
		a.fail(w, err)
		return
	}
	if out.Failed() {
		a.fail(w, out.Err)
		return
	}

	run, err := a.Engine.Run(runID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"scene":   run.Scene(sceneID),
		"balance": a.Ledger.Balance(),
	})
}
