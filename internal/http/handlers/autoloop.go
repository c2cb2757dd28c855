package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/engine"
)

type startLoopRequest struct {
	Instruction string   `json:"instruction"`
	References  []string `json:"references"`
	AspectRatio string   `json:"aspect_ratio"`
	BrandStyle  string   `json:"brand_style"`
	Quantity    int      `json:"quantity"`
}

func (a *App) AutoLoopStart(w http.ResponseWriter, r *http.Request) {
	var req startLoopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "validation", "invalid payload")
		return
	}

	err := a.Loop.Start(engine.LoopConfig{
		Instruction: req.Instruction,
		References:  req.References,
		AspectRatio: req.AspectRatio,
		BrandStyle:  req.BrandStyle,
		Quantity:    req.Quantity,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, a.Loop.State())
}

func (a *App) AutoLoopStop(w http.ResponseWriter, r *http.Request) {
	a.Loop.Stop()
	a.json(w, http.StatusOK, a.Loop.State())
}

func (a *App) AutoLoopStatus(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"loop":    a.Loop.State(),
		"balance": a.Ledger.Balance(),
	})
}
