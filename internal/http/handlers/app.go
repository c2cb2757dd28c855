// Package handlers implements the HTTP surface of the generation
// engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/engine"
	"server/internal/ledger"
)

type App struct {
	Engine *engine.Coordinator
	Loop   *engine.AutoLoop
	Ledger *ledger.Ledger
	Stream *engine.Broadcaster
	Logger zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// fail maps a domain error onto its HTTP representation.
func (a *App) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrLoopActive):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrProviderFailure):
		status = http.StatusBadGateway
	}
	a.error(w, status, domain.FailureClass(err), err.Error())
}
