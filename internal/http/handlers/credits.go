package handlers

import "net/http"

func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"balance": a.Ledger.Balance(),
		"history": a.Ledger.History(),
	})
}
