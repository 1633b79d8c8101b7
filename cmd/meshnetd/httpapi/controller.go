package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meshnet-labs/meshnet/core"
)

// Controller exposes a thin read-only status surface over the core
// components; it is deliberately NOT the orchestrator's primary interface
// (that is `core.Orchestrator.Infer`, invoked by cmd/meshnet), only an
// ambient adapter for dashboards and health checks.
type Controller struct {
	Ledger   *core.TokenLedger
	Reward   *core.RewardSchedule
	Registry *core.WorkerRegistry
}

func (c *Controller) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (c *Controller) ledgerBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if err := c.Ledger.CheckInvariant(account); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"account": account,
		"balance": c.Ledger.GetBalance(account),
		"history": c.Ledger.GetHistory(account),
	})
}

func (c *Controller) rewardSchedule(w http.ResponseWriter, r *http.Request) {
	heightStr := r.URL.Query().Get("height")
	height, err := strconv.ParseUint(heightStr, 10, 64)
	if err != nil {
		http.Error(w, "height must be a non-negative integer", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"height": height,
		"reward": c.Reward.BlockReward(height),
		"minted": c.Reward.MintedTotal(),
	})
}

func (c *Controller) workers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.Registry.OnlineWorkers())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
