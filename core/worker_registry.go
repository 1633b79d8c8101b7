package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// WorkerState is a registered worker's availability, tracked with the same
// penalty-counter pattern as a stake-slashing manager. The router and the
// orchestrator do not consult it when assigning chunks, so a worker that
// has been struck offline can still be routed to.
type WorkerState struct {
	WorkerID string
	Endpoint Address
	Strikes  uint32
	Offline  bool
}

// WorkerRegistry tracks which workers are currently eligible for dispatch.
// A worker accumulates strikes on relay/compute/HMAC failures and is
// automatically marked offline once it crosses MaxStrikes; an operator (or
// a later successful relay) can bring it back online explicitly.
type WorkerRegistry struct {
	maxStrikes uint32

	mu      sync.RWMutex
	workers map[string]*WorkerState
	logger  *logrus.Logger
}

// NewWorkerRegistry constructs a registry. maxStrikes <= 0 disables
// automatic offline-marking (strikes still accumulate for observability).
func NewWorkerRegistry(maxStrikes uint32) *WorkerRegistry {
	return &WorkerRegistry{
		maxStrikes: maxStrikes,
		workers:    make(map[string]*WorkerState),
		logger:     logrus.StandardLogger(),
	}
}

// Add registers a worker, or updates its endpoint if already registered.
func (r *WorkerRegistry) Add(workerID string, endpoint Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		w.Endpoint = endpoint
		return
	}
	r.workers[workerID] = &WorkerState{WorkerID: workerID, Endpoint: endpoint}
}

// Remove unregisters a worker entirely.
func (r *WorkerRegistry) Remove(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, workerID)
}

// Strike records a failure against workerID and marks it offline once
// strikes reach maxStrikes.
func (r *WorkerRegistry) Strike(workerID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return
	}
	w.Strikes++
	if r.maxStrikes > 0 && w.Strikes >= r.maxStrikes {
		w.Offline = true
	}
	r.logger.WithFields(logrus.Fields{
		"worker":  workerID,
		"strikes": w.Strikes,
		"offline": w.Offline,
		"reason":  reason,
	}).Warn("worker strike recorded")
}

// MarkOnline clears Offline and resets the strike counter for workerID,
// e.g. after an operator confirms the worker has recovered.
func (r *WorkerRegistry) MarkOnline(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return
	}
	w.Offline = false
	w.Strikes = 0
}

// MarkOffline forces workerID offline regardless of strike count.
func (r *WorkerRegistry) MarkOffline(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		w.Offline = true
	}
}

// IsOnline reports whether workerID is registered and not offline.
func (r *WorkerRegistry) IsOnline(workerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	return ok && !w.Offline
}

// OnlineWorkers returns the endpoints of every currently online worker.
func (r *WorkerRegistry) OnlineWorkers() map[string]Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Address)
	for id, w := range r.workers {
		if !w.Offline {
			out[id] = w.Endpoint
		}
	}
	return out
}

// State returns a copy of workerID's tracked state.
func (r *WorkerRegistry) State(workerID string) (WorkerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	if !ok {
		return WorkerState{}, false
	}
	return *w, true
}
