/*
sessions.go - In-memory registry of bulk-update sessions

PURPOSE:
  A bulk-update run spans several HTTP requests (export, one or more
  parse attempts, apply). The registry keys each live Reconciler by a
  generated UUID so requests can find their run again. Terminal
  sessions are pruned lazily on access.

SEE ALSO:
  - bulk/reconciler.go: The per-session state machine
  - handlers.go: The bulk endpoints
*/
package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/curatio/indicator-engine/bulk"
)

// SessionRegistry holds the live bulk-update runs.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*bulk.Reconciler
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*bulk.Reconciler)}
}

// Put registers a run and returns its new session id.
func (reg *SessionRegistry) Put(run *bulk.Reconciler) string {
	id := uuid.NewString()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.sessions[id] = run
	return id
}

// Get returns the run for id, or nil if unknown. Runs that already
// reached a terminal state are dropped and reported as unknown.
func (reg *SessionRegistry) Get(id string) *bulk.Reconciler {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	run, ok := reg.sessions[id]
	if !ok {
		return nil
	}
	switch run.State() {
	case bulk.StateDone, bulk.StateCancelled:
		delete(reg.sessions, id)
		return nil
	}
	return run
}

// Remove drops a session regardless of state.
func (reg *SessionRegistry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.sessions, id)
}

// Len reports the number of live sessions.
func (reg *SessionRegistry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.sessions)
}
