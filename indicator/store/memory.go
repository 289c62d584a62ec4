// Package store provides an in-memory indicator.Store for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/curatio/indicator-engine/indicator"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]indicator.Record
	users   map[string]bool

	// FailUpdateIDs makes UpdateFields fail for the listed ids. Tests use
	// it to exercise the apply loop's per-row failure tolerance.
	FailUpdateIDs map[int64]bool
}

func NewMemory() *Memory {
	return &Memory{
		nextID:  1,
		records: make(map[int64]indicator.Record),
		users:   make(map[string]bool),
	}
}

// Seed inserts a record with its ID taken as-is rather than assigned.
func (m *Memory) Seed(rec indicator.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	if rec.ID >= m.nextID {
		m.nextID = rec.ID + 1
	}
}

// SetUserActive seeds the user status table.
func (m *Memory) SetUserActive(userID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = active
}

func (m *Memory) Get(_ context.Context, id int64) (*indicator.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) List(_ context.Context, f indicator.Filter) ([]indicator.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []indicator.Record
	for _, rec := range m.records {
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) LastOccurrence(_ context.Context, baseID int64) (*indicator.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *indicator.Record
	for id := range m.records {
		rec := m.records[id]
		if rec.BaseID != baseID || rec.CurrentDueDate.IsZero() {
			continue
		}
		if last == nil || rec.CurrentDueDate.After(last.CurrentDueDate) {
			last = &rec
		}
	}
	return last, nil
}

func (m *Memory) Insert(_ context.Context, rec indicator.Record) (indicator.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(rec), nil
}

func (m *Memory) InsertMany(_ context.Context, recs []indicator.Record) ([]indicator.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]indicator.Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, m.insertLocked(rec))
	}
	return out, nil
}

func (m *Memory) insertLocked(rec indicator.Record) indicator.Record {
	rec.ID = m.nextID
	m.nextID++
	m.records[rec.ID] = rec
	return rec
}

func (m *Memory) UpdateFields(_ context.Context, id int64, patch indicator.FieldPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpdateIDs[id] {
		return &indicator.StoreError{Op: "update", Cause: context.DeadlineExceeded}
	}
	rec, ok := m.records[id]
	if !ok {
		return indicator.ErrRecordNotFound
	}
	rec.Observation = patch.Observation
	rec.CurrentDueDate = patch.CurrentDueDate
	rec.ReferencePeriod = patch.ReferencePeriod
	rec.PresentedValue = patch.PresentedValue
	rec.Mandatory = patch.Mandatory
	m.records[id] = rec
	return nil
}

func (m *Memory) SetReferencePeriod(_ context.Context, id int64, ref indicator.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return indicator.ErrRecordNotFound
	}
	rec.ReferencePeriod = ref
	m.records[id] = rec
	return nil
}

func (m *Memory) SetVisible(_ context.Context, id int64, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return indicator.ErrRecordNotFound
	}
	rec.Visible = visible
	m.records[id] = rec
	return nil
}

func (m *Memory) SetDocumentFlag(_ context.Context, id int64, has bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return indicator.ErrRecordNotFound
	}
	rec.HasDocument = has
	m.records[id] = rec
	return nil
}

func (m *Memory) IsUserActive(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active, ok := m.users[userID]
	if !ok {
		// Unknown users are treated as active; matching the permissive
		// posture of the auth collaborator.
		return true, nil
	}
	return active, nil
}
