package storage

import (
	"context"
	"fmt"
	"sync"

	"paperTrading/internal/model"
)

// MemoryStore is an in-process EntityStore.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[model.EntityID]model.Entity
	state    map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[model.EntityID]model.Entity),
		state:    make(map[string]uint64),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, entities []model.Entity) ([]UpsertResult, error) {
	if err := ValidateBatch(entities); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Results are computed against a staged view so a batch that repeats an
	// id sees its own earlier writes, then committed in one step.
	staged := make(map[model.EntityID]model.Entity, len(entities))
	results := make([]UpsertResult, 0, len(entities))
	for _, incoming := range entities {
		existing, ok := staged[incoming.ID]
		if !ok {
			existing, ok = s.entities[incoming.ID]
		}
		if !ok {
			incoming.Unreconciled = false
			staged[incoming.ID] = incoming
			results = append(results, UpsertResult{ID: incoming.ID, Outcome: OutcomeCreated})
			continue
		}

		outcome := Resolve(existing, incoming)
		result := UpsertResult{ID: incoming.ID, Outcome: outcome}
		if outcome == OutcomeConflict {
			stored := existing
			result.Existing = &stored
			existing.Unreconciled = true
			staged[incoming.ID] = existing
		}
		results = append(results, result)
	}

	for id, e := range staged {
		s.entities[id] = e
	}
	return results, nil
}

func (s *MemoryStore) Recent(ctx context.Context, q Query) ([]model.Entity, error) {
	s.mu.RLock()
	out := make([]model.Entity, 0)
	for _, e := range s.entities {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	model.SortRecent(out)
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ByID(ctx context.Context, id model.EntityID) (model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return model.Entity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (s *MemoryStore) Unreconciled(ctx context.Context) ([]model.Entity, error) {
	s.mu.RLock()
	out := make([]model.Entity, 0)
	for _, e := range s.entities {
		if e.Unreconciled {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	model.SortRecent(out)
	return out, nil
}

func (s *MemoryStore) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[name]
	return v, ok, nil
}

func (s *MemoryStore) SaveState(ctx context.Context, name string, value uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	s.mu.Lock()
	s.state[name] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
