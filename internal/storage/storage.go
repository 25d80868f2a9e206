package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paperTrading/internal/model"
)

// Storage defines a sink for raw log records.
type Storage interface {
	PutLogBatch(ctx context.Context, logs []model.LogRecord) error
}

var (
	// ErrConflict marks an id already stored with different content.
	ErrConflict = errors.New("entity conflict")
	// ErrNotFound is returned by ByID for unknown ids.
	ErrNotFound = errors.New("entity not found")
)

// Outcome is the result of upserting one entity.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeConflict  Outcome = "conflict"
)

// UpsertResult reports what happened to one entity of an Upsert batch.
// Existing is set for conflicts and holds the stored version.
type UpsertResult struct {
	ID       model.EntityID
	Outcome  Outcome
	Existing *model.Entity
}

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Query selects entities for history reads.
type Query struct {
	Kinds []model.EventKind
	// User filters by account (case-insensitive hex). Empty means all.
	User  string
	Limit int
}

// EffectiveLimit clamps Limit to [1, MaxLimit], defaulting to DefaultLimit.
func (q Query) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultLimit
	case q.Limit > MaxLimit:
		return MaxLimit
	default:
		return q.Limit
	}
}

// Matches reports whether e passes the kind and user filters.
func (q Query) Matches(e model.Entity) bool {
	if len(q.Kinds) > 0 {
		found := false
		for _, kind := range q.Kinds {
			if kind == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.User != "" && !strings.EqualFold(q.User, e.User()) {
		return false
	}
	return true
}

// StateStore persists named resume cursors.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, value uint64) error
}

// EntityStore persists derived entities. Upsert applies a batch atomically:
// either every entity of the batch is visible afterwards or none is.
type EntityStore interface {
	StateStore
	Upsert(ctx context.Context, entities []model.Entity) ([]UpsertResult, error)
	Recent(ctx context.Context, q Query) ([]model.Entity, error)
	ByID(ctx context.Context, id model.EntityID) (model.Entity, error)
	Unreconciled(ctx context.Context) ([]model.Entity, error)
	Close() error
}

// Resolve classifies an incoming entity against the stored one with the
// same id.
func Resolve(existing, incoming model.Entity) Outcome {
	if existing.SameContent(incoming) {
		return OutcomeUnchanged
	}
	return OutcomeConflict
}

// ValidateBatch rejects entities that cannot be persisted.
func ValidateBatch(entities []model.Entity) error {
	for _, e := range entities {
		if e.ID == "" {
			return fmt.Errorf("entity without id at %s", e.Position())
		}
		if _, err := e.Payload(); err != nil {
			return err
		}
	}
	return nil
}
