// Package sqlite is a single-file EntityStore for local runs.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"paperTrading/internal/model"
	"paperTrading/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

var entityColumns = []string{"id", "kind", "block_number", "log_index", "block_timestamp", "tx_hash", "payload", "unreconciled"}

// Store persists entities in a SQLite database file.
type Store struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// Open opens (creating when missing) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&cache=shared", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Upsert(ctx context.Context, entities []model.Entity) ([]storage.UpsertResult, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	if err := storage.ValidateBatch(entities); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	results := make([]storage.UpsertResult, 0, len(entities))
	for _, e := range entities {
		payload, err := e.Payload()
		if err != nil {
			return nil, err
		}

		res, err := s.sb.
			Insert("entities").
			Columns("id", "kind", "block_number", "log_index", "block_timestamp", "tx_hash", "user_address", "payload", "unreconciled").
			Values(string(e.ID), string(e.Kind), int64(e.BlockNumber), int64(e.LogIndex), int64(e.BlockTimestamp),
				e.TransactionHash, strings.ToLower(e.User()), string(payload), 0).
			Suffix("ON CONFLICT (id) DO NOTHING").
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("insert entity %s: %w", e.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("insert entity %s: %w", e.ID, err)
		}
		if affected == 1 {
			results = append(results, storage.UpsertResult{ID: e.ID, Outcome: storage.OutcomeCreated})
			continue
		}

		row := s.sb.Select(entityColumns...).From("entities").Where(sq.Eq{"id": string(e.ID)}).RunWith(tx).QueryRowContext(ctx)
		existing, err := scanEntity(row)
		if err != nil {
			return nil, fmt.Errorf("load entity %s: %w", e.ID, err)
		}
		result := storage.UpsertResult{ID: e.ID, Outcome: storage.Resolve(existing, e)}
		if result.Outcome == storage.OutcomeConflict {
			stored := existing
			result.Existing = &stored
			_, err := s.sb.Update("entities").Set("unreconciled", 1).Where(sq.Eq{"id": string(e.ID)}).RunWith(tx).ExecContext(ctx)
			if err != nil {
				return nil, fmt.Errorf("flag entity %s: %w", e.ID, err)
			}
		}
		results = append(results, result)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return results, nil
}

func (s *Store) Recent(ctx context.Context, q storage.Query) ([]model.Entity, error) {
	query := s.sb.
		Select(entityColumns...).
		From("entities").
		OrderBy("block_timestamp DESC", "block_number DESC", "log_index DESC").
		Limit(uint64(q.EffectiveLimit()))
	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, kind := range q.Kinds {
			kinds[i] = string(kind)
		}
		query = query.Where(sq.Eq{"kind": kinds})
	}
	if q.User != "" {
		query = query.Where(sq.Eq{"user_address": strings.ToLower(q.User)})
	}
	return s.queryEntities(ctx, query)
}

func (s *Store) ByID(ctx context.Context, id model.EntityID) (model.Entity, error) {
	row := s.sb.Select(entityColumns...).From("entities").Where(sq.Eq{"id": string(id)}).RunWith(s.db).QueryRowContext(ctx)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Entity{}, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return model.Entity{}, err
	}
	return e, nil
}

func (s *Store) Unreconciled(ctx context.Context) ([]model.Entity, error) {
	query := s.sb.
		Select(entityColumns...).
		From("entities").
		Where(sq.Eq{"unreconciled": 1}).
		OrderBy("block_timestamp DESC", "block_number DESC", "log_index DESC")
	return s.queryEntities(ctx, query)
}

func (s *Store) queryEntities(ctx context.Context, query sq.SelectBuilder) ([]model.Entity, error) {
	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntity(row sq.RowScanner) (model.Entity, error) {
	var (
		e                model.Entity
		id, kind         string
		block, index, ts int64
		payload          string
		unreconciled     int64
	)
	if err := row.Scan(&id, &kind, &block, &index, &ts, &e.TransactionHash, &payload, &unreconciled); err != nil {
		return model.Entity{}, err
	}
	e.ID = model.EntityID(id)
	e.Kind = model.EventKind(kind)
	e.BlockNumber = uint64(block)
	e.LogIndex = uint64(index)
	e.BlockTimestamp = uint64(ts)
	e.Unreconciled = unreconciled != 0
	if err := e.SetPayload([]byte(payload)); err != nil {
		return model.Entity{}, err
	}
	return e, nil
}

func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	err := s.sb.Select("last_processed_block").From("indexer_state").Where(sq.Eq{"name": name}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&block)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

func (s *Store) SaveState(ctx context.Context, name string, value uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.sb.
		Insert("indexer_state").
		Columns("name", "last_processed_block", "updated_at").
		Values(name, int64(value), time.Now().UTC().Format(time.RFC3339Nano)).
		Suffix("ON CONFLICT (name) DO UPDATE SET last_processed_block = excluded.last_processed_block, updated_at = excluded.updated_at").
		RunWith(s.db).
		ExecContext(ctx)
	return err
}
