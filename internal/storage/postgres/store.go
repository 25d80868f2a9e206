package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"paperTrading/internal/model"
	"paperTrading/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store provides Postgres persistence for entities and resume state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Upsert inserts a batch of entities in one transaction. Existing ids are
// compared against the stored payload; diverging ones are flagged.
func (s *Store) Upsert(ctx context.Context, entities []model.Entity) ([]storage.UpsertResult, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	if err := storage.ValidateBatch(entities); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	results := make([]storage.UpsertResult, 0, len(entities))
	for _, e := range entities {
		payload, err := e.Payload()
		if err != nil {
			return nil, err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO entities (
				id, kind, block_number, log_index, block_timestamp, tx_hash, user_address, payload, unreconciled, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, now())
			ON CONFLICT (id) DO NOTHING
		`,
			string(e.ID),
			string(e.Kind),
			int64(e.BlockNumber),
			int64(e.LogIndex),
			int64(e.BlockTimestamp),
			e.TransactionHash,
			strings.ToLower(e.User()),
			payload,
		)
		if err != nil {
			return nil, fmt.Errorf("insert entity %s: %w", e.ID, err)
		}
		if tag.RowsAffected() == 1 {
			results = append(results, storage.UpsertResult{ID: e.ID, Outcome: storage.OutcomeCreated})
			continue
		}

		existing, err := scanEntity(tx.QueryRow(ctx, selectEntitySQL+` WHERE id = $1 FOR UPDATE`, string(e.ID)))
		if err != nil {
			return nil, fmt.Errorf("load entity %s: %w", e.ID, err)
		}
		result := storage.UpsertResult{ID: e.ID, Outcome: storage.Resolve(existing, e)}
		if result.Outcome == storage.OutcomeConflict {
			stored := existing
			result.Existing = &stored
			if _, err := tx.Exec(ctx, `UPDATE entities SET unreconciled = true WHERE id = $1`, string(e.ID)); err != nil {
				return nil, fmt.Errorf("flag entity %s: %w", e.ID, err)
			}
		}
		results = append(results, result)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return results, nil
}

const selectEntitySQL = `SELECT id, kind, block_number, log_index, block_timestamp, tx_hash, payload, unreconciled FROM entities`

var entityColumns = []string{"id", "kind", "block_number", "log_index", "block_timestamp", "tx_hash", "payload", "unreconciled"}

// Recent returns the newest entities matching q.
func (s *Store) Recent(ctx context.Context, q storage.Query) ([]model.Entity, error) {
	query := psql.
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

	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent query: %w", err)
	}
	return s.queryEntities(ctx, sqlText, args...)
}

func (s *Store) ByID(ctx context.Context, id model.EntityID) (model.Entity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx, selectEntitySQL+` WHERE id = $1`, string(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Entity{}, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return model.Entity{}, err
	}
	return e, nil
}

func (s *Store) Unreconciled(ctx context.Context) ([]model.Entity, error) {
	return s.queryEntities(ctx, selectEntitySQL+` WHERE unreconciled ORDER BY block_timestamp DESC, block_number DESC, log_index DESC`)
}

func (s *Store) queryEntities(ctx context.Context, sqlText string, args ...interface{}) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx, sqlText, args...)
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

func scanEntity(row pgx.Row) (model.Entity, error) {
	var (
		e                model.Entity
		id, kind         string
		block, index, ts int64
		payload          []byte
	)
	if err := row.Scan(&id, &kind, &block, &index, &ts, &e.TransactionHash, &payload, &e.Unreconciled); err != nil {
		return model.Entity{}, err
	}
	e.ID = model.EntityID(id)
	e.Kind = model.EventKind(kind)
	e.BlockNumber = uint64(block)
	e.LogIndex = uint64(index)
	e.BlockTimestamp = uint64(ts)
	if err := e.SetPayload(payload); err != nil {
		return model.Entity{}, err
	}
	return e, nil
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, value uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(value))
	return err
}
