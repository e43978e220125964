// Package store implements the memory row store and narrative group store
// on PostgreSQL with pgvector.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/koopa0/recall/internal/memory"
)

const memoryCols = `id, user_id, memory_type, ts, chat_id, content, embedding, group_id`

// Postgres implements memory.Store and memory.GroupStore over a pgxpool.
// Vector search uses pgvector's cosine distance for memory rows and inner
// product for group centroids.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Postgres store.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// Insert adds memory rows in one transaction and returns their assigned
// ids in input order.
func (s *Postgres) Insert(ctx context.Context, records []memory.Record) ([]int64, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	ids := make([]int64, len(records))
	for i, rec := range records {
		err := tx.QueryRow(ctx,
			`INSERT INTO memories (user_id, memory_type, ts, chat_id, content, embedding, group_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			rec.UserID, string(rec.Type), rec.TS, rec.ChatID, rec.Text,
			pgvector.NewVector(rec.Vector), rec.GroupID,
		).Scan(&ids[i])
		if err != nil {
			return nil, fmt.Errorf("inserting memory: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing insert: %w", err)
	}
	return ids, nil
}

// Query returns rows matching the filter in id order, up to limit.
func (s *Postgres) Query(ctx context.Context, f memory.Filter, limit int) ([]memory.Record, error) {
	where, args := buildWhere(f, nil)

	sql := `SELECT ` + memoryCols + ` FROM memories` + where + ` ORDER BY id`
	if limit > 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Search returns up to limit rows matching the filter ordered by
// ascending cosine distance from vector.
func (s *Postgres) Search(ctx context.Context, vector []float32, f memory.Filter, limit int) ([]memory.Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	vec := pgvector.NewVector(vector)
	where, args := buildWhere(f, []any{vec})
	args = append(args, limit)

	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryCols+`, embedding <=> $1 AS distance
		 FROM memories`+where+`
		 ORDER BY embedding <=> $1
		 LIMIT $`+fmt.Sprint(len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	var hits []memory.Hit
	for rows.Next() {
		var h memory.Hit
		var memType string
		var emb pgvector.Vector
		if err := rows.Scan(&h.ID, &h.UserID, &memType, &h.TS, &h.ChatID,
			&h.Text, &emb, &h.GroupID, &h.Distance); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		h.Type = memory.Type(memType)
		h.Vector = emb.Slice()
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hits: %w", err)
	}
	return hits, nil
}

// Get returns one row scoped to userID, or memory.ErrNotFound.
func (s *Postgres) Get(ctx context.Context, id int64, userID string) (*memory.Record, error) {
	var rec memory.Record
	var memType string
	var emb pgvector.Vector

	err := s.pool.QueryRow(ctx,
		`SELECT `+memoryCols+` FROM memories WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&rec.ID, &rec.UserID, &memType, &rec.TS, &rec.ChatID,
		&rec.Text, &emb, &rec.GroupID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting memory %d: %w", id, err)
	}

	rec.Type = memory.Type(memType)
	rec.Vector = emb.Slice()
	return &rec, nil
}

// Update overwrites the whole row identified by rec.ID.
func (s *Postgres) Update(ctx context.Context, rec memory.Record) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories
		 SET user_id = $2, memory_type = $3, ts = $4, chat_id = $5,
		     content = $6, embedding = $7, group_id = $8
		 WHERE id = $1`,
		rec.ID, rec.UserID, string(rec.Type), rec.TS, rec.ChatID,
		rec.Text, pgvector.NewVector(rec.Vector), rec.GroupID,
	)
	if err != nil {
		return fmt.Errorf("updating memory %d: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Delete removes rows by id and returns the number removed.
func (s *Postgres) Delete(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("deleting memories: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteWhere removes rows matching the filter and returns the count.
func (s *Postgres) DeleteWhere(ctx context.Context, f memory.Filter) (int64, error) {
	where, args := buildWhere(f, nil)
	if where == "" {
		return 0, fmt.Errorf("refusing unfiltered delete")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting memories: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of rows matching the filter.
func (s *Postgres) Count(ctx context.Context, f memory.Filter) (int64, error) {
	where, args := buildWhere(f, nil)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting memories: %w", err)
	}
	return n, nil
}

// Users returns the distinct user ids present in the store.
func (s *Postgres) Users(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM memories ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// InsertGroup adds a narrative group row and returns its id.
func (s *Postgres) InsertGroup(ctx context.Context, g memory.Group) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO narrative_groups (user_id, centroid, size)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		g.UserID, pgvector.NewVector(g.Centroid), g.Size,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting group: %w", err)
	}
	return id, nil
}

// NearestGroup returns the user's most similar group by inner product.
// pgvector's <#> operator yields the negated inner product, so the
// similarity is its negation.
func (s *Postgres) NearestGroup(ctx context.Context, userID string, vector []float32) (*memory.Group, float64, error) {
	vec := pgvector.NewVector(vector)

	var g memory.Group
	var centroid pgvector.Vector
	var negIP float64
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, centroid, size, centroid <#> $1 AS neg_ip
		 FROM narrative_groups
		 WHERE user_id = $2
		 ORDER BY centroid <#> $1
		 LIMIT 1`,
		vec, userID,
	).Scan(&g.ID, &g.UserID, &centroid, &g.Size, &negIP)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("querying nearest group: %w", err)
	}

	g.Centroid = centroid.Slice()
	return &g, -negIP, nil
}

// UpdateGroup overwrites the group row identified by g.ID.
func (s *Postgres) UpdateGroup(ctx context.Context, g memory.Group) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE narrative_groups SET centroid = $2, size = $3 WHERE id = $1 AND user_id = $4`,
		g.ID, pgvector.NewVector(g.Centroid), g.Size, g.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating group %d: %w", g.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// DeleteGroup removes one group row.
func (s *Postgres) DeleteGroup(ctx context.Context, userID string, groupID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM narrative_groups WHERE id = $1 AND user_id = $2`,
		groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting group %d: %w", groupID, err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// DeleteGroups removes all of a user's groups.
func (s *Postgres) DeleteGroups(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM narrative_groups WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting groups: %w", err)
	}
	return tag.RowsAffected(), nil
}

// buildWhere renders a memory.Filter into a WHERE clause. leading holds
// args already positioned before the filter's (e.g. a search vector).
func buildWhere(f memory.Filter, leading []any) (string, []any) {
	args := leading
	var conds []string

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Type != "" {
		add("memory_type = $%d", string(f.Type))
	}
	if f.ChatID != "" {
		add("chat_id = $%d", f.ChatID)
	}
	if f.GroupID != nil {
		add("group_id = $%d", *f.GroupID)
	}
	if len(f.ExcludeIDs) > 0 {
		add("id != ALL($%d)", f.ExcludeIDs)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecords(rows pgx.Rows) ([]memory.Record, error) {
	var records []memory.Record
	for rows.Next() {
		var rec memory.Record
		var memType string
		var emb pgvector.Vector
		if err := rows.Scan(&rec.ID, &rec.UserID, &memType, &rec.TS,
			&rec.ChatID, &rec.Text, &emb, &rec.GroupID); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		rec.Type = memory.Type(memType)
		rec.Vector = emb.Slice()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}
	return records, nil
}
