package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the graph can be tested against pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS process_steps (
	id          INTEGER PRIMARY KEY,
	description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS process_step_edges (
	from_id INTEGER NOT NULL REFERENCES process_steps(id) ON DELETE CASCADE,
	to_id   INTEGER NOT NULL REFERENCES process_steps(id) ON DELETE CASCADE,
	PRIMARY KEY (from_id, to_id)
);`

	upsertStepSQL = `INSERT INTO process_steps (id, description) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET description = EXCLUDED.description`

	clearEdgesSQL = `DELETE FROM process_step_edges WHERE from_id = ANY($1)`

	insertEdgeSQL = `INSERT INTO process_step_edges (from_id, to_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	previousSQL = `SELECT p.id, p.description FROM process_step_edges e
JOIN process_steps p ON p.id = e.from_id WHERE e.to_id = $1 ORDER BY p.id LIMIT 1`

	nextSQL = `SELECT n.id, n.description FROM process_step_edges e
JOIN process_steps n ON n.id = e.to_id WHERE e.from_id = $1 ORDER BY n.id LIMIT 1`

	currentSQL = `SELECT id, description FROM process_steps WHERE id = $1`
)

// PostgresGraph stores the documentation as step rows plus NEXT edges.
type PostgresGraph struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresGraph verifies the connection and returns a graph.
func NewPostgresGraph(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresGraph, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresGraph{pool: pool, log: logger.Named("steps")}, nil
}

// EnsureSchema creates the tables when missing.
func (g *PostgresGraph) EnsureSchema(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create step schema: %w", err)
	}
	return nil
}

// Import upserts all steps and replaces their outgoing edges in one transaction.
func (g *PostgresGraph) Import(ctx context.Context, specs []Spec) (err error) {
	if err := validate(specs); err != nil {
		return err
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			g.log.Error("rollback step import", zap.Error(rbErr))
		}
	}()

	ids := make([]int32, 0, len(specs))
	for _, s := range specs {
		if _, err = tx.Exec(ctx, upsertStepSQL, s.ID, s.Description); err != nil {
			return fmt.Errorf("upsert step %d: %w", s.ID, err)
		}
		ids = append(ids, int32(s.ID))
	}
	if _, err = tx.Exec(ctx, clearEdgesSQL, ids); err != nil {
		return fmt.Errorf("clear edges: %w", err)
	}
	for _, s := range specs {
		if s.Next == nil {
			continue
		}
		if _, err = tx.Exec(ctx, insertEdgeSQL, s.ID, *s.Next); err != nil {
			return fmt.Errorf("link step %d -> %d: %w", s.ID, *s.Next, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}

	g.log.Info("steps imported", zap.Int("count", len(specs)))
	return nil
}

func (g *PostgresGraph) Previous(ctx context.Context, id int) (Step, error) {
	return g.lookup(ctx, previousSQL, id, Step{ID: id - 1, Description: NoPreviousStep})
}

func (g *PostgresGraph) Next(ctx context.Context, id int) (Step, error) {
	return g.lookup(ctx, nextSQL, id, Step{ID: id + 1, Description: NoNextStep})
}

func (g *PostgresGraph) Current(ctx context.Context, id int) (Step, error) {
	return g.lookup(ctx, currentSQL, id, Step{ID: id, Description: NoCurrentStep})
}

func (g *PostgresGraph) lookup(ctx context.Context, query string, id int, fallback Step) (Step, error) {
	var s Step
	err := g.pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.Description)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fallback, nil
	case err != nil:
		return Step{}, fmt.Errorf("query step %d: %w", id, err)
	}
	return s, nil
}
