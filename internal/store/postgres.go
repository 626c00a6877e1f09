package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores notes and revisions in two tables. Migrate creates
// them when missing.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS notes (
			id       TEXT PRIMARY KEY,
			title    TEXT NOT NULL DEFAULT '',
			content  TEXT NOT NULL DEFAULT '',
			revision INT  NOT NULL DEFAULT 1,
			saved_by TEXT NOT NULL DEFAULT '',
			saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS revisions (
			note_id  TEXT NOT NULL,
			n        INT  NOT NULL,
			title    TEXT NOT NULL DEFAULT '',
			content  TEXT NOT NULL DEFAULT '',
			saved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (note_id, n)
		);`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Postgres) GetNote(ctx context.Context, id string) (*Note, error) {
	var n Note
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, content, revision, saved_by, saved_at FROM notes WHERE id = $1`, id,
	).Scan(&n.ID, &n.Title, &n.Content, &n.Revision, &n.SavedBy, &n.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note %s: %w", id, err)
	}
	return &n, nil
}

func (s *Postgres) PersistNote(ctx context.Context, id, title, content, savedBy string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("persist note %s: %w", id, err)
	}
	defer tx.Rollback(ctx)

	// snapshot the current row before replacing it
	_, err = tx.Exec(ctx, `
		INSERT INTO revisions (note_id, n, title, content, saved_at)
		SELECT id, (SELECT COALESCE(MAX(n), 0) + 1 FROM revisions WHERE note_id = $1),
		       title, content, saved_at
		FROM notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("snapshot revision %s: %w", id, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO notes (id, title, content, revision, saved_by, saved_at)
		VALUES ($1, $2, $3, 1, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			title = $2, content = $3, revision = notes.revision + 1,
			saved_by = $4, saved_at = now()`,
		id, title, content, savedBy)
	if err != nil {
		return fmt.Errorf("persist note %s: %w", id, err)
	}

	return tx.Commit(ctx)
}

func (s *Postgres) ListRevisions(ctx context.Context, id string) ([]Revision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT note_id, n, title, content, saved_at FROM revisions WHERE note_id = $1 ORDER BY n`, id)
	if err != nil {
		return nil, fmt.Errorf("list revisions %s: %w", id, err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		if err := rows.Scan(&r.NoteID, &r.N, &r.Title, &r.Content, &r.SavedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) GetRevision(ctx context.Context, id string, n int) (*Revision, error) {
	var r Revision
	err := s.pool.QueryRow(ctx,
		`SELECT note_id, n, title, content, saved_at FROM revisions WHERE note_id = $1 AND n = $2`,
		id, n,
	).Scan(&r.NoteID, &r.N, &r.Title, &r.Content, &r.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get revision %s/%d: %w", id, n, err)
	}
	return &r, nil
}

func (s *Postgres) DeleteRevision(ctx context.Context, id string, n int) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM revisions WHERE note_id = $1 AND n = $2`, id, n)
	if err != nil {
		return fmt.Errorf("delete revision %s/%d: %w", id, n, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
