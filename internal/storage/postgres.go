package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	seq            BIGSERIAL UNIQUE,
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	text           TEXT NOT NULL,
	priority       TEXT NOT NULL CHECK (priority IN ('high', 'medium', 'low')),
	status         TEXT NOT NULL CHECK (status IN ('pending', 'in-progress', 'completed')),
	parent_task_id TEXT REFERENCES tasks(id) ON DELETE CASCADE,
	embedding      REAL[],
	embedding_hash TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_owner_parent ON tasks (owner_id, parent_task_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_missing_embedding ON tasks (created_at) WHERE embedding IS NULL;
`

var _ Repository = (*PGStore)(nil)

// PGStore is a Repository backed by PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and ensures the tasks schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PGStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PGStore{db: db}, nil
}

// OpenRepository opens the task store selected by driver ("sqlite" or "postgres").
func OpenRepository(ctx context.Context, driver, dataDir, dsn string) (Repository, error) {
	switch driver {
	case "", "sqlite":
		return Open(dataDir)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

const pgTaskColumns = `id, owner_id, text, priority, status, COALESCE(parent_task_id, ''), embedding, embedding_hash, created_at, updated_at`

func (s *PGStore) CreateTask(ctx context.Context, t Task) error {
	if err := validateTask(t); err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	if t.ParentTaskID != "" {
		parent, err := s.GetTask(ctx, t.OwnerID, t.ParentTaskID)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidParent
		}
		if err != nil {
			return fmt.Errorf("loading parent task: %w", err)
		}
		if parent.ParentTaskID != "" {
			return ErrInvalidParent
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, owner_id, text, priority, status, parent_task_id, embedding, embedding_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.OwnerID, t.Text, string(t.Priority), string(t.Status), nullString(t.ParentTaskID),
		pgVector(t.Embedding), t.EmbeddingHash, t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return ErrInvalidParent
		}
		return fmt.Errorf("inserting task %s: %w", t.ID, err)
	}
	return nil
}

func (s *PGStore) GetTask(ctx context.Context, ownerID, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgTaskColumns+` FROM tasks WHERE owner_id = $1 AND id = $2`, ownerID, id)
	t, err := scanPGTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	return t, err
}

func (s *PGStore) ListTopLevelTasks(ctx context.Context, ownerID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pgTaskColumns+` FROM tasks
		WHERE owner_id = $1 AND parent_task_id IS NULL
		ORDER BY created_at DESC, seq DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	return collectPGTasks(rows)
}

func (s *PGStore) ListSubtasks(ctx context.Context, ownerID, parentID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pgTaskColumns+` FROM tasks
		WHERE owner_id = $1 AND parent_task_id = $2
		ORDER BY created_at ASC, seq ASC`, ownerID, parentID)
	if err != nil {
		return nil, fmt.Errorf("querying subtasks: %w", err)
	}
	return collectPGTasks(rows)
}

func (s *PGStore) UpdateTask(ctx context.Context, ownerID, id string, u TaskUpdate) (Task, error) {
	if err := u.validate(); err != nil {
		return Task{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := scanPGTask(tx.QueryRowContext(ctx,
		`SELECT `+pgTaskColumns+` FROM tasks WHERE owner_id = $1 AND id = $2 FOR UPDATE`, ownerID, id))
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}

	applyUpdate(&t, u)

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET text = $1, priority = $2, status = $3, embedding = $4, embedding_hash = $5, updated_at = $6
		WHERE id = $7`,
		t.Text, string(t.Priority), string(t.Status), pgVector(t.Embedding), t.EmbeddingHash, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return Task{}, fmt.Errorf("updating task %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("committing update: %w", err)
	}
	return t, nil
}

func (s *PGStore) DeleteTask(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) SetTaskEmbedding(ctx context.Context, id, text string, vec []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET embedding = $1, embedding_hash = $2 WHERE id = $3 AND text = $4`,
		pgVector(vec), TextDigest(text), id, text)
	if err != nil {
		return fmt.Errorf("storing embedding for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ListTasksMissingEmbedding(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pgTaskColumns+` FROM tasks
		WHERE embedding IS NULL
		ORDER BY created_at ASC, seq ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying tasks without embedding: %w", err)
	}
	return collectPGTasks(rows)
}

// pgVector maps an empty vector to NULL so it shows up in the backlog.
func pgVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pq.Array(v)
}

func scanPGTask(r rowScanner) (Task, error) {
	var t Task
	var priority, status string
	var vec pq.Float32Array
	if err := r.Scan(&t.ID, &t.OwnerID, &t.Text, &priority, &status, &t.ParentTaskID,
		&vec, &t.EmbeddingHash, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Task{}, err
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	if len(vec) > 0 {
		t.Embedding = []float32(vec)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func collectPGTasks(rows *sql.Rows) ([]Task, error) {
	defer rows.Close()
	var tasks []Task
	for rows.Next() {
		t, err := scanPGTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
