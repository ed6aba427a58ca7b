package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// schemaDDL mirrors the teacher's MySQLStore.ensureSchema convention: a
// single table keyed by checkpoint_id with a workflow_id index for the
// ListForWorkflow/DeleteForWorkflow access pattern.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id     VARCHAR(64) PRIMARY KEY,
	workflow_id       VARCHAR(64) NOT NULL,
	workflow_type     VARCHAR(128) NOT NULL,
	created_at        DATETIME(6) NOT NULL,
	agent_id          VARCHAR(128),
	stage_index       INT NOT NULL,
	snapshot          LONGTEXT NOT NULL,
	schema_version    INT NOT NULL,
	state_size_bytes  INT NOT NULL,
	label             VARCHAR(256),
	metadata          JSON NOT NULL,
	INDEX idx_checkpoints_workflow_id (workflow_id)
)`

// mysqlBackend is the "primary (networked) back-end" of §4.1: an opaque
// key/value store over a single checkpoints table. It never falls back on
// its own — Store composes it with a fileBackend for that.
type mysqlBackend struct {
	db *sql.DB
}

// newMySQLBackend opens the schema (creating the table if absent) and
// verifies connectivity with PingContext, following the same
// SetMaxOpenConns + Ping convention the teacher's MySQLStore uses.
func newMySQLBackend(ctx context.Context, db *sql.DB) (*mysqlBackend, error) {
	db.SetMaxOpenConns(25)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connecting to mysql checkpoint backend: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("creating checkpoints schema: %w", err)
	}
	return &mysqlBackend{db: db}, nil
}

func (b *mysqlBackend) write(ctx context.Context, cp *Checkpoint) error {
	meta, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO checkpoints
			(checkpoint_id, workflow_id, workflow_type, created_at, agent_id,
			 stage_index, snapshot, schema_version, state_size_bytes, label, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.WorkflowID, cp.WorkflowType, cp.CreatedAt, cp.AgentID,
		cp.StageIndex, cp.Snapshot, cp.SchemaVersion, cp.StateSizeBytes, cp.Label, meta)
	if err != nil {
		return fmt.Errorf("insert checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

func (b *mysqlBackend) scanRow(row *sql.Row) (*Checkpoint, error) {
	var cp Checkpoint
	var meta []byte
	err := row.Scan(&cp.ID, &cp.WorkflowID, &cp.WorkflowType, &cp.CreatedAt, &cp.AgentID,
		&cp.StageIndex, &cp.Snapshot, &cp.SchemaVersion, &cp.StateSizeBytes, &cp.Label, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(meta, &cp.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint metadata: %w", err)
	}
	return &cp, nil
}

func (b *mysqlBackend) read(ctx context.Context, id string) (*Checkpoint, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, workflow_id, workflow_type, created_at, agent_id,
		       stage_index, snapshot, schema_version, state_size_bytes, label, metadata
		FROM checkpoints WHERE checkpoint_id = ?`, id)
	cp, err := b.scanRow(row)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint %s: %w", id, err)
	}
	return cp, nil
}

func (b *mysqlBackend) exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkpoints WHERE checkpoint_id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking checkpoint existence %s: %w", id, err)
	}
	return n > 0, nil
}

func (b *mysqlBackend) queryAll(ctx context.Context, where string, args ...any) ([]*Checkpoint, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT checkpoint_id, workflow_id, workflow_type, created_at, agent_id,
		       stage_index, snapshot, schema_version, state_size_bytes, label, metadata
		FROM checkpoints `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var meta []byte
		if err := rows.Scan(&cp.ID, &cp.WorkflowID, &cp.WorkflowType, &cp.CreatedAt, &cp.AgentID,
			&cp.StageIndex, &cp.Snapshot, &cp.SchemaVersion, &cp.StateSizeBytes, &cp.Label, &meta); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		if err := json.Unmarshal(meta, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint metadata: %w", err)
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}

func (b *mysqlBackend) list(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	return b.queryAll(ctx, `WHERE workflow_id = ? ORDER BY created_at DESC`, workflowID)
}

func (b *mysqlBackend) all(ctx context.Context) ([]*Checkpoint, error) {
	return b.queryAll(ctx, `ORDER BY created_at DESC`)
}

func (b *mysqlBackend) delete(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE checkpoint_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	return nil
}

func (b *mysqlBackend) deleteAll(ctx context.Context, workflowID string) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return 0, fmt.Errorf("delete checkpoints for workflow %s: %w", workflowID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted checkpoints for workflow %s: %w", workflowID, err)
	}
	return int(n), nil
}

var _ backend = (*mysqlBackend)(nil)

// NewMySQLStore creates a Store whose primary backend is MySQL
// (github.com/go-sql-driver/mysql) and whose fallback is a file backend
// rooted at fallbackDir — the "primary-with-file-fallback" storage_backend
// setting described in §6.4.
func NewMySQLStore(ctx context.Context, db *sql.DB, fallbackDir string, opts ...Option) (*Store, error) {
	primary, err := newMySQLBackend(ctx, db)
	if err != nil {
		return nil, err
	}
	fallback, err := newFileBackend(fallbackDir)
	if err != nil {
		return nil, err
	}
	return newStore(primary, fallback, opts...), nil
}
