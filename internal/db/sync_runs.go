package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type SyncFile struct {
	Name       string
	RemotePath string
	Outcome    string
	Error      string
}

type SyncRun struct {
	ID         string
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Files      []SyncFile
}

// RecordSyncRun stores a finished run. An empty ID is replaced with a new uuid,
// which is returned.
func (d *DB) RecordSyncRun(ctx context.Context, run SyncRun) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_runs(run_id,source,started_at,finished_at) VALUES(?,?,?,?)`,
		run.ID, run.Trigger, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli()); err != nil {
		return "", err
	}
	for i, f := range run.Files {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_files(run_id,position,name,remote_path,outcome,error) VALUES(?,?,?,?,?,?)`,
			run.ID, i, f.Name, f.RemotePath, f.Outcome, f.Error); err != nil {
			return "", err
		}
	}
	return run.ID, tx.Commit()
}

// LastSyncRun returns the most recently started run.
func (d *DB) LastSyncRun(ctx context.Context) (SyncRun, bool, error) {
	var run SyncRun
	var started, finished int64
	err := d.sql.QueryRowContext(ctx,
		`SELECT run_id,source,started_at,finished_at FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT 1`).
		Scan(&run.ID, &run.Trigger, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncRun{}, false, nil
	}
	if err != nil {
		return SyncRun{}, false, err
	}
	run.StartedAt = time.UnixMilli(started).UTC()
	run.FinishedAt = time.UnixMilli(finished).UTC()

	rows, err := d.sql.QueryContext(ctx,
		`SELECT name,remote_path,outcome,error FROM sync_files WHERE run_id=? ORDER BY position`, run.ID)
	if err != nil {
		return SyncRun{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var f SyncFile
		if err := rows.Scan(&f.Name, &f.RemotePath, &f.Outcome, &f.Error); err != nil {
			return SyncRun{}, false, err
		}
		run.Files = append(run.Files, f)
	}
	return run, true, rows.Err()
}

// PruneSyncRuns keeps the newest keep runs and deletes the rest.
func (d *DB) PruneSyncRuns(ctx context.Context, keep int) (int64, error) {
	res, err := d.sql.ExecContext(ctx,
		`DELETE FROM sync_runs WHERE run_id NOT IN (
			SELECT run_id FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
