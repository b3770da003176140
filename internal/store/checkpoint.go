package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a session ID.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is one persisted session checkpoint. AppBlob carries the
// opaque application payload (launcher text, title, resume hints) and
// State the full serialized session. Neither is interpreted here.
// Ordinal is assigned by the store on save and orders snapshots by
// recency without wall-clock comparisons.
type Snapshot struct {
	SessionID string
	Ordinal   int64
	Title     string
	AppBlob   []byte
	State     []byte
	CreatedAt time.Time
}

// SaveSnapshot writes a checkpoint, replacing any previous snapshot for
// the same session. The ordinal is allocated inside the statement, above
// every ordinal already stored, so sessions sharing one database never
// collide on the unique constraint and every save becomes the newest.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots
		(session_id, ordinal, title, app_blob, state, created_at)
		VALUES (?, (SELECT COALESCE(MAX(ordinal), 0) + 1 FROM snapshots), ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			ordinal = (SELECT COALESCE(MAX(ordinal), 0) + 1 FROM snapshots),
			title = excluded.title,
			app_blob = excluded.app_blob,
			state = excluded.state,
			created_at = excluded.created_at
	`,
		snap.SessionID,
		snap.Title,
		snap.AppBlob,
		snap.State,
		snap.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot by session ID.
// Returns ErrSnapshotNotFound if the session has no checkpoint.
func (s *Store) GetSnapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, ordinal, title, app_blob, state, created_at
		FROM snapshots
		WHERE session_id = ?
	`, sessionID)

	snap, err := scanSnapshot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("session %s: %w", sessionID, ErrSnapshotNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns every stored snapshot, most recent first.
// Returns an empty slice (not nil) when the database is empty.
func (s *Store) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, ordinal, title, app_blob, state, created_at
		FROM snapshots
		ORDER BY ordinal DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}

	return snapshots, nil
}

// DeleteSnapshot removes the snapshot for a session.
// Returns ErrSnapshotNotFound if none exists.
func (s *Store) DeleteSnapshot(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrSnapshotNotFound)
	}
	return nil
}

func scanSnapshot(scan func(...any) error) (Snapshot, error) {
	var snap Snapshot
	var createdAt string
	if err := scan(
		&snap.SessionID, &snap.Ordinal, &snap.Title,
		&snap.AppBlob, &snap.State, &createdAt,
	); err != nil {
		return Snapshot{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse created_at: %w", err)
	}
	snap.CreatedAt = ts
	return snap, nil
}
