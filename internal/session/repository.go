package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heimdex/cutplan/internal/segment"
	"github.com/heimdex/cutplan/internal/selection"
)

// Repository stores session inputs. Derived data (clusters, removal sets,
// summaries) is never stored. Getters return nil, nil when nothing matches.
type Repository interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error
	UpdateSessionFilter(ctx context.Context, id string, f selection.FilterState) error
	UpdateSessionDuration(ctx context.Context, id string, duration float64) error

	ReplaceSegments(ctx context.Context, sessionID string, segs []segment.Segment) error
	GetSegments(ctx context.Context, sessionID string) ([]segment.Segment, error)

	SaveSelection(ctx context.Context, sessionID string, sel selection.ClusterSelection) error
	GetSelections(ctx context.Context, sessionID string) ([]selection.ClusterSelection, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, s *Session) error {
	filter, err := json.Marshal(s.Filter)
	if err != nil {
		return fmt.Errorf("failed to encode filter: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, media_path, duration, filter, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Name, nullString(s.MediaPath), s.Duration, string(filter),
		s.CreatedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, media_path, duration, filter, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var mediaPath sql.NullString
	var filter, createdAt, updatedAt string

	if err := row.Scan(&s.ID, &s.Name, &mediaPath, &s.Duration, &filter, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	s.MediaPath = mediaPath.String
	s.Filter = selection.DefaultFilter()
	if err := json.Unmarshal([]byte(filter), &s.Filter); err != nil {
		return nil, fmt.Errorf("session %s: corrupt filter: %w", s.ID, err)
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

func (r *SQLiteRepository) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, media_path, duration, filter, created_at, updated_at
		FROM sessions ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) UpdateSessionFilter(ctx context.Context, id string, f selection.FilterState) error {
	filter, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode filter: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE sessions SET filter = ?, updated_at = ? WHERE id = ?
	`, string(filter), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) UpdateSessionDuration(ctx context.Context, id string, duration float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET duration = ?, updated_at = ? WHERE id = ?
	`, duration, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// ReplaceSegments swaps in a new analysis pass. The old pass's selections
// are discarded with it.
func (r *SQLiteRepository) ReplaceSegments(ctx context.Context, sessionID string, segs []segment.Segment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM selections WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM segments WHERE session_id = ?", sessionID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segments (session_id, id, category, start_time, end_time, duration, confidence, severity, origin, source_text, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range segs {
		origin := s.Origin
		if origin == "" {
			origin = segment.OriginAnalysis
		}
		if _, err := stmt.ExecContext(ctx, sessionID, s.ID, s.Category.String(), s.Start, s.End, s.Duration,
			s.Confidence, string(s.Severity), string(origin), nullString(s.SourceText), nullString(s.Reason)); err != nil {
			return fmt.Errorf("failed to insert segment %s: %w", s.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetSegments(ctx context.Context, sessionID string) ([]segment.Segment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, category, start_time, end_time, duration, confidence, severity, origin, source_text, reason
		FROM segments WHERE session_id = ? ORDER BY start_time, end_time, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	segs := []segment.Segment{}
	for rows.Next() {
		var s segment.Segment
		var category, severity, origin string
		var sourceText, reason sql.NullString

		if err := rows.Scan(&s.ID, &category, &s.Start, &s.End, &s.Duration, &s.Confidence,
			&severity, &origin, &sourceText, &reason); err != nil {
			return nil, err
		}
		c, err := segment.ParseCategory(category)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", s.ID, err)
		}
		s.Category = c
		s.Severity, _ = segment.ParseSeverity(severity)
		s.Origin = segment.Origin(origin)
		s.SourceText = sourceText.String
		s.Reason = reason.String
		segs = append(segs, s)
	}
	return segs, rows.Err()
}

func (r *SQLiteRepository) SaveSelection(ctx context.Context, sessionID string, sel selection.ClusterSelection) error {
	winner, err := json.Marshal(sel.SelectedWinner)
	if err != nil {
		return err
	}
	removed, err := json.Marshal(sel.RemovedIDs)
	if err != nil {
		return err
	}
	kept, err := json.Marshal(sel.KeptIDs)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO selections (session_id, cluster_id, selected_winner, removed_ids, kept_ids, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, cluster_id) DO UPDATE SET
			selected_winner = excluded.selected_winner,
			removed_ids = excluded.removed_ids,
			kept_ids = excluded.kept_ids,
			updated_at = excluded.updated_at
	`, sessionID, sel.ClusterID, string(winner), string(removed), string(kept), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetSelections(ctx context.Context, sessionID string) ([]selection.ClusterSelection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cluster_id, selected_winner, removed_ids, kept_ids
		FROM selections WHERE session_id = ? ORDER BY cluster_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []selection.ClusterSelection
	for rows.Next() {
		var sel selection.ClusterSelection
		var winner, removed, kept string
		if err := rows.Scan(&sel.ClusterID, &winner, &removed, &kept); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(winner), &sel.SelectedWinner); err != nil {
			return nil, fmt.Errorf("selection %s: %w", sel.ClusterID, err)
		}
		if err := json.Unmarshal([]byte(removed), &sel.RemovedIDs); err != nil {
			return nil, fmt.Errorf("selection %s: %w", sel.ClusterID, err)
		}
		if err := json.Unmarshal([]byte(kept), &sel.KeptIDs); err != nil {
			return nil, fmt.Errorf("selection %s: %w", sel.ClusterID, err)
		}
		out = append(out, sel)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
