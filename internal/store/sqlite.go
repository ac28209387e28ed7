package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/ccsched/internal/logging"
	"github.com/me/ccsched/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.OrDiscard(logger).With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	s.logger.Debug("sql", "op", "insert", "table", "sessions", "id", sess.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, label, host, started_at, ended_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Label, sess.Host, sess.StartedAt.Format(time.RFC3339Nano), formatTimePtr(sess.EndedAt),
	)
	return err
}

const sessionColumns = `s.id, s.label, s.host, s.started_at, s.ended_at,
	(SELECT COUNT(*) FROM actions a WHERE a.session_id = s.id)`

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s.logger.Debug("sql", "op", "select", "table", "sessions", "id", id)

	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, opts model.ListOptions) ([]*model.Session, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "sessions", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions s ORDER BY s.started_at DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

func (s *SQLiteStore) EndSession(ctx context.Context, id string, at time.Time) error {
	s.logger.Debug("sql", "op", "update", "table", "sessions", "id", id)

	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`, at.Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// --- Action trace ---

// InsertActions writes a batch of records in one transaction.
func (s *SQLiteStore) InsertActions(ctx context.Context, recs []model.ActionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "insert", "table", "actions", "count", len(recs))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO actions (session_id, seq, frame, action, inside_vsync, at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.SessionID, rec.Seq, rec.Frame, string(rec.Action), boolToInt(rec.InsideVSync),
			rec.At.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert action %d: %w", rec.Seq, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListActions(ctx context.Context, opts model.ListOptions) ([]*model.ActionRecord, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "actions", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	// Build WHERE clause dynamically based on filters.
	var whereClauses []string
	var countArgs []any

	if opts.SessionID != "" {
		whereClauses = append(whereClauses, "session_id = ?")
		countArgs = append(countArgs, opts.SessionID)
	}
	if opts.Action != "" {
		whereClauses = append(whereClauses, "action = ?")
		countArgs = append(countArgs, string(opts.Action))
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT session_id, seq, frame, action, inside_vsync, at FROM actions` + whereSQL +
		` ORDER BY session_id, seq LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var recs []*model.ActionRecord
	for rows.Next() {
		var rec model.ActionRecord
		var action, at string
		var insideVSync int
		if err := rows.Scan(&rec.SessionID, &rec.Seq, &rec.Frame, &action, &insideVSync, &at); err != nil {
			return nil, 0, err
		}
		rec.Action = model.Action(action)
		rec.InsideVSync = insideVSync != 0
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		recs = append(recs, &rec)
	}
	return recs, total, rows.Err()
}

// CountActions tallies a session's actions by kind. An empty sessionID
// counts every session.
func (s *SQLiteStore) CountActions(ctx context.Context, sessionID string) (model.ActionSummary, error) {
	s.logger.Debug("sql", "op", "count", "table", "actions", "session_id", sessionID)

	query := `SELECT action, COUNT(*) FROM actions`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` GROUP BY action`

	var summary model.ActionSummary
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return summary, err
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return summary, err
		}
		summary.Add(model.Action(action), n)
	}
	return summary, rows.Err()
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.Session, error) {
	var sess model.Session
	var startedAt string
	var endedAt *string
	if err := row.Scan(&sess.ID, &sess.Label, &sess.Host, &startedAt, &endedAt, &sess.Actions); err != nil {
		return nil, err
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *endedAt)
		sess.EndedAt = &t
	}
	return &sess, nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
