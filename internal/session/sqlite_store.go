package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	tags             TEXT,
	meta             TEXT,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	summary_brief    TEXT,
	summary_detailed TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	content,
	content='messages',
	content_rowid='seq',
	tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts(rowid, content) VALUES (new.seq, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.seq, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.seq, old.content);
	INSERT INTO messages_fts(rowid, content) VALUES (new.seq, new.content);
END;
`

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
}

// SQLiteStore implements Store on a SQLite file with an FTS5 message index.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// A single connection serializes writers and keeps per-connection pragmas in effect.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	for _, p := range sqlitePragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: applyOptions(opts).now}, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, in NewSession) (*Session, error) {
	tags, meta, err := encodeTagsMeta(in.Tags, in.Meta)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	sess := &Session{
		ID:        newSessionID(),
		Title:     in.Title,
		Tags:      in.Tags,
		Meta:      in.Meta,
		CreatedAt: time.Unix(now, 0),
		UpdatedAt: time.Unix(now, 0),
	}
	sess.normalize()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, tags, meta, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, tags, meta, now, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListOptions) ([]*Session, int, error) {
	opts = opts.withDefaults()

	where, args := tagFilter("tags", opts.Tags)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: count sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions`+where+` ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlite: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	return sessions, total, nil
}

func (s *SQLiteStore) SaveMessages(ctx context.Context, sessionID string, msgs []NewMessage) ([]Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: save messages: %w", err)
	}

	now := s.now().Unix()
	saved := make([]Message, 0, len(msgs))
	for _, in := range msgs {
		created := now
		if !in.CreatedAt.IsZero() {
			created = in.CreatedAt.Unix()
		}
		m := Message{
			ID:        newMessageID(),
			SessionID: sessionID,
			Role:      in.Role,
			Content:   in.Content,
			CreatedAt: time.Unix(created, 0),
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			m.ID, m.SessionID, string(m.Role), m.Content, created); err != nil {
			return nil, fmt.Errorf("sqlite: save messages: %w", err)
		}
		saved = append(saved, m)
	}

	if len(saved) > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
			return nil, fmt.Errorf("sqlite: touch session: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return saved, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY created_at ASC, seq ASC LIMIT ? OFFSET ?`,
		sessionID, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var (
			m       Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(created, 0)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) WriteSummary(ctx context.Context, sessionID string, style Style, text string) error {
	column := "summary_brief"
	if style == StyleDetailed {
		column = "summary_detailed"
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET `+column+` = ? WHERE id = ?`, text, sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: write summary: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, opts SearchOptions) ([]SearchHit, error) {
	opts = opts.withDefaults()
	match := MatchQuery(opts.Query)
	if match == "" {
		return []SearchHit{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT m.id, m.session_id, s.title, m.content, messages_fts.rank, m.created_at
		FROM messages_fts
		JOIN messages m ON messages_fts.rowid = m.seq
		JOIN sessions s ON m.session_id = s.id
		WHERE messages_fts MATCH ? AND m.created_at > ?`)
	args := []any{match, opts.since(s.now()).Unix()}

	if opts.SessionID != "" {
		sb.WriteString(` AND m.session_id = ?`)
		args = append(args, opts.SessionID)
	}
	for _, tag := range opts.Tags {
		sb.WriteString(` AND s.tags LIKE ?`)
		args = append(args, tagPattern(tag))
	}
	sb.WriteString(` ORDER BY messages_fts.rank LIMIT ?`)
	args = append(args, opts.TopK)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search %q: %w", match, err)
	}
	defer rows.Close()

	hits := []SearchHit{}
	for rows.Next() {
		var (
			h       SearchHit
			created int64
		)
		if err := rows.Scan(&h.MessageID, &h.SessionID, &h.SessionTitle, &h.Content, &h.Score, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan hit: %w", err)
		}
		h.Snippet = h.Content
		h.CreatedAt = time.Unix(created, 0)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sessionColumns = `id, title, tags, meta, created_at, updated_at, summary_brief, summary_detailed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var (
		sess                    Session
		tags, meta              sql.NullString
		created, updated        int64
		summaryBrief, summaryDt sql.NullString
	)
	if err := r.Scan(&sess.ID, &sess.Title, &tags, &meta, &created, &updated, &summaryBrief, &summaryDt); err != nil {
		return nil, err
	}
	if err := decodeTagsMeta(&sess, tags.String, meta.String); err != nil {
		return nil, err
	}
	sess.CreatedAt = time.Unix(created, 0)
	sess.UpdatedAt = time.Unix(updated, 0)
	sess.SummaryBrief = summaryBrief.String
	sess.SummaryDetailed = summaryDt.String
	return &sess, nil
}

func encodeTagsMeta(tags []string, meta map[string]any) (any, any, error) {
	var tagsJSON, metaJSON any
	if len(tags) > 0 {
		b, err := json.Marshal(tags)
		if err != nil {
			return nil, nil, fmt.Errorf("encode tags: %w", err)
		}
		tagsJSON = string(b)
	}
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, nil, fmt.Errorf("encode meta: %w", err)
		}
		metaJSON = string(b)
	}
	return tagsJSON, metaJSON, nil
}

func decodeTagsMeta(sess *Session, tags, meta string) error {
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &sess.Tags); err != nil {
			return fmt.Errorf("decode tags: %w", err)
		}
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &sess.Meta); err != nil {
			return fmt.Errorf("decode meta: %w", err)
		}
	}
	sess.normalize()
	return nil
}

// tagFilter builds an AND-ed LIKE filter over a JSON-encoded tag column.
func tagFilter(column string, tags []string) (string, []any) {
	if len(tags) == 0 {
		return "", nil
	}
	conds := make([]string, len(tags))
	args := make([]any, len(tags))
	for i, tag := range tags {
		conds[i] = column + " LIKE ?"
		args[i] = tagPattern(tag)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func tagPattern(tag string) string {
	return `%"` + tag + `"%`
}
