package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	tags             JSONB NOT NULL DEFAULT '[]'::jsonb,
	meta             JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	summary_brief    TEXT,
	summary_detailed TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_tags ON sessions USING GIN (tags);

CREATE TABLE IF NOT EXISTS messages (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	tsv        tsvector GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_tsv ON messages USING GIN (tsv);
`

// PostgresStore implements Store on Postgres, searching with a generated tsvector column.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &PostgresStore{pool: pool, now: applyOptions(opts).now}, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, in NewSession) (*Session, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	sess := &Session{
		ID:        newSessionID(),
		Title:     in.Title,
		Tags:      in.Tags,
		Meta:      in.Meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sess.normalize()

	tags, meta, err := marshalJSONB(sess.Tags, sess.Meta)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, title, tags, meta, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6)`,
		sess.ID, sess.Title, tags, meta, now, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgSessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanPgSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, opts ListOptions) ([]*Session, int, error) {
	opts = opts.withDefaults()

	where := ""
	var args []any
	if len(opts.Tags) > 0 {
		b, err := json.Marshal(opts.Tags)
		if err != nil {
			return nil, 0, fmt.Errorf("postgres: encode tags: %w", err)
		}
		where = ` WHERE tags @> $1::jsonb`
		args = append(args, string(b))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count sessions: %w", err)
	}

	n := len(args)
	args = append(args, opts.Limit, opts.Offset)
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgSessionColumns+` FROM sessions`+where+
			` ORDER BY updated_at DESC, id DESC LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		sess, err := scanPgSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("postgres: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: list sessions: %w", err)
	}
	return sessions, total, nil
}

func (s *PostgresStore) SaveMessages(ctx context.Context, sessionID string, msgs []NewMessage) ([]Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists int
	err = tx.QueryRow(ctx, `SELECT 1 FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: save messages: %w", err)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	saved := make([]Message, 0, len(msgs))
	batch := &pgx.Batch{}
	for _, in := range msgs {
		created := in.CreatedAt
		if created.IsZero() {
			created = now
		}
		m := Message{
			ID:        newMessageID(),
			SessionID: sessionID,
			Role:      in.Role,
			Content:   in.Content,
			CreatedAt: created,
		}
		batch.Queue(`INSERT INTO messages (id, session_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
			m.ID, m.SessionID, string(m.Role), m.Content, m.CreatedAt)
		saved = append(saved, m)
	}
	if len(saved) > 0 {
		batch.Queue(`UPDATE sessions SET updated_at = $1 WHERE id = $2`, now, sessionID)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("postgres: save messages: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = $1 ORDER BY created_at ASC, seq ASC LIMIT $2 OFFSET $3`,
		sessionID, limitArg, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.Role = Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) WriteSummary(ctx context.Context, sessionID string, style Style, text string) error {
	column := "summary_brief"
	if style == StyleDetailed {
		column = "summary_detailed"
	}
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET `+column+` = $1 WHERE id = $2`, text, sessionID)
	if err != nil {
		return fmt.Errorf("postgres: write summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, opts SearchOptions) ([]SearchHit, error) {
	opts = opts.withDefaults()
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return []SearchHit{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT m.id, m.session_id, s.title, m.content,
		       ts_headline('simple', m.content, q, 'MaxWords=35, MinWords=15'),
		       -ts_rank(m.tsv, q) AS score, m.created_at
		FROM messages m
		JOIN sessions s ON s.id = m.session_id,
		     websearch_to_tsquery('simple', $1) q
		WHERE m.tsv @@ q AND m.created_at > $2`)
	args := []any{query, opts.since(s.now()).UTC()}

	if opts.SessionID != "" {
		args = append(args, opts.SessionID)
		sb.WriteString(` AND m.session_id = $` + strconv.Itoa(len(args)))
	}
	if len(opts.Tags) > 0 {
		b, err := json.Marshal(opts.Tags)
		if err != nil {
			return nil, fmt.Errorf("postgres: encode tags: %w", err)
		}
		args = append(args, string(b))
		sb.WriteString(` AND s.tags @> $` + strconv.Itoa(len(args)) + `::jsonb`)
	}
	args = append(args, opts.TopK)
	sb.WriteString(` ORDER BY score ASC, m.id ASC LIMIT $` + strconv.Itoa(len(args)))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search %q: %w", query, err)
	}
	defer rows.Close()

	hits := []SearchHit{}
	for rows.Next() {
		var (
			h     SearchHit
			score float32
		)
		if err := rows.Scan(&h.MessageID, &h.SessionID, &h.SessionTitle, &h.Content, &h.Snippet, &score, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan hit: %w", err)
		}
		h.Score = float64(score)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgSessionColumns = `id, title, tags::text, meta::text, created_at, updated_at,
	COALESCE(summary_brief, ''), COALESCE(summary_detailed, '')`

func scanPgSession(r pgx.Row) (*Session, error) {
	var (
		sess       Session
		tags, meta string
	)
	if err := r.Scan(&sess.ID, &sess.Title, &tags, &meta, &sess.CreatedAt, &sess.UpdatedAt,
		&sess.SummaryBrief, &sess.SummaryDetailed); err != nil {
		return nil, err
	}
	if err := decodeTagsMeta(&sess, tags, meta); err != nil {
		return nil, err
	}
	return &sess, nil
}

func marshalJSONB(tags []string, meta map[string]any) (string, string, error) {
	t, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	m, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("encode meta: %w", err)
	}
	return string(t), string(m), nil
}
