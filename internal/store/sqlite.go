package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteStore implements RoundStore using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens/creates a SQLite database at path. Call Migrate before use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	baseMigrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			server_seed_hash TEXT NOT NULL,
			client_seed TEXT NOT NULL,
			nonce INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reveals (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			rotation INTEGER NOT NULL,
			server_seed TEXT NOT NULL,
			server_seed_hash TEXT NOT NULL,
			client_seed TEXT NOT NULL,
			final_nonce INTEGER NOT NULL,
			revealed_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, rotation)
		)`,
	}

	alterMigrations := []string{
		`ALTER TABLE sessions ADD COLUMN rotation INTEGER NOT NULL DEFAULT 0`,
	}

	indexMigrations := []string{
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_server_seed_hash ON sessions(server_seed_hash)`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, migration := range baseMigrations {
		if _, err := tx.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("base migration failed: %w", err)
		}
	}

	for _, migration := range alterMigrations {
		if _, err := tx.ExecContext(ctx, migration); err != nil {
			// Re-running migrations on an existing database is expected.
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("alter migration failed: %w", err)
			}
		}
	}

	for _, migration := range indexMigrations {
		if _, err := tx.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("index migration failed: %w", err)
		}
	}

	return tx.Commit()
}

func isDuplicateColumnError(err error) bool {
	return strings.Contains(err.Error(), "duplicate column name")
}

// CreateSession inserts a new session. An empty ID is filled with a UUID.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	if err := validateSession(session); err != nil {
		return err
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (
		id, server_seed_hash, client_seed, nonce, rotation, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.ServerSeedHash, session.ClientSeed, session.Nonce,
		session.Rotation, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, server_seed_hash, client_seed, nonce, rotation, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	err := row.Scan(
		&session.ID, &session.ServerSeedHash, &session.ClientSeed, &session.Nonce,
		&session.Rotation, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// IncrementNonce bumps the nonce and returns it together with the seed pair
// it belongs to, in a single statement. The increment is atomic across
// connections and processes sharing the file, and a concurrent rotation
// cannot slip between the nonce and the pair.
func (s *SQLiteStore) IncrementNonce(ctx context.Context, id string) (*Session, error) {
	var session Session
	err := s.db.QueryRowContext(ctx,
		`UPDATE sessions SET nonce = nonce + 1, updated_at = ? WHERE id = ?
		RETURNING id, server_seed_hash, client_seed, nonce, rotation`,
		time.Now().UTC(), id,
	).Scan(&session.ID, &session.ServerSeedHash, &session.ClientSeed, &session.Nonce, &session.Rotation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment nonce: %w", err)
	}
	return &session, nil
}

// RotateSeeds writes the reveal of the current pair, installs the next
// commitment and resets the nonce in one transaction. The first statement is
// a write so the transaction holds the write lock before it reads.
func (s *SQLiteStore) RotateSeeds(ctx context.Context, id string, req RotateRequest) (*Session, *Reveal, error) {
	if err := req.validate(); err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `INSERT INTO reveals (
		session_id, rotation, server_seed, server_seed_hash, client_seed, final_nonce, revealed_at
	) SELECT id, rotation, ?, server_seed_hash, client_seed, nonce, ?
		FROM sessions WHERE id = ? AND rotation = ?`,
		req.ServerSeed, now, id, req.FromRotation,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record reveal: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&count); err != nil {
			return nil, nil, fmt.Errorf("failed to check session: %w", err)
		}
		if count == 0 {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: expected rotation %d", ErrRotationConflict, req.FromRotation)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET
		server_seed_hash = ?, client_seed = ?, nonce = 0, rotation = rotation + 1, updated_at = ?
		WHERE id = ?`,
		req.NextServerSeedHash, req.NextClientSeed, now, id,
	); err != nil {
		return nil, nil, fmt.Errorf("failed to rotate seeds: %w", err)
	}

	session, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reload session: %w", err)
	}
	reveal, err := scanReveal(tx.QueryRowContext(ctx, `SELECT `+revealColumns+` FROM reveals
		WHERE session_id = ? AND rotation = ?`, id, req.FromRotation))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reload reveal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit rotation: %w", err)
	}
	return session, reveal, nil
}

const revealColumns = `session_id, rotation, server_seed, server_seed_hash, client_seed, final_nonce, revealed_at`

func scanReveal(row rowScanner) (*Reveal, error) {
	var r Reveal
	err := row.Scan(
		&r.SessionID, &r.Rotation, &r.ServerSeed, &r.ServerSeedHash, &r.ClientSeed,
		&r.FinalNonce, &r.RevealedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReveal returns the reveal of one rotation of a session.
func (s *SQLiteStore) GetReveal(ctx context.Context, id string, rotation int) (*Reveal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+revealColumns+` FROM reveals
		WHERE session_id = ? AND rotation = ?`, id, rotation)
	reveal, err := scanReveal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reveal: %w", err)
	}
	return reveal, nil
}

// ListReveals returns every reveal of a session, oldest rotation first.
func (s *SQLiteStore) ListReveals(ctx context.Context, id string) ([]Reveal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+revealColumns+` FROM reveals
		WHERE session_id = ? ORDER BY rotation`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query reveals: %w", err)
	}
	defer rows.Close()

	reveals := []Reveal{}
	for rows.Next() {
		reveal, err := scanReveal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reveal: %w", err)
		}
		reveals = append(reveals, *reveal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reveals: %w", err)
	}
	return reveals, nil
}

// ListSessions retrieves sessions, newest first, with pagination
func (s *SQLiteStore) ListSessions(ctx context.Context, query SessionsQuery) (*SessionsList, error) {
	query = query.normalize()

	var totalCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	totalPages := (totalCount + query.PerPage - 1) / query.PerPage
	offset := (query.Page - 1) * query.PerPage

	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`, query.PerPage, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return &SessionsList{
		Sessions:   sessions,
		TotalCount: totalCount,
		Page:       query.Page,
		PerPage:    query.PerPage,
		TotalPages: totalPages,
	}, nil
}
