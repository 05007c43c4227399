package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session id has no record.
	ErrNotFound = errors.New("store: session not found")
	// ErrInvalidSession is returned for records missing required fields.
	ErrInvalidSession = errors.New("store: invalid session")
	// ErrRotationConflict is returned when the session was rotated by another
	// writer after the caller read it.
	ErrRotationConflict = errors.New("store: session rotated concurrently")
)

// RoundStore persists the minimal round record: the session, its committed
// server seed hash, the client seed and the last used nonce.
//
// IncrementNonce must be a single atomic read-modify-write so that two
// concurrent callers can never observe the same nonce. The returned snapshot
// carries the seed pair the nonce was issued under. Timestamps are not set.
//
// RotateSeeds records the retiring pair as a Reveal and installs the next
// commitment in the same transaction.
type RoundStore interface {
	Close() error
	Migrate(ctx context.Context) error
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	IncrementNonce(ctx context.Context, id string) (*Session, error)
	RotateSeeds(ctx context.Context, id string, req RotateRequest) (*Session, *Reveal, error)
	GetReveal(ctx context.Context, id string, rotation int) (*Reveal, error)
	ListReveals(ctx context.Context, id string) ([]Reveal, error)
	ListSessions(ctx context.Context, query SessionsQuery) (*SessionsList, error)
}

// Session is one player's seed pair and nonce counter.
type Session struct {
	ID             string    `json:"id" db:"id"`
	ServerSeedHash string    `json:"server_seed_hash" db:"server_seed_hash"` // commitment only
	ClientSeed     string    `json:"client_seed" db:"client_seed"`
	Nonce          uint64    `json:"nonce" db:"nonce"`
	Rotation       int       `json:"rotation" db:"rotation"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// RotateRequest retires the seed pair of rotation FromRotation. ServerSeed is
// the secret being revealed; it is public from here on.
type RotateRequest struct {
	FromRotation       int
	ServerSeed         string
	NextServerSeedHash string
	NextClientSeed     string
}

// Reveal is a retired seed pair and the last nonce played under it.
type Reveal struct {
	SessionID      string    `json:"session_id" db:"session_id"`
	Rotation       int       `json:"rotation" db:"rotation"`
	ServerSeed     string    `json:"server_seed" db:"server_seed"`
	ServerSeedHash string    `json:"server_seed_hash" db:"server_seed_hash"`
	ClientSeed     string    `json:"client_seed" db:"client_seed"`
	FinalNonce     uint64    `json:"final_nonce" db:"final_nonce"`
	RevealedAt     time.Time `json:"revealed_at" db:"revealed_at"`
}

// SessionsQuery represents query parameters for listing sessions
type SessionsQuery struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

// SessionsList represents a paginated sessions response
type SessionsList struct {
	Sessions   []Session `json:"sessions"`
	TotalCount int       `json:"totalCount"`
	Page       int       `json:"page"`
	PerPage    int       `json:"perPage"`
	TotalPages int       `json:"totalPages"`
}

func (q SessionsQuery) normalize() SessionsQuery {
	if q.PerPage <= 0 {
		q.PerPage = 50
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return q
}

func (r RotateRequest) validate() error {
	if r.NextServerSeedHash == "" {
		return errors.Join(ErrInvalidSession, errors.New("server seed hash is required"))
	}
	if r.ServerSeed == "" {
		return errors.Join(ErrInvalidSession, errors.New("revealed server seed is required"))
	}
	return nil
}

func validateSession(s *Session) error {
	if s == nil {
		return ErrInvalidSession
	}
	if s.ServerSeedHash == "" {
		return errors.Join(ErrInvalidSession, errors.New("server seed hash is required"))
	}
	return nil
}
