package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MJE43/plinko-fair/internal/digest"
	"github.com/MJE43/plinko-fair/internal/logger"
	"github.com/MJE43/plinko-fair/internal/seed"
	"github.com/MJE43/plinko-fair/internal/store"
)

// ErrSeedMismatch means the vault holds a server seed that does not hash to
// the session's published commitment.
var ErrSeedMismatch = errors.New("engine: server seed does not match commitment")

// Commitment is the player-facing view of a session. It never carries the
// server seed.
type Commitment struct {
	SessionID      string `json:"session_id"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          uint64 `json:"nonce"`
	Rotation       int    `json:"rotation"`
}

// RevealedSeed is a retired server seed together with the last nonce played
// under it. It is recorded by the store in the same write that retires it.
type RevealedSeed struct {
	SessionID      string    `json:"session_id"`
	Rotation       int       `json:"rotation"`
	ServerSeed     string    `json:"server_seed"`
	ServerSeedHash string    `json:"server_seed_hash"`
	ClientSeed     string    `json:"client_seed"`
	FinalNonce     uint64    `json:"final_nonce"`
	RevealedAt     time.Time `json:"revealed_at"`
}

// Reveal is the result of a rotation: the disclosed seed and the commitment
// that replaced it.
type Reveal struct {
	RevealedSeed
	Next Commitment `json:"next"`
}

// Engine hosts sessions on top of a RoundStore and a seed Vault.
type Engine struct {
	store    store.RoundStore
	vault    seed.Vault
	logger   *slog.Logger
	encoding digest.Encoding

	locks sync.Map // session id -> *sync.Mutex
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEncoding selects how seed text is turned into hash input bytes.
func WithEncoding(enc digest.Encoding) Option {
	return func(e *Engine) {
		if enc != "" {
			e.encoding = enc
		}
	}
}

func New(st store.RoundStore, vault seed.Vault, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		vault:    vault,
		logger:   logger.L(),
		encoding: digest.EncodingLatin1,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Encoding reports the text encoding used for round messages.
func (e *Engine) Encoding() digest.Encoding {
	return e.encoding
}

func (e *Engine) lock(sessionID string) func() {
	v, _ := e.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// StartSession commits a fresh server seed and creates a session at nonce 0.
// An empty clientSeed is replaced with a random one.
func (e *Engine) StartSession(ctx context.Context, clientSeed string) (Commitment, error) {
	if clientSeed == "" {
		generated, err := seed.GenerateClientSeed()
		if err != nil {
			return Commitment{}, err
		}
		clientSeed = generated
	}
	if _, err := digest.EncodeText(clientSeed, e.encoding); err != nil {
		return Commitment{}, fmt.Errorf("engine: client seed: %w", err)
	}

	serverSeed, err := seed.GenerateServerSeed()
	if err != nil {
		return Commitment{}, err
	}
	hash, err := seed.Commit(serverSeed, e.encoding)
	if err != nil {
		return Commitment{}, err
	}

	id := uuid.New().String()
	key := seedKey(id, hash)
	if err := e.vault.Put(key, serverSeed); err != nil {
		return Commitment{}, fmt.Errorf("engine: store server seed: %w", err)
	}

	session := &store.Session{ID: id, ServerSeedHash: hash, ClientSeed: clientSeed}
	if err := e.store.CreateSession(ctx, session); err != nil {
		if derr := e.vault.Delete(key); derr != nil {
			e.logger.Warn("failed to clean up server seed", "session_id", id, "error", derr)
		}
		return Commitment{}, fmt.Errorf("engine: create session: %w", err)
	}

	e.logger.Info("session started", "session_id", id, "server_seed_hash", hash)
	return commitmentOf(session), nil
}

// Commitment returns the current public view of a session.
func (e *Engine) Commitment(ctx context.Context, sessionID string) (Commitment, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return Commitment{}, fmt.Errorf("engine: session %s: %w", sessionID, err)
	}
	return commitmentOf(session), nil
}

// NextOutcome plays one round. The nonce is durably incremented before the
// digest is computed; if that write fails the round is aborted. A failure
// after the write still consumes the nonce.
//
// The digest is computed from the seed pair the store returned with the
// nonce, so a rotation committed by another process between the two reads
// cannot pair an old nonce with a new seed.
func (e *Engine) NextOutcome(ctx context.Context, sessionID string, rows int) (Outcome, error) {
	if rows < 0 || rows > MaxRows {
		return Outcome{}, fmt.Errorf("%w: %d not in [0, %d]", ErrRowsOutOfRange, rows, MaxRows)
	}

	unlock := e.lock(sessionID)
	defer unlock()

	snap, err := e.store.IncrementNonce(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{}, fmt.Errorf("engine: session %s: %w", sessionID, err)
		}
		e.logger.Error("nonce increment failed, round aborted", "session_id", sessionID, "error", err)
		return Outcome{}, fmt.Errorf("%w: %w", ErrNoncePersist, err)
	}

	serverSeed, err := e.serverSeed(ctx, snap)
	if err != nil {
		return Outcome{}, err
	}

	out, err := Compute(serverSeed, snap.ClientSeed, snap.Nonce, rows, e.encoding)
	if err != nil {
		return Outcome{}, err
	}

	e.logger.Debug("round computed",
		"session_id", sessionID,
		"nonce", snap.Nonce,
		"rotation", snap.Rotation,
		"rows", rows,
		"slot", out.SlotIndex,
	)
	return out, nil
}

// Rotate reveals the current server seed, commits a new one and resets the
// nonce. An empty newClientSeed keeps the current client seed.
//
// The new seed is vaulted under its own key before the store swaps the
// commitment, so a crash between the two leaves the old seed in place and
// the session playable. The store records the reveal in the same write.
func (e *Engine) Rotate(ctx context.Context, sessionID, newClientSeed string) (Reveal, error) {
	unlock := e.lock(sessionID)
	defer unlock()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return Reveal{}, fmt.Errorf("engine: session %s: %w", sessionID, err)
	}
	serverSeed, err := e.serverSeed(ctx, session)
	if err != nil {
		return Reveal{}, err
	}

	clientSeed := newClientSeed
	if clientSeed == "" {
		clientSeed = session.ClientSeed
	}
	if _, err := digest.EncodeText(clientSeed, e.encoding); err != nil {
		return Reveal{}, fmt.Errorf("engine: client seed: %w", err)
	}

	nextSeed, err := seed.GenerateServerSeed()
	if err != nil {
		return Reveal{}, err
	}
	nextHash, err := seed.Commit(nextSeed, e.encoding)
	if err != nil {
		return Reveal{}, err
	}

	nextKey := seedKey(sessionID, nextHash)
	if err := e.vault.Put(nextKey, nextSeed); err != nil {
		return Reveal{}, fmt.Errorf("engine: store server seed: %w", err)
	}
	rotated, revealed, err := e.store.RotateSeeds(ctx, sessionID, store.RotateRequest{
		FromRotation:       session.Rotation,
		ServerSeed:         serverSeed,
		NextServerSeedHash: nextHash,
		NextClientSeed:     clientSeed,
	})
	if err != nil {
		if derr := e.vault.Delete(nextKey); derr != nil {
			e.logger.Warn("failed to discard unused server seed", "session_id", sessionID, "error", derr)
		}
		return Reveal{}, fmt.Errorf("engine: rotate seeds: %w", err)
	}
	if derr := e.vault.Delete(seedKey(sessionID, session.ServerSeedHash)); derr != nil {
		e.logger.Warn("failed to discard revealed server seed", "session_id", sessionID, "error", derr)
	}

	e.logger.Info("seeds rotated",
		"session_id", sessionID,
		"revealed_hash", revealed.ServerSeedHash,
		"final_nonce", revealed.FinalNonce,
		"next_hash", nextHash,
	)

	return Reveal{
		RevealedSeed: revealedOf(revealed),
		Next:         commitmentOf(rotated),
	}, nil
}

// Reveals lists every seed the session has retired, oldest first.
func (e *Engine) Reveals(ctx context.Context, sessionID string) ([]RevealedSeed, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("engine: session %s: %w", sessionID, err)
	}
	records, err := e.store.ListReveals(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("engine: session %s: %w", sessionID, err)
	}
	out := make([]RevealedSeed, 0, len(records))
	for i := range records {
		out = append(out, revealedOf(&records[i]))
	}
	return out, nil
}

// serverSeed resolves the secret behind s.ServerSeedHash. A seed that has
// already been retired is read back from its reveal record.
func (e *Engine) serverSeed(ctx context.Context, s *store.Session) (string, error) {
	serverSeed, err := e.vault.Get(seedKey(s.ID, s.ServerSeedHash))
	if errors.Is(err, seed.ErrSecretNotFound) {
		reveal, rerr := e.store.GetReveal(ctx, s.ID, s.Rotation)
		if rerr != nil {
			return "", fmt.Errorf("engine: session %s: %w", s.ID, err)
		}
		serverSeed, err = reveal.ServerSeed, nil
	}
	if err != nil {
		return "", fmt.Errorf("engine: session %s: %w", s.ID, err)
	}
	if !seed.VerifyCommitment(serverSeed, s.ServerSeedHash, e.encoding) {
		return "", fmt.Errorf("%w: session %s", ErrSeedMismatch, s.ID)
	}
	return serverSeed, nil
}

// seedKey names a vault entry. Each committed seed gets its own entry so a
// rotation never overwrites a seed that is still in play.
func seedKey(sessionID, serverSeedHash string) string {
	return sessionID + "/" + serverSeedHash
}

func commitmentOf(s *store.Session) Commitment {
	return Commitment{
		SessionID:      s.ID,
		ServerSeedHash: s.ServerSeedHash,
		ClientSeed:     s.ClientSeed,
		Nonce:          s.Nonce,
		Rotation:       s.Rotation,
	}
}

func revealedOf(r *store.Reveal) RevealedSeed {
	return RevealedSeed{
		SessionID:      r.SessionID,
		Rotation:       r.Rotation,
		ServerSeed:     r.ServerSeed,
		ServerSeedHash: r.ServerSeedHash,
		ClientSeed:     r.ClientSeed,
		FinalNonce:     r.FinalNonce,
		RevealedAt:     r.RevealedAt,
	}
}
