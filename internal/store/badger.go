package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	sessionPrefix  = "session/"
	revealPrefix   = "reveal/"
	maxTxnAttempts = 64
)

// BadgerStore implements RoundStore on an embedded Badger database. Records
// are JSON-encoded Sessions keyed by "session/<id>" and Reveals keyed by
// "reveal/<id>/<rotation>".
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens/creates a Badger database in dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// Migrate is a no-op; Badger records are schemaless.
func (b *BadgerStore) Migrate(ctx context.Context) error {
	return ctx.Err()
}

func sessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

// revealKey zero-pads the rotation so keys iterate in rotation order.
func revealKey(id string, rotation int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", revealPrefix, id, rotation))
}

func (b *BadgerStore) CreateSession(ctx context.Context, session *Session) error {
	if err := validateSession(session); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
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

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(sessionKey(session.ID))
		if err == nil {
			return fmt.Errorf("failed to insert session: id %s already exists", session.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(sessionKey(session.ID), data)
	})
}

func getSessionTxn(txn *badger.Txn, id string) (*Session, error) {
	item, err := txn.Get(sessionKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal(val, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &session, nil
}

func putSessionTxn(txn *badger.Txn, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return txn.Set(sessionKey(session.ID), data)
}

func (b *BadgerStore) GetSession(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var session *Session
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		session, err = getSessionTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// update runs fn in a read-write transaction, retrying when a concurrent
// writer touched the same key between read and commit.
func (b *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

// IncrementNonce reads, bumps and writes the nonce in one serializable
// transaction and returns the record it wrote.
func (b *BadgerStore) IncrementNonce(ctx context.Context, id string) (*Session, error) {
	var snapshot *Session
	err := b.update(ctx, func(txn *badger.Txn) error {
		session, err := getSessionTxn(txn, id)
		if err != nil {
			return err
		}
		session.Nonce++
		session.UpdatedAt = time.Now().UTC()
		if err := putSessionTxn(txn, session); err != nil {
			return err
		}
		snapshot = session
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment nonce: %w", err)
	}
	return snapshot, nil
}

func (b *BadgerStore) RotateSeeds(ctx context.Context, id string, req RotateRequest) (*Session, *Reveal, error) {
	if err := req.validate(); err != nil {
		return nil, nil, err
	}

	var (
		rotated *Session
		reveal  *Reveal
	)
	err := b.update(ctx, func(txn *badger.Txn) error {
		session, err := getSessionTxn(txn, id)
		if err != nil {
			return err
		}
		if session.Rotation != req.FromRotation {
			return fmt.Errorf("%w: expected rotation %d, found %d", ErrRotationConflict, req.FromRotation, session.Rotation)
		}

		now := time.Now().UTC()
		r := &Reveal{
			SessionID:      session.ID,
			Rotation:       session.Rotation,
			ServerSeed:     req.ServerSeed,
			ServerSeedHash: session.ServerSeedHash,
			ClientSeed:     session.ClientSeed,
			FinalNonce:     session.Nonce,
			RevealedAt:     now,
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode reveal: %w", err)
		}
		if err := txn.Set(revealKey(id, r.Rotation), data); err != nil {
			return err
		}

		session.ServerSeedHash = req.NextServerSeedHash
		session.ClientSeed = req.NextClientSeed
		session.Nonce = 0
		session.Rotation++
		session.UpdatedAt = now
		if err := putSessionTxn(txn, session); err != nil {
			return err
		}
		rotated, reveal = session, r
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if errors.Is(err, ErrRotationConflict) {
		return nil, nil, err
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to rotate seeds: %w", err)
	}
	return rotated, reveal, nil
}

func (b *BadgerStore) GetReveal(ctx context.Context, id string, rotation int) (*Reveal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var reveal Reveal
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(revealKey(id, rotation))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &reveal)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reveal: %w", err)
	}
	return &reveal, nil
}

// ListReveals returns every reveal of a session, oldest rotation first.
func (b *BadgerStore) ListReveals(ctx context.Context, id string) ([]Reveal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reveals := []Reveal{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(revealPrefix + id + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var r Reveal
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("failed to decode reveal %s: %w", it.Item().Key(), err)
			}
			reveals = append(reveals, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reveals: %w", err)
	}
	return reveals, nil
}

// ListSessions scans every session record and pages them newest first.
func (b *BadgerStore) ListSessions(ctx context.Context, query SessionsQuery) (*SessionsList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query = query.normalize()

	all := []Session{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var session Session
			if err := json.Unmarshal(val, &session); err != nil {
				return fmt.Errorf("failed to decode session %s: %w", it.Item().Key(), err)
			}
			all = append(all, session)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	totalCount := len(all)
	totalPages := (totalCount + query.PerPage - 1) / query.PerPage
	start := (query.Page - 1) * query.PerPage
	if start > totalCount {
		start = totalCount
	}
	end := start + query.PerPage
	if end > totalCount {
		end = totalCount
	}

	return &SessionsList{
		Sessions:   all[start:end],
		TotalCount: totalCount,
		Page:       query.Page,
		PerPage:    query.PerPage,
		TotalPages: totalPages,
	}, nil
}
