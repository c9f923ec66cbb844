// Package redis provides a Redis-backed collab.Store for deployments that
// share sessions across processes without a relational database.
//
// Each session is one CBOR blob. Secondary keys map tokens and documents to
// session IDs, and a sorted set scores sessions by last activity so the
// sweeper can find idle ones. Writes use WATCH/MULTI so a concurrent change
// aborts the transaction instead of being overwritten.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeengage/snippet-collab/pkg/collab"
)

// DefaultPrefix keeps every key in one hash slot on Redis Cluster.
const DefaultPrefix = "{collab}:"

// Config configures the Redis session store.
type Config struct {
	Prefix string
}

// Store implements collab.Store using Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New creates a Redis session store. The client stays owned by the caller.
func New(rdb redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: cfg.Prefix}
}

func (s *Store) sessionKey(id string) string { return s.prefix + "session:" + id }
func (s *Store) tokenKey(token string) string { return s.prefix + "token:" + token }
func (s *Store) documentKey(doc string) string { return s.prefix + "document:" + doc }
func (s *Store) activityKey() string { return s.prefix + "activity" }

func activityScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Create stores a new session at version 1.
func (s *Store) Create(ctx context.Context, sess *collab.Session) error {
	docKey, tokKey := s.documentKey(sess.DocumentID), s.tokenKey(sess.Token)

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, docKey, tokKey).Result()
		if err != nil {
			return fmt.Errorf("checking session keys: %w", err)
		}
		if n > 0 {
			return collab.ErrDuplicate
		}

		rec := sess.Clone()
		rec.Version = 1
		data, err := encodeSession(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.sessionKey(sess.ID), data, 0)
			pipe.Set(ctx, tokKey, sess.ID, 0)
			pipe.Set(ctx, docKey, sess.ID, 0)
			pipe.ZAdd(ctx, s.activityKey(), redis.Z{Score: activityScore(sess.LastActivity), Member: sess.ID})
			return nil
		})
		return err
	}, docKey, tokKey)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		// Someone claimed the document or token between WATCH and EXEC.
		return collab.ErrDuplicate
	case errors.Is(err, collab.ErrDuplicate):
		return err
	case err != nil:
		return fmt.Errorf("creating session: %w", err)
	}
	sess.Version = 1
	return nil
}

// Get retrieves a session by ID. Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*collab.Session, error) {
	data, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return decodeSession(data)
}

// GetByToken retrieves a session by its join token. Returns nil, nil if not found.
func (s *Store) GetByToken(ctx context.Context, token string) (*collab.Session, error) {
	return s.getIndexed(ctx, s.tokenKey(token))
}

// GetByDocument retrieves the session of a document. Returns nil, nil if none.
func (s *Store) GetByDocument(ctx context.Context, documentID string) (*collab.Session, error) {
	return s.getIndexed(ctx, s.documentKey(documentID))
}

func (s *Store) getIndexed(ctx context.Context, indexKey string) (*collab.Session, error) {
	id, err := s.rdb.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("resolving session index: %w", err)
	}
	return s.Get(ctx, id)
}

// Update writes the session if the stored version still matches, then
// advances sess.Version.
func (s *Store) Update(ctx context.Context, sess *collab.Session) error {
	key := s.sessionKey(sess.ID)

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		if err := s.checkVersion(ctx, tx, key, sess.Version); err != nil {
			return err
		}

		rec := sess.Clone()
		rec.Version = sess.Version + 1
		data, err := encodeSession(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.activityKey(), redis.Z{Score: activityScore(sess.LastActivity), Member: sess.ID})
			return nil
		})
		return err
	}, key)
	if err := translateWriteErr(err, "updating session"); err != nil {
		return err
	}
	sess.Version++
	return nil
}

// Delete removes the session and its index keys if the stored version
// still matches.
func (s *Store) Delete(ctx context.Context, id string, version int64) error {
	key := s.sessionKey(id)

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored == nil || stored.Version != version {
			return collab.ErrConflict
		}
		return s.remove(ctx, tx, stored)
	}, key)
	return translateWriteErr(err, "deleting session")
}

// DeleteIdle removes sessions whose last activity is before cutoff. Each
// candidate is re-read under WATCH, so a session touched after the scan is
// left alone.
func (s *Store) DeleteIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	candidates, err := s.rdb.ZRangeByScore(ctx, s.activityKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scanning idle sessions: %w", err)
	}

	deleted := make([]string, 0, len(candidates))
	for _, id := range candidates {
		key := s.sessionKey(id)
		removed := false

		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}
			if stored == nil {
				// Dangling activity entry.
				return tx.ZRem(ctx, s.activityKey(), id).Err()
			}
			if !stored.LastActivity.Before(cutoff) {
				return nil
			}
			if err := s.remove(ctx, tx, stored); err != nil {
				return err
			}
			removed = true
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("deleting idle session %s: %w", id, err)
		}
		if removed {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

// Close is a no-op; the client belongs to the caller.
func (*Store) Close() error {
	return nil
}

func (*Store) load(ctx context.Context, tx *redis.Tx, key string) (*collab.Session, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // absent session is not an error here
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return decodeSession(data)
}

func (s *Store) checkVersion(ctx context.Context, tx *redis.Tx, key string, version int64) error {
	stored, err := s.load(ctx, tx, key)
	if err != nil {
		return err
	}
	if stored == nil || stored.Version != version {
		return collab.ErrConflict
	}
	return nil
}

func (s *Store) remove(ctx context.Context, tx *redis.Tx, sess *collab.Session) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(sess.ID), s.tokenKey(sess.Token), s.documentKey(sess.DocumentID))
		pipe.ZRem(ctx, s.activityKey(), sess.ID)
		return nil
	})
	return err
}

func translateWriteErr(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, collab.ErrConflict):
		return collab.ErrConflict
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Verify interface compliance.
var _ collab.Store = (*Store)(nil)
