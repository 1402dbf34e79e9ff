// Package redis provides Redis-backed checkpoint storage so interview
// sessions survive process restarts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/talentloop/interviewgraph/graph"
)

const defaultKeyPrefix = "interviewgraph:checkpoint:"

// Saver is a Redis implementation of graph.Saver. Conditional puts use a
// WATCH transaction on the session key, so two racing writers cannot both
// extend the version chain.
type Saver struct {
	client    redis.UniversalClient
	keyPrefix string
}

// Option configures a Saver.
type Option func(*options)

type options struct {
	url       string
	client    redis.UniversalClient
	keyPrefix string
}

// WithURL sets the Redis connection URL, e.g. "redis://localhost:6379/0".
func WithURL(url string) Option {
	return func(o *options) { o.url = url }
}

// WithClient supplies an existing client, overriding WithURL.
func WithClient(client redis.UniversalClient) Option {
	return func(o *options) { o.client = client }
}

// WithKeyPrefix overrides the key prefix checkpoints are stored under.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

// NewSaver creates a Redis checkpoint saver.
func NewSaver(opts ...Option) (*Saver, error) {
	o := &options{keyPrefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(o)
	}
	client := o.client
	if client == nil {
		if o.url == "" {
			return nil, errors.New("redis: url is empty")
		}
		parsed, err := redis.ParseURL(o.url)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url %s: %w", o.url, err)
		}
		client = redis.NewClient(parsed)
	}
	return &Saver{client: client, keyPrefix: o.keyPrefix}, nil
}

// Get retrieves the live checkpoint for a session.
func (s *Saver) Get(ctx context.Context, sessionID string) (*graph.Checkpoint, error) {
	if sessionID == "" {
		return nil, graph.ErrSessionIDRequired
	}
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get checkpoint: %w", err)
	}
	var ckpt graph.Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("redis: decode checkpoint: %w", err)
	}
	return &ckpt, nil
}

// Put stores a checkpoint conditionally on the version chain.
func (s *Saver) Put(ctx context.Context, ckpt *graph.Checkpoint) error {
	if ckpt == nil || ckpt.SessionID == "" {
		return graph.ErrSessionIDRequired
	}
	key := s.key(ckpt.SessionID)
	payload, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("redis: encode checkpoint: %w", err)
	}
	txn := func(tx *redis.Tx) error {
		var stored int64
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			stored = 0
		case err != nil:
			return fmt.Errorf("redis: get checkpoint: %w", err)
		default:
			var existing graph.Checkpoint
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("redis: decode checkpoint: %w", err)
			}
			stored = existing.Version
		}
		if ckpt.Version != stored+1 {
			return fmt.Errorf("session %s: have version %d, put version %d: %w",
				ckpt.SessionID, stored, ckpt.Version, graph.ErrVersionConflict)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}
	err = s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// The key changed under us, which is the same race the version
		// check guards against.
		return fmt.Errorf("session %s: %w", ckpt.SessionID, graph.ErrVersionConflict)
	}
	return err
}

// Delete removes a session's checkpoint.
func (s *Saver) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return graph.ErrSessionIDRequired
	}
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis: delete checkpoint: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Saver) Close() error {
	return s.client.Close()
}

func (s *Saver) key(sessionID string) string {
	return s.keyPrefix + sessionID
}
