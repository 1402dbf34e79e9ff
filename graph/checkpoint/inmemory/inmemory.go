// Package inmemory provides in-memory checkpoint storage for graph
// execution. Suitable for tests and single-process deployments; sessions
// do not survive a restart.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/talentloop/interviewgraph/graph"
)

// Saver is an in-memory implementation of graph.Saver. One checkpoint is
// kept per session; conditional puts enforce the version chain.
type Saver struct {
	mu      sync.RWMutex
	storage map[string]*graph.Checkpoint
}

// NewSaver creates a new in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{storage: make(map[string]*graph.Checkpoint)}
}

// Get retrieves the live checkpoint for a session.
func (s *Saver) Get(ctx context.Context, sessionID string) (*graph.Checkpoint, error) {
	if sessionID == "" {
		return nil, graph.ErrSessionIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ckpt, exists := s.storage[sessionID]
	if !exists {
		return nil, nil
	}
	return copyCheckpoint(ckpt), nil
}

// Put stores a checkpoint, overwriting the previous one for the session.
// The write succeeds only when it extends the version chain by exactly one.
func (s *Saver) Put(ctx context.Context, ckpt *graph.Checkpoint) error {
	if ckpt == nil || ckpt.SessionID == "" {
		return graph.ErrSessionIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored int64
	if existing, exists := s.storage[ckpt.SessionID]; exists {
		stored = existing.Version
	}
	if ckpt.Version != stored+1 {
		return fmt.Errorf("session %s: have version %d, put version %d: %w",
			ckpt.SessionID, stored, ckpt.Version, graph.ErrVersionConflict)
	}
	s.storage[ckpt.SessionID] = copyCheckpoint(ckpt)
	return nil
}

// Delete removes a session's checkpoint.
func (s *Saver) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return graph.ErrSessionIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.storage, sessionID)
	return nil
}

// Close implements graph.Saver.
func (s *Saver) Close() error {
	return nil
}

// copyCheckpoint isolates stored checkpoints from caller mutation.
func copyCheckpoint(ckpt *graph.Checkpoint) *graph.Checkpoint {
	dup := *ckpt
	dup.State = append([]byte(nil), ckpt.State...)
	return &dup
}
