package graph

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Checkpoint sources.
const (
	// CheckpointSourceInterrupt marks a checkpoint written at the suspend
	// point while waiting for external input.
	CheckpointSourceInterrupt = "interrupt"
	// CheckpointSourceFinal marks the checkpoint written when execution
	// reaches End.
	CheckpointSourceFinal = "final"
)

// Checkpoint is the durable snapshot of a session's paused execution.
// There is exactly one live checkpoint per session; every halt overwrites
// it through a conditional put keyed on Version.
type Checkpoint struct {
	// ID is the unique identifier for this checkpoint write.
	ID string `json:"id"`
	// SessionID keys the checkpoint.
	SessionID string `json:"session_id"`
	// NextNode is the node the engine will run next on resume. This is
	// what makes resumption deterministic.
	NextNode string `json:"next_node"`
	// State is the serialized session state.
	State json.RawMessage `json:"state"`
	// Version increases by exactly one on every write. A put whose Version
	// is not stored+1 fails with ErrVersionConflict.
	Version int64 `json:"version"`
	// Source records why the checkpoint was written.
	Source string `json:"source"`
	// Timestamp is when the checkpoint was created.
	Timestamp time.Time `json:"ts"`
}

// NewCheckpoint creates a checkpoint snapshot for a session.
func NewCheckpoint(sessionID, nextNode string, state json.RawMessage, version int64, source string) *Checkpoint {
	return &Checkpoint{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		NextNode:  nextNode,
		State:     state,
		Version:   version,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

// Saver is the minimal key-value contract checkpoints are stored behind.
// Implementations must serialize reads and writes per session key and
// reject stale conditional puts with ErrVersionConflict so two racing
// resume calls cannot both commit.
type Saver interface {
	// Get retrieves the live checkpoint for a session, or (nil, nil) when
	// none exists.
	Get(ctx context.Context, sessionID string) (*Checkpoint, error)
	// Put stores a checkpoint conditionally: it succeeds only when
	// ckpt.Version is exactly one greater than the stored version (or 1
	// when no checkpoint exists).
	Put(ctx context.Context, ckpt *Checkpoint) error
	// Delete removes a session's checkpoint. Deleting an absent session is
	// not an error.
	Delete(ctx context.Context, sessionID string) error
	// Close releases resources held by the saver.
	Close() error
}
