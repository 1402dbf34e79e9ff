package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/talentloop/interviewgraph/log"
	"github.com/talentloop/interviewgraph/telemetry/trace"
)

// StateKeyResumeValue is the reserved key the executor injects a resume
// value under. The interrupt node consumes it; it never persists.
const StateKeyResumeValue = "__resume__"

const defaultMaxSteps = 100

// Result is the outcome of a Start or Resume call.
type Result struct {
	// State is the state as of the halt. Callers own this copy.
	State State
	// NextNode is the node the session is parked at (the interrupt node
	// when Interrupted, End when Done).
	NextNode string
	// Version is the checkpoint version written by this call.
	Version int64
	// Interrupted reports that execution halted at the suspend point and
	// is waiting for external input.
	Interrupted bool
	// Done reports that execution reached End.
	Done bool
}

// Executor drives a session's state through a compiled graph.
//
// Execution is strictly sequential within a session. Suspension is logical:
// on reaching the interrupt node without a pending resume value the executor
// persists a checkpoint and returns to the caller; it holds no resources
// while a session is paused.
type Executor struct {
	graph           *Graph
	saver           Saver
	interruptBefore string
	maxSteps        int

	// running serializes calls per session key. The loser of a race gets
	// ErrConcurrentResume instead of corrupting state.
	running sync.Map
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	interruptBefore string
	maxSteps        int
}

// WithInterruptBefore designates the suspend point: execution halts and
// checkpoints whenever this node is next and no resume value is pending.
func WithInterruptBefore(nodeID string) ExecutorOption {
	return func(o *executorOptions) { o.interruptBefore = nodeID }
}

// WithMaxSteps bounds the number of node executions per call.
func WithMaxSteps(maxSteps int) ExecutorOption {
	return func(o *executorOptions) { o.maxSteps = maxSteps }
}

// NewExecutor creates a new graph executor backed by the given saver.
func NewExecutor(g *Graph, saver Saver, opts ...ExecutorOption) (*Executor, error) {
	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	if saver == nil {
		return nil, errors.New("checkpoint saver is required")
	}
	o := executorOptions{maxSteps: defaultMaxSteps}
	for _, opt := range opts {
		opt(&o)
	}
	if o.interruptBefore != "" {
		if _, ok := g.Node(o.interruptBefore); !ok {
			return nil, fmt.Errorf("interrupt node %s does not exist", o.interruptBefore)
		}
	}
	return &Executor{
		graph:           g,
		saver:           saver,
		interruptBefore: o.interruptBefore,
		maxSteps:        o.maxSteps,
	}, nil
}

// Start begins a fresh session from the graph entry point. It fails with
// ErrSessionExists when the session already has a live checkpoint.
func (e *Executor) Start(ctx context.Context, sessionID string, initial State) (*Result, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	release, err := e.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	ckpt, err := e.saver.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if ckpt != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionExists)
	}
	if initial == nil {
		initial = make(State)
	}
	return e.run(ctx, sessionID, initial.Clone(), e.graph.EntryPoint(), 0)
}

// Resume continues a suspended session. resumeValue is required when the
// session is parked at the suspend point and rejected anywhere else; both
// violations surface as ErrInvalidResume so a stale caller cannot misapply
// an answer after a restart.
func (e *Executor) Resume(ctx context.Context, sessionID string, resumeValue any) (*Result, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	release, err := e.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	ckpt, err := e.saver.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if ckpt == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoCheckpoint)
	}
	if ckpt.NextNode == End {
		return nil, fmt.Errorf("session %s already completed: %w", sessionID, ErrInvalidResume)
	}
	atSuspend := e.interruptBefore != "" && ckpt.NextNode == e.interruptBefore
	if atSuspend && resumeValue == nil {
		return nil, fmt.Errorf("session %s requires input: %w", sessionID, ErrInvalidResume)
	}
	if !atSuspend && resumeValue != nil {
		return nil, fmt.Errorf("session %s is not at the suspend point: %w", sessionID, ErrInvalidResume)
	}

	state, err := e.graph.Schema().UnmarshalState(ckpt.State)
	if err != nil {
		return nil, fmt.Errorf("failed to restore state: %w", err)
	}
	if resumeValue != nil {
		state[StateKeyResumeValue] = resumeValue
	}
	return e.run(ctx, sessionID, state, ckpt.NextNode, ckpt.Version)
}

// Snapshot returns a copy of the persisted state and the node the session
// is parked at. Intended for diagnostics and tests.
func (e *Executor) Snapshot(ctx context.Context, sessionID string) (State, string, error) {
	if sessionID == "" {
		return nil, "", ErrSessionIDRequired
	}
	ckpt, err := e.saver.Get(ctx, sessionID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if ckpt == nil {
		return nil, "", fmt.Errorf("session %s: %w", sessionID, ErrNoCheckpoint)
	}
	state, err := e.graph.Schema().UnmarshalState(ckpt.State)
	if err != nil {
		return nil, "", fmt.Errorf("failed to restore state: %w", err)
	}
	return state, ckpt.NextNode, nil
}

// Delete abandons a session by removing its checkpoint.
func (e *Executor) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	return e.saver.Delete(ctx, sessionID)
}

// run executes nodes until the suspend point, End, or an error. The step
// bound plus acyclic progress in the caller's routing guarantee termination.
// Exactly one checkpoint is written per halted call; a failing step writes
// nothing, which is what makes retries idempotent.
func (e *Executor) run(ctx context.Context, sessionID string, state State, next string, version int64) (*Result, error) {
	ctx, span := trace.Tracer.Start(ctx, "execute_graph")
	defer span.End()
	span.SetAttributes(attribute.String("interviewgraph.session_id", sessionID))

	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if step >= e.maxSteps {
			return nil, fmt.Errorf("maximum execution steps (%d) exceeded", e.maxSteps)
		}
		if next == End {
			ckpt, err := e.persist(ctx, sessionID, state, next, version+1, CheckpointSourceFinal)
			if err != nil {
				return nil, err
			}
			log.Debugf("session %s completed at version %d", sessionID, ckpt.Version)
			return &Result{State: state, NextNode: End, Version: ckpt.Version, Done: true}, nil
		}
		if e.interruptBefore != "" && next == e.interruptBefore {
			if _, pending := state[StateKeyResumeValue]; !pending {
				ckpt, err := e.persist(ctx, sessionID, state, next, version+1, CheckpointSourceInterrupt)
				if err != nil {
					return nil, err
				}
				log.Debugf("session %s suspended at %s, version %d", sessionID, next, ckpt.Version)
				return &Result{State: state, NextNode: next, Version: ckpt.Version, Interrupted: true}, nil
			}
		}
		var err error
		state, next, err = e.executeNode(ctx, state, next)
		if err != nil {
			return nil, err
		}
	}
}

// executeNode runs one node, merges its delta, and selects the next node.
func (e *Executor) executeNode(ctx context.Context, state State, nodeID string) (State, string, error) {
	node, exists := e.graph.Node(nodeID)
	if !exists {
		return nil, "", fmt.Errorf("node %s not found", nodeID)
	}

	ctx, span := trace.Tracer.Start(ctx, fmt.Sprintf("execute_node %s", nodeID))
	defer span.End()
	span.SetAttributes(
		attribute.String("interviewgraph.node_id", nodeID),
		attribute.String("interviewgraph.node_name", node.Name),
	)

	goTo := ""
	if node.Function != nil {
		result, err := node.Function(ctx, state)
		if err != nil {
			span.SetAttributes(attribute.String("interviewgraph.error", err.Error()))
			return nil, "", &StepError{Node: nodeID, Err: err}
		}
		switch v := result.(type) {
		case *Command:
			if v.Update != nil {
				state = e.graph.Schema().ApplyUpdate(state, v.Update)
			}
			goTo = v.GoTo
		case State:
			state = e.graph.Schema().ApplyUpdate(state, v)
		case nil:
		default:
			return nil, "", fmt.Errorf("node %s returned invalid result type: %T", nodeID, result)
		}
	}
	// The resume value is single-use: once the interrupt node has run, no
	// downstream step may observe it again.
	if nodeID == e.interruptBefore {
		delete(state, StateKeyResumeValue)
	}

	if goTo != "" {
		span.SetAttributes(attribute.String("interviewgraph.next_node", goTo))
		return state, goTo, nil
	}
	next, err := e.selectNextNode(ctx, state, nodeID)
	if err != nil {
		return nil, "", err
	}
	span.SetAttributes(attribute.String("interviewgraph.next_node", next))
	return state, next, nil
}

// selectNextNode selects the next node based on edges and conditional logic.
func (e *Executor) selectNextNode(ctx context.Context, state State, currentNodeID string) (string, error) {
	if condEdge, exists := e.graph.ConditionalEdge(currentNodeID); exists {
		conditionResult, err := condEdge.Condition(ctx, state)
		if err != nil {
			return "", fmt.Errorf("conditional edge evaluation failed: %w", err)
		}
		if nextNode, ok := condEdge.PathMap[conditionResult]; ok {
			return nextNode, nil
		}
		return "", fmt.Errorf("condition result %s not found in path map", conditionResult)
	}
	edges := e.graph.Edges(currentNodeID)
	if len(edges) == 0 {
		return End, nil
	}
	return edges[0].To, nil
}

// persist writes the single checkpoint of this call.
func (e *Executor) persist(ctx context.Context, sessionID string, state State, next string, version int64, source string) (*Checkpoint, error) {
	data, err := MarshalState(state)
	if err != nil {
		return nil, err
	}
	ckpt := NewCheckpoint(sessionID, next, data, version, source)
	if err := e.saver.Put(ctx, ckpt); err != nil {
		return nil, fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	return ckpt, nil
}

// acquire takes the per-session execution slot.
func (e *Executor) acquire(sessionID string) (release func(), err error) {
	if _, loaded := e.running.LoadOrStore(sessionID, struct{}{}); loaded {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrConcurrentResume)
	}
	return func() { e.running.Delete(sessionID) }, nil
}
