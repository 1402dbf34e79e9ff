package interview

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/talentloop/interviewgraph/graph"
	"github.com/talentloop/interviewgraph/log"
	"github.com/talentloop/interviewgraph/model"
)

// Defaults for the interview policy.
const (
	// DefaultProbeLimit caps follow-up probes per topic before the topic is
	// forced forward.
	DefaultProbeLimit = 2
	// DefaultTopicCount is how many topics the topic agent asks the
	// generator for when none are preset.
	DefaultTopicCount = 4
	// DefaultEndCommand is the answer that requests explicit termination.
	DefaultEndCommand = "/end"
)

// ErrJobTitleRequired is returned when starting a session without a job
// title.
var ErrJobTitleRequired = errors.New("job_title is required for a new session")

// Engine is the sole entry point for conducting interviews. One engine
// serves many sessions; sessions never share state and may run
// concurrently.
type Engine struct {
	exec   *graph.Executor
	topics []string
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	probeLimit         int
	topicCount         int
	endCommand         string
	maxSteps           int
	topics             []string
	blockedPatterns    []string
	suspiciousPatterns []string
}

// WithProbeLimit sets how many probes are allowed per topic.
func WithProbeLimit(limit int) EngineOption {
	return func(o *engineOptions) { o.probeLimit = limit }
}

// WithTopicCount sets how many topics are generated from the job title.
func WithTopicCount(count int) EngineOption {
	return func(o *engineOptions) { o.topicCount = count }
}

// WithEndCommand sets the answer text that requests explicit termination.
// An empty string disables the command.
func WithEndCommand(command string) EngineOption {
	return func(o *engineOptions) { o.endCommand = command }
}

// WithTopics fixes the topic list at session creation instead of deriving
// it from the job title.
func WithTopics(topics ...string) EngineOption {
	return func(o *engineOptions) { o.topics = topics }
}

// WithMaxSteps bounds node executions per StartOrResume call.
func WithMaxSteps(maxSteps int) EngineOption {
	return func(o *engineOptions) { o.maxSteps = maxSteps }
}

// WithBlockedPatterns replaces the default blocked-answer patterns.
func WithBlockedPatterns(patterns ...string) EngineOption {
	return func(o *engineOptions) { o.blockedPatterns = patterns }
}

// WithSuspiciousPatterns replaces the default suspicious-answer patterns.
func WithSuspiciousPatterns(patterns ...string) EngineOption {
	return func(o *engineOptions) { o.suspiciousPatterns = patterns }
}

// New creates an interview engine over the given generator and checkpoint
// saver.
func New(gen model.Generator, saver graph.Saver, opts ...EngineOption) (*Engine, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	o := engineOptions{
		probeLimit:         DefaultProbeLimit,
		topicCount:         DefaultTopicCount,
		endCommand:         DefaultEndCommand,
		blockedPatterns:    defaultBlockedPatterns,
		suspiciousPatterns: defaultSuspiciousPatterns,
	}
	for _, opt := range opts {
		opt(&o)
	}

	blocked, err := compilePatterns(o.blockedPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid blocked pattern: %w", err)
	}
	suspicious, err := compilePatterns(o.suspiciousPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid suspicious pattern: %w", err)
	}

	a := &agents{
		gen:        gen,
		probeLimit: o.probeLimit,
		topicCount: o.topicCount,
		endCommand: o.endCommand,
		blocked:    blocked,
		suspicious: suspicious,
	}
	g, err := buildGraph(a)
	if err != nil {
		return nil, err
	}

	execOpts := []graph.ExecutorOption{graph.WithInterruptBefore(NodeHumanInput)}
	if o.maxSteps > 0 {
		execOpts = append(execOpts, graph.WithMaxSteps(o.maxSteps))
	}
	exec, err := graph.NewExecutor(g, saver, execOpts...)
	if err != nil {
		return nil, err
	}
	return &Engine{exec: exec, topics: o.topics}, nil
}

// Outcome is the result of a StartOrResume call: either the next question
// to put to the candidate, or the final feedback.
type Outcome struct {
	SessionID string      `json:"session_id"`
	Question  string      `json:"question,omitempty"`
	Feedback  *Assessment `json:"feedback,omitempty"`
	Done      bool        `json:"done"`
}

// StartOrResume starts a fresh session or resumes a suspended one.
// jobTitle is required only when no checkpoint exists for the session;
// answer is required only when one does. A failing agent step leaves the
// checkpoint untouched, so retrying with the same arguments is safe.
func (e *Engine) StartOrResume(ctx context.Context, sessionID, jobTitle, answer string) (*Outcome, error) {
	if sessionID == "" {
		return nil, graph.ErrSessionIDRequired
	}

	_, _, err := e.exec.Snapshot(ctx, sessionID)
	switch {
	case errors.Is(err, graph.ErrNoCheckpoint):
		if jobTitle == "" {
			return nil, ErrJobTitleRequired
		}
		log.Infof("starting interview session %s for %q", sessionID, jobTitle)
		res, err := e.exec.Start(ctx, sessionID, e.initialState(sessionID, jobTitle))
		if err != nil {
			return nil, err
		}
		return e.outcome(sessionID, res), nil
	case err != nil:
		return nil, err
	}

	if answer == "" {
		return nil, fmt.Errorf("session %s is awaiting an answer: %w", sessionID, graph.ErrInvalidResume)
	}
	res, err := e.exec.Resume(ctx, sessionID, answer)
	if err != nil {
		return nil, err
	}
	return e.outcome(sessionID, res), nil
}

// GetState returns a read-only snapshot of a session for diagnostics and
// tests.
func (e *Engine) GetState(ctx context.Context, sessionID string) (*StateSnapshot, error) {
	state, next, err := e.exec.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &StateSnapshot{
		SessionID:         stringFrom(state, StateKeySessionID),
		JobTitle:          stringFrom(state, StateKeyJobTitle),
		Topics:            append([]string(nil), topicsFrom(state)...),
		TopicIndex:        intFrom(state, StateKeyTopicIndex),
		Transcript:        append([]Turn(nil), transcriptFrom(state)...),
		PendingQuestion:   stringFrom(state, StateKeyPendingQuestion),
		SecurityFlag:      securityFlagFrom(state),
		JudgeVerdict:      verdictFrom(state),
		ProbeCount:        intFrom(state, StateKeyProbeCount),
		InterviewComplete: boolFrom(state, StateKeyInterviewComplete),
		Feedback:          assessmentFrom(state),
		NextStep:          next,
	}, nil
}

// Delete abandons a session, removing its checkpoint.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	return e.exec.Delete(ctx, sessionID)
}

// StateSnapshot is the full introspectable state of a session.
type StateSnapshot struct {
	SessionID         string       `json:"session_id"`
	JobTitle          string       `json:"job_title"`
	Topics            []string     `json:"topics"`
	TopicIndex        int          `json:"current_topic_index"`
	Transcript        []Turn       `json:"transcript"`
	PendingQuestion   string       `json:"pending_question"`
	SecurityFlag      SecurityFlag `json:"security_flag"`
	JudgeVerdict      Verdict      `json:"judge_verdict"`
	ProbeCount        int          `json:"probe_count"`
	InterviewComplete bool         `json:"interview_complete"`
	Feedback          *Assessment  `json:"feedback,omitempty"`
	NextStep          string       `json:"next_step"`
}

func (e *Engine) initialState(sessionID, jobTitle string) graph.State {
	state := graph.State{
		StateKeySessionID:         sessionID,
		StateKeyJobTitle:          jobTitle,
		StateKeyTopicIndex:        0,
		StateKeyProbeCount:        0,
		StateKeyTranscript:        []Turn{},
		StateKeyInterviewComplete: false,
	}
	if len(e.topics) > 0 {
		state[StateKeyTopics] = append([]string(nil), e.topics...)
	}
	return state
}

func (e *Engine) outcome(sessionID string, res *graph.Result) *Outcome {
	if res.Done {
		return &Outcome{
			SessionID: sessionID,
			Feedback:  assessmentFrom(res.State),
			Done:      true,
		}
	}
	question := stringFrom(res.State, StateKeyPendingQuestion)
	if notice := stringFrom(res.State, StateKeySecurityNotice); notice != "" {
		question = notice + "\n\n" + question
	}
	return &Outcome{SessionID: sessionID, Question: question}
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
