// Package interview implements a multi-turn technical interview as a graph
// of agent steps with a human-input suspend point. The Engine is the sole
// entry point; callers never invoke individual agents.
package interview

import (
	"encoding/json"
	"reflect"

	"github.com/talentloop/interviewgraph/graph"
)

// State keys for the interview session.
const (
	StateKeySessionID         = "session_id"
	StateKeyJobTitle          = "job_title"
	StateKeyTopics            = "topics"
	StateKeyTopicIndex        = "current_topic_index"
	StateKeyTranscript        = "transcript"
	StateKeyPendingQuestion   = "pending_question"
	StateKeyCandidateAnswer   = "candidate_answer"
	StateKeyScreenedAnswer    = "screened_answer"
	StateKeySecurityFlag      = "security_flag"
	StateKeySecurityNotice    = "security_notice"
	StateKeyJudgeVerdict      = "judge_verdict"
	StateKeyProbeCount        = "probe_count"
	StateKeyInterviewComplete = "interview_complete"
	StateKeyFeedback          = "feedback"
)

// Node identifiers. NodeHumanInput is the suspend point: the engine halts
// there and the persisted next step is what makes resumption deterministic.
const (
	NodeTopicAgent    = "topic_agent"
	NodeHumanInput    = "human_input"
	NodeSecurityAgent = "security_agent"
	NodeJudgeAgent    = "judge_agent"
	NodeProbingAgent  = "probing_agent"
	NodeFeedbackAgent = "feedback_agent"
)

// Transcript roles.
const (
	RoleInterviewer = "interviewer"
	RoleCandidate   = "candidate"
)

// SecurityFlag is the outcome of the last security pass.
type SecurityFlag string

// Security flags.
const (
	SecurityClean      SecurityFlag = "clean"
	SecuritySuspicious SecurityFlag = "suspicious"
	SecurityBlocked    SecurityFlag = "blocked"
)

// Verdict is the outcome of the last judge pass.
type Verdict string

// Judge verdicts.
const (
	VerdictAdvance Verdict = "advance"
	VerdictProbe   Verdict = "probe"
	VerdictRetry   Verdict = "retry"
)

// Turn is one entry of the append-only transcript.
type Turn struct {
	Role       string `json:"role"`
	Text       string `json:"text"`
	TopicIndex int    `json:"topic_index"`
}

// Assessment is the structured result produced by the feedback agent.
type Assessment struct {
	Strengths      []string `json:"strengths"`
	Gaps           []string `json:"gaps"`
	Recommendation string   `json:"recommendation"`
}

// Schema builds the interview state schema. Transcript appends are the only
// non-overwrite merge; everything else is last-writer-wins. Decode hooks
// restore typed values from checkpoint JSON.
func Schema() *graph.StateSchema {
	schema := graph.NewStateSchema()
	schema.AddField(StateKeySessionID, graph.StateField{Type: reflect.TypeOf("")})
	schema.AddField(StateKeyJobTitle, graph.StateField{Type: reflect.TypeOf("")})
	schema.AddField(StateKeyTopics, graph.StateField{
		Type:   reflect.TypeOf([]string{}),
		Decode: decodeJSON[[]string],
	})
	schema.AddField(StateKeyTopicIndex, graph.StateField{
		Type:    reflect.TypeOf(0),
		Default: func() any { return 0 },
		Decode:  decodeJSON[int],
	})
	schema.AddField(StateKeyTranscript, graph.StateField{
		Type:    reflect.TypeOf([]Turn{}),
		Reducer: turnSliceReducer,
		Default: func() any { return []Turn{} },
		Decode:  decodeJSON[[]Turn],
	})
	schema.AddField(StateKeyPendingQuestion, graph.StateField{Type: reflect.TypeOf("")})
	schema.AddField(StateKeyCandidateAnswer, graph.StateField{Type: reflect.TypeOf("")})
	schema.AddField(StateKeyScreenedAnswer, graph.StateField{Type: reflect.TypeOf("")})
	schema.AddField(StateKeySecurityFlag, graph.StateField{
		Type:   reflect.TypeOf(SecurityClean),
		Decode: decodeJSON[SecurityFlag],
	})
	schema.AddField(StateKeySecurityNotice, graph.StateField{Type: reflect.TypeOf("")})
	schema.AddField(StateKeyJudgeVerdict, graph.StateField{
		Type:   reflect.TypeOf(VerdictAdvance),
		Decode: decodeJSON[Verdict],
	})
	schema.AddField(StateKeyProbeCount, graph.StateField{
		Type:    reflect.TypeOf(0),
		Default: func() any { return 0 },
		Decode:  decodeJSON[int],
	})
	schema.AddField(StateKeyInterviewComplete, graph.StateField{
		Type:    reflect.TypeOf(false),
		Default: func() any { return false },
	})
	schema.AddField(StateKeyFeedback, graph.StateField{
		Type:   reflect.TypeOf(&Assessment{}),
		Decode: decodeJSON[*Assessment],
	})
	return schema
}

// turnSliceReducer appends transcript turns; the transcript is never
// rewritten.
func turnSliceReducer(existing, update any) any {
	if existing == nil {
		existing = []Turn{}
	}
	existingTurns, ok1 := existing.([]Turn)
	updateTurns, ok2 := update.([]Turn)
	if !ok1 || !ok2 {
		return update
	}
	return append(existingTurns, updateTurns...)
}

func decodeJSON[T any](data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Typed state accessors, tolerant of absent keys.

func stringFrom(state graph.State, key string) string {
	v, _ := state[key].(string)
	return v
}

func intFrom(state graph.State, key string) int {
	switch v := state[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func boolFrom(state graph.State, key string) bool {
	v, _ := state[key].(bool)
	return v
}

func topicsFrom(state graph.State) []string {
	v, _ := state[StateKeyTopics].([]string)
	return v
}

func transcriptFrom(state graph.State) []Turn {
	v, _ := state[StateKeyTranscript].([]Turn)
	return v
}

func securityFlagFrom(state graph.State) SecurityFlag {
	switch v := state[StateKeySecurityFlag].(type) {
	case SecurityFlag:
		return v
	case string:
		return SecurityFlag(v)
	}
	return ""
}

func verdictFrom(state graph.State) Verdict {
	switch v := state[StateKeyJudgeVerdict].(type) {
	case Verdict:
		return v
	case string:
		return Verdict(v)
	}
	return ""
}

func assessmentFrom(state graph.State) *Assessment {
	v, _ := state[StateKeyFeedback].(*Assessment)
	return v
}
