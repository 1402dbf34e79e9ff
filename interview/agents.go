package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/talentloop/interviewgraph/graph"
	"github.com/talentloop/interviewgraph/log"
	"github.com/talentloop/interviewgraph/model"
)

// Prompts used by the agent steps. The generator is the only external
// dependency any step talks to.
const (
	topicListPrompt = "You are planning a technical interview for the role of %q. " +
		"List %d short topic names the interview should cover, ordered from " +
		"fundamentals to depth. Respond with one topic per line and nothing else."

	openingQuestionPrompt = "You are a technical interviewer for the role of %q. " +
		"Ask one clear opening question about %q. Respond with the question only."

	judgePrompt = "You are judging a candidate answer in a technical interview for %q.\n" +
		"Question: %s\nAnswer: %s\n" +
		"Respond with JSON only: {\"verdict\": \"advance\"|\"probe\"|\"retry\", \"reason\": \"...\"}. " +
		"Use advance when the answer addresses the question, probe when it is " +
		"shallow and a follow-up would help, retry when it does not answer at all."

	probingPrompt = "You are a technical interviewer for the role of %q, currently on the topic %q. " +
		"The candidate's last answer was shallow. Ask one focused follow-up question " +
		"that digs deeper into the same topic. Respond with the question only."

	feedbackPrompt = "You are writing the final assessment of a technical interview for the role of %q. " +
		"Based on the conversation, respond with JSON only: " +
		"{\"strengths\": [...], \"gaps\": [...], \"recommendation\": \"...\"}."
)

var defaultBlockedPatterns = []string{
	`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`,
	`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+instructions`,
	`(?i)system\s+prompt`,
	`(?i)you\s+are\s+now\s+`,
	`(?i)jailbreak`,
}

var defaultSuspiciousPatterns = []string{
	`(?i)as\s+an\s+ai\b`,
	`(?i)repeat\s+(your|the)\s+(instructions|prompt)`,
	`(?i)pretend\s+to\s+be\b`,
}

const blockedNotice = "Let's keep our discussion on the interview itself. " +
	"I'll repeat the question."

const emptyAnswerNotice = "I didn't catch an answer there. Let me ask again."

// agents holds the node functions of the interview graph. Every node is
// Execute(state) -> delta; none of them talk to the candidate directly.
type agents struct {
	gen        model.Generator
	probeLimit int
	topicCount int
	endCommand string
	blocked    []*regexp.Regexp
	suspicious []*regexp.Regexp
}

// topicNode generates the topic list on first entry, then the opening
// question for the current topic.
func (a *agents) topicNode(ctx context.Context, state graph.State) (any, error) {
	jobTitle := stringFrom(state, StateKeyJobTitle)
	delta := graph.State{}

	topics := topicsFrom(state)
	if len(topics) == 0 {
		text, err := a.gen.GenerateText(ctx, fmt.Sprintf(topicListPrompt, jobTitle, a.topicCount), nil)
		if err != nil {
			return nil, fmt.Errorf("topic generation failed: %w", err)
		}
		topics = parseTopicList(text)
		if len(topics) == 0 {
			return nil, errors.New("generator returned no usable topics")
		}
		delta[StateKeyTopics] = topics
		log.Debugf("generated %d topics for %q", len(topics), jobTitle)
	}

	idx := intFrom(state, StateKeyTopicIndex)
	if idx >= len(topics) {
		// Routing should never land here with topics exhausted; close out
		// instead of asking about a topic that does not exist.
		return &graph.Command{
			Update: graph.State{StateKeyInterviewComplete: true},
			GoTo:   NodeFeedbackAgent,
		}, nil
	}

	question, err := a.gen.GenerateText(ctx,
		fmt.Sprintf(openingQuestionPrompt, jobTitle, topics[idx]),
		historyMessages(transcriptFrom(state)))
	if err != nil {
		return nil, fmt.Errorf("question generation failed: %w", err)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("generator returned an empty question")
	}

	delta[StateKeyPendingQuestion] = question
	delta[StateKeySecurityNotice] = ""
	delta[StateKeyJudgeVerdict] = Verdict("")
	return delta, nil
}

// humanInputNode is the suspend point. When it actually runs, the executor
// has injected the candidate's answer as the resume value.
func (a *agents) humanInputNode(ctx context.Context, state graph.State) (any, error) {
	answer, ok := state[graph.StateKeyResumeValue].(string)
	if !ok {
		return nil, errors.New("human input node executed without a resume value")
	}
	delta := graph.State{StateKeyCandidateAnswer: answer}
	if a.endCommand != "" && strings.TrimSpace(answer) == a.endCommand {
		// Explicit termination request overrides any in-flight verdict.
		delta[StateKeyInterviewComplete] = true
	}
	return delta, nil
}

// securityNode classifies the raw answer and consumes it: downstream steps
// only ever see the screened copy, so a re-resumed call cannot double
// process stale input.
func (a *agents) securityNode(ctx context.Context, state graph.State) (any, error) {
	answer := stringFrom(state, StateKeyCandidateAnswer)

	if boolFrom(state, StateKeyInterviewComplete) {
		// Termination was requested; nothing to screen.
		return graph.State{
			StateKeySecurityFlag:    SecurityClean,
			StateKeyCandidateAnswer: "",
			StateKeyScreenedAnswer:  "",
		}, nil
	}

	if strings.TrimSpace(answer) == "" {
		return graph.State{
			StateKeySecurityFlag:    SecurityBlocked,
			StateKeySecurityNotice:  emptyAnswerNotice,
			StateKeyCandidateAnswer: "",
			StateKeyScreenedAnswer:  "",
		}, nil
	}

	if matchAny(a.blocked, answer) {
		log.Warnf("blocked answer on session %s", stringFrom(state, StateKeySessionID))
		return graph.State{
			StateKeySecurityFlag:    SecurityBlocked,
			StateKeySecurityNotice:  blockedNotice,
			StateKeyCandidateAnswer: "",
			StateKeyScreenedAnswer:  "",
		}, nil
	}

	flag := SecurityClean
	if matchAny(a.suspicious, answer) {
		flag = SecuritySuspicious
		log.Warnf("suspicious answer on session %s", stringFrom(state, StateKeySessionID))
	}
	return graph.State{
		StateKeySecurityFlag:    flag,
		StateKeySecurityNotice:  "",
		StateKeyCandidateAnswer: "",
		StateKeyScreenedAnswer:  answer,
	}, nil
}

type judgeResponse struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`
}

// judgeNode evaluates the screened answer against the pending question,
// records the Q/A pair, and moves the topic cursor.
func (a *agents) judgeNode(ctx context.Context, state graph.State) (any, error) {
	if boolFrom(state, StateKeyInterviewComplete) {
		// Explicit end requested: leave the transcript as-is and let
		// routing hand over to the feedback agent.
		return graph.State{StateKeyScreenedAnswer: ""}, nil
	}

	question := stringFrom(state, StateKeyPendingQuestion)
	answer := stringFrom(state, StateKeyScreenedAnswer)
	idx := intFrom(state, StateKeyTopicIndex)

	text, err := a.gen.GenerateText(ctx,
		fmt.Sprintf(judgePrompt, stringFrom(state, StateKeyJobTitle), question, answer),
		historyMessages(transcriptFrom(state)))
	if err != nil {
		return nil, fmt.Errorf("judge evaluation failed: %w", err)
	}

	verdict := parseVerdict(text, answer)
	delta := graph.State{
		StateKeyJudgeVerdict:   verdict,
		StateKeyScreenedAnswer: "",
		StateKeyTranscript: []Turn{
			{Role: RoleInterviewer, Text: question, TopicIndex: idx},
			{Role: RoleCandidate, Text: answer, TopicIndex: idx},
		},
	}

	switch verdict {
	case VerdictAdvance:
		delta[StateKeyTopicIndex] = idx + 1
		delta[StateKeyProbeCount] = 0
	case VerdictProbe:
		probeCount := intFrom(state, StateKeyProbeCount)
		if probeCount >= a.probeLimit {
			// Probe cap reached: force the topic forward while keeping the
			// probe verdict observable.
			delta[StateKeyTopicIndex] = idx + 1
			delta[StateKeyProbeCount] = 0
		} else {
			delta[StateKeyProbeCount] = probeCount + 1
		}
	case VerdictRetry:
		// Same question is re-asked; the cursor and probe count hold.
	}
	return delta, nil
}

// probingNode generates a follow-up scoped to the current topic, informed
// by the transcript so far.
func (a *agents) probingNode(ctx context.Context, state graph.State) (any, error) {
	topics := topicsFrom(state)
	idx := intFrom(state, StateKeyTopicIndex)
	topic := ""
	if idx < len(topics) {
		topic = topics[idx]
	}
	question, err := a.gen.GenerateText(ctx,
		fmt.Sprintf(probingPrompt, stringFrom(state, StateKeyJobTitle), topic),
		historyMessages(transcriptFrom(state)))
	if err != nil {
		return nil, fmt.Errorf("probing question generation failed: %w", err)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("generator returned an empty follow-up")
	}
	return graph.State{
		StateKeyPendingQuestion: question,
		StateKeySecurityNotice:  "",
	}, nil
}

// feedbackNode produces the final structured assessment from the full
// transcript and marks the interview complete.
func (a *agents) feedbackNode(ctx context.Context, state graph.State) (any, error) {
	text, err := a.gen.GenerateText(ctx,
		fmt.Sprintf(feedbackPrompt, stringFrom(state, StateKeyJobTitle)),
		historyMessages(transcriptFrom(state)))
	if err != nil {
		return nil, fmt.Errorf("feedback generation failed: %w", err)
	}
	var assessment Assessment
	if err := parseJSONResponse(text, &assessment); err != nil {
		// Unstructured output still carries the assessment; keep it whole.
		assessment = Assessment{Recommendation: strings.TrimSpace(text)}
	}
	return graph.State{
		StateKeyFeedback:          &assessment,
		StateKeyInterviewComplete: true,
		StateKeyPendingQuestion:   "",
	}, nil
}

// parseVerdict decodes the judge response, falling back to a length
// heuristic when the generator ignored the JSON contract.
func parseVerdict(text, answer string) Verdict {
	var resp judgeResponse
	if err := parseJSONResponse(text, &resp); err == nil {
		switch Verdict(strings.ToLower(strings.TrimSpace(resp.Verdict))) {
		case VerdictAdvance:
			return VerdictAdvance
		case VerdictProbe:
			return VerdictProbe
		case VerdictRetry:
			return VerdictRetry
		}
	}
	if len(strings.TrimSpace(answer)) > 10 {
		return VerdictAdvance
	}
	return VerdictRetry
}

// parseJSONResponse unmarshals generator output, tolerating markdown code
// fences around the JSON body.
func parseJSONResponse(text string, v any) error {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return json.Unmarshal([]byte(strings.TrimSpace(cleaned)), v)
}

// parseTopicList splits generator output into topic names, stripping list
// markers.
func parseTopicList(text string) []string {
	var topics []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		if line != "" {
			topics = append(topics, line)
		}
	}
	return topics
}

// historyMessages converts the transcript into generator context.
func historyMessages(transcript []Turn) []model.Message {
	messages := make([]model.Message, 0, len(transcript))
	for _, turn := range transcript {
		if turn.Role == RoleCandidate {
			messages = append(messages, model.NewUserMessage(turn.Text))
		} else {
			messages = append(messages, model.NewAssistantMessage(turn.Text))
		}
	}
	return messages
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
