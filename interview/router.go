package interview

import (
	"context"

	"github.com/talentloop/interviewgraph/graph"
)

// Routing is pure: conditions only read state. The transition table is
//
//	topic_agent    -> human_input                       (always)
//	human_input    -> security_agent                    (always)
//	security_agent -> human_input                       (blocked: re-ask)
//	security_agent -> judge_agent                       (clean, suspicious)
//	judge_agent    -> feedback_agent                    (termination requested)
//	judge_agent    -> topic_agent | feedback_agent      (advance; by topics left)
//	judge_agent    -> probing_agent                     (probe, under the cap)
//	judge_agent    -> topic_agent | feedback_agent      (probe at the cap: forced advance)
//	judge_agent    -> human_input                       (retry: re-ask)
//	probing_agent  -> human_input                       (always)
//	feedback_agent -> End                               (always)

// routeAfterSecurity re-asks on blocked answers and hands everything else
// to the judge.
func routeAfterSecurity(ctx context.Context, state graph.State) (string, error) {
	if securityFlagFrom(state) == SecurityBlocked {
		return NodeHumanInput, nil
	}
	return NodeJudgeAgent, nil
}

// routeAfterJudge selects the next step from the verdict. An explicit
// termination request overrides any in-flight verdict.
func routeAfterJudge(ctx context.Context, state graph.State) (string, error) {
	if boolFrom(state, StateKeyInterviewComplete) {
		return NodeFeedbackAgent, nil
	}
	switch verdictFrom(state) {
	case VerdictRetry:
		return NodeHumanInput, nil
	case VerdictProbe:
		if intFrom(state, StateKeyProbeCount) > 0 {
			return NodeProbingAgent, nil
		}
		// A zero probe count right after a probe verdict means the judge
		// hit the cap and already advanced the topic cursor.
		return nextTopicOrFeedback(state), nil
	default:
		return nextTopicOrFeedback(state), nil
	}
}

func nextTopicOrFeedback(state graph.State) string {
	if intFrom(state, StateKeyTopicIndex) >= len(topicsFrom(state)) {
		return NodeFeedbackAgent
	}
	return NodeTopicAgent
}

// buildGraph wires the agent steps into the compiled interview graph.
func buildGraph(a *agents) (*graph.Graph, error) {
	return graph.NewStateGraph(Schema()).
		AddNode(NodeTopicAgent, a.topicNode,
			graph.WithDescription("opening question for the current topic")).
		AddNode(NodeHumanInput, a.humanInputNode,
			graph.WithDescription("suspend point awaiting the candidate")).
		AddNode(NodeSecurityAgent, a.securityNode,
			graph.WithDescription("answer screening")).
		AddNode(NodeJudgeAgent, a.judgeNode,
			graph.WithDescription("answer evaluation and topic cursor")).
		AddNode(NodeProbingAgent, a.probingNode,
			graph.WithDescription("same-topic follow-up")).
		AddNode(NodeFeedbackAgent, a.feedbackNode,
			graph.WithDescription("final assessment")).
		SetEntryPoint(NodeTopicAgent).
		AddEdge(NodeTopicAgent, NodeHumanInput).
		AddEdge(NodeHumanInput, NodeSecurityAgent).
		AddConditionalEdges(NodeSecurityAgent, routeAfterSecurity, map[string]string{
			NodeHumanInput: NodeHumanInput,
			NodeJudgeAgent: NodeJudgeAgent,
		}).
		AddConditionalEdges(NodeJudgeAgent, routeAfterJudge, map[string]string{
			NodeHumanInput:    NodeHumanInput,
			NodeTopicAgent:    NodeTopicAgent,
			NodeProbingAgent:  NodeProbingAgent,
			NodeFeedbackAgent: NodeFeedbackAgent,
		}).
		AddEdge(NodeProbingAgent, NodeHumanInput).
		SetFinishPoint(NodeFeedbackAgent).
		Compile()
}
