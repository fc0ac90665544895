// Package workflows assembles the router graph and its specialist sub-graphs
// from a nodes.Set.
package workflows

import (
	"fmt"

	"eino_agent_router/internal/core"
	"eino_agent_router/internal/nodes"
	"eino_agent_router/pkg"
)

// Graph names
const (
	RouterGraph  = "router"
	ChatGraph    = "chat_agent"
	MeetingGraph = "meeting_agent"
)

// Node IDs
const (
	NodeCompactHistory   = "compact_history"
	NodeDetectAgent      = "detect_agent"
	NodeChatAgent        = "chat_agent"
	NodeMeetingAgent     = "meeting_agent"
	NodeClassifyQuestion = "classify_question"
	NodeFactGenerator    = "fact_generator"
	NodeSummaryGenerator = "summary_generator"
	NodeCompareGenerator = "compare_generator"
	NodeEvidenceGen      = "evidence_generator"
	NodeTranscribe       = "transcribe"
	NodeMergeTranscript  = "merge_transcript"
	NodeGenerateMinutes  = "generate_minutes"
)

var generatorNodes = map[string]string{
	pkg.QuestionFact:     NodeFactGenerator,
	pkg.QuestionSummary:  NodeSummaryGenerator,
	pkg.QuestionCompare:  NodeCompareGenerator,
	pkg.QuestionEvidence: NodeEvidenceGen,
}

var generatorLabels = map[string]string{
	pkg.QuestionFact:     "Looking up the answer",
	pkg.QuestionSummary:  "Writing a summary",
	pkg.QuestionCompare:  "Comparing",
	pkg.QuestionEvidence: "Collecting evidence",
}

// NewRouterGraph builds the top-level graph: the token budget governor runs
// at entry, then agent detection picks a specialist sub-graph.
func NewRouterGraph(set *nodes.Set) (*core.Graph, error) {
	chat, err := NewChatGraph(set)
	if err != nil {
		return nil, err
	}
	meeting, err := NewMeetingGraph(set)
	if err != nil {
		return nil, err
	}

	g := core.NewGraph(RouterGraph)
	for _, n := range []core.Node{
		{ID: NodeCompactHistory, Label: "Summarizing earlier conversation", Invoke: set.CompactHistory},
		{ID: NodeDetectAgent, Label: "Analyzing request", Invoke: set.DetectAgent},
		{ID: NodeChatAgent, Label: "Answering question", Graph: chat},
		{ID: NodeMeetingAgent, Label: "Processing meeting", Graph: meeting},
	} {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}

	if err := g.AddBranch(core.START, core.Branch{
		Name:     "token_budget",
		Selector: set.TokenBudget,
		Targets: map[string]string{
			nodes.RouteCompact: NodeCompactHistory,
			nodes.RouteSkip:    NodeDetectAgent,
		},
		Default: nodes.RouteSkip,
	}); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeCompactHistory, NodeDetectAgent); err != nil {
		return nil, err
	}
	if err := g.AddBranch(NodeDetectAgent, core.Branch{
		Name:     "select_agent",
		Selector: nodes.SelectAgent,
		Targets: map[string]string{
			pkg.AgentChat:    NodeChatAgent,
			pkg.AgentMeeting: NodeMeetingAgent,
		},
		Default: nodes.DefaultAgent,
	}); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeChatAgent, core.END); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeMeetingAgent, core.END); err != nil {
		return nil, err
	}

	compiled, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s graph: %w", RouterGraph, err)
	}
	return compiled, nil
}

// NewChatGraph builds the document QA specialist: intent classification
// followed by one of four streaming generators
func NewChatGraph(set *nodes.Set) (*core.Graph, error) {
	g := core.NewGraph(ChatGraph)
	if err := g.AddNode(core.Node{ID: NodeClassifyQuestion, Label: "Classifying question", Invoke: set.ClassifyQuestion}); err != nil {
		return nil, err
	}
	if err := g.AddEdge(core.START, NodeClassifyQuestion); err != nil {
		return nil, err
	}

	targets := make(map[string]string, len(nodes.ValidQuestionTypes))
	for _, qt := range nodes.ValidQuestionTypes {
		id := generatorNodes[qt]
		if err := g.AddNode(core.Node{
			ID:       id,
			Label:    generatorLabels[qt],
			Stream:   set.Generate(qt),
			Fallback: nodes.AnswerFallback,
		}); err != nil {
			return nil, err
		}
		if err := g.AddEdge(id, core.END); err != nil {
			return nil, err
		}
		targets[qt] = id
	}

	if err := g.AddBranch(NodeClassifyQuestion, core.Branch{
		Name:     "route_question",
		Selector: nodes.RouteQuestion,
		Targets:  targets,
		Default:  nodes.DefaultQuestionType,
	}); err != nil {
		return nil, err
	}

	compiled, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s graph: %w", ChatGraph, err)
	}
	return compiled, nil
}

// NewMeetingGraph builds the meeting specialist: transcribe, merge speaker
// turns, then stream the minutes
func NewMeetingGraph(set *nodes.Set) (*core.Graph, error) {
	g := core.NewGraph(MeetingGraph)
	for _, n := range []core.Node{
		{ID: NodeTranscribe, Label: "Transcribing recording", Invoke: set.Transcribe, Fallback: nodes.TranscribeFallback},
		{ID: NodeMergeTranscript, Label: "Organizing transcript", Invoke: set.MergeTranscript},
		{ID: NodeGenerateMinutes, Label: "Writing minutes", Stream: set.GenerateMinutes, Fallback: nodes.AnswerFallback},
	} {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}

	for _, e := range [][2]string{
		{core.START, NodeTranscribe},
		{NodeTranscribe, NodeMergeTranscript},
		{NodeMergeTranscript, NodeGenerateMinutes},
		{NodeGenerateMinutes, core.END},
	} {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	compiled, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s graph: %w", MeetingGraph, err)
	}
	return compiled, nil
}
