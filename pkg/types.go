package pkg

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Agent types understood by the router
const (
	AgentChat    = "chat"
	AgentMeeting = "meeting"
)

// Question types produced by the chat intent classifier
const (
	QuestionFact     = "FACT"
	QuestionSummary  = "SUMMARY"
	QuestionCompare  = "COMPARE"
	QuestionEvidence = "EVIDENCE"
)

// User-facing messages. Internal error text never reaches the caller.
const (
	ApologyMessage         = "Sorry, something went wrong while answering. Please try again."
	ProcessingErrorMessage = "Sorry, your request could not be processed right now. Please try again later."
)

// Message is a single conversation entry. A message with Remove set is a
// tombstone: merging it deletes the existing message carrying the same ID.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Remove  bool   `json:"remove,omitempty"`
}

// NewMessage creates a message with a fresh ID
func NewMessage(role Role, content string) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: content}
}

// UserMessage creates a user message
func UserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// AssistantMessage creates an assistant message
func AssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// SystemMessage creates a system message
func SystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// RemoveMessage creates a tombstone for the message with the given ID
func RemoveMessage(id string) Message {
	return Message{ID: id, Remove: true}
}

// Segment is one diarized piece of a transcription
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
}

// WorkflowState is the per-thread state that flows through the graph
type WorkflowState struct {
	ThreadID         string    `json:"thread_id"`
	UserID           string    `json:"user_id,omitempty"`
	Messages         []Message `json:"messages"`
	AgentType        string    `json:"agent_type,omitempty"`
	QuestionType     string    `json:"question_type,omitempty"`
	Digest           string    `json:"digest,omitempty"`
	Answer           string    `json:"answer,omitempty"`
	ModelUsed        string    `json:"model_used,omitempty"`
	Attachment       string    `json:"attachment,omitempty"`
	Transcript       []Segment `json:"transcript,omitempty"`
	MergedTranscript string    `json:"merged_transcript,omitempty"`
	RetrievalContext string    `json:"retrieval_context,omitempty"`
}

// Clone returns a deep copy of the state
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Transcript = append([]Segment(nil), s.Transcript...)
	return &out
}

// LastUserMessage returns the newest user message content, or "" when there is none
func (s *WorkflowState) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Update is a partial state returned by a node. Messages are merged by the
// message reducer; every other field overwrites the state only when set.
type Update struct {
	Messages         []Message `json:"messages,omitempty"`
	UserID           string    `json:"user_id,omitempty"`
	AgentType        string    `json:"agent_type,omitempty"`
	QuestionType     string    `json:"question_type,omitempty"`
	Digest           string    `json:"digest,omitempty"`
	Answer           string    `json:"answer,omitempty"`
	ModelUsed        string    `json:"model_used,omitempty"`
	Attachment       string    `json:"attachment,omitempty"`
	Transcript       []Segment `json:"transcript,omitempty"`
	MergedTranscript string    `json:"merged_transcript,omitempty"`
	RetrievalContext string    `json:"retrieval_context,omitempty"`
}

// IsEmpty reports whether the update changes nothing
func (u Update) IsEmpty() bool {
	return len(u.Messages) == 0 && u.UserID == "" && u.AgentType == "" &&
		u.QuestionType == "" && u.Digest == "" && u.Answer == "" &&
		u.ModelUsed == "" && u.Attachment == "" && u.Transcript == nil &&
		u.MergedTranscript == "" && u.RetrievalContext == ""
}

// Checkpoint is one immutable entry in a thread's state log
type Checkpoint struct {
	ThreadID  string        `json:"thread_id"`
	Sequence  int64         `json:"sequence"`
	State     WorkflowState `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
}

// Classification is the tagged result of a label classifier. Fallback is set
// when the label is the default rather than a valid model answer.
type Classification struct {
	Label    string `json:"label"`
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason,omitempty"`
}

// EventType enumerates streaming event kinds
type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one item of a streaming invocation
type Event struct {
	Type         EventType `json:"type"`
	ThreadID     string    `json:"thread_id"`
	Graph        string    `json:"graph,omitempty"`
	Node         string    `json:"node,omitempty"`
	Message      string    `json:"message,omitempty"`
	Content      string    `json:"content,omitempty"`
	Answer       string    `json:"answer,omitempty"`
	QuestionType string    `json:"question_type,omitempty"`
	AgentType    string    `json:"agent_type,omitempty"`
	ModelUsed    string    `json:"model_used,omitempty"`
}

// IsTerminal reports whether the event ends a stream
func (e Event) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
