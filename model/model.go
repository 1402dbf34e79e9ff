// Package model defines the text-generation capability agent steps depend
// on. Implementations are treated as nondeterministic, fallible black boxes
// with no side effects on interview state.
package model

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversational context passed to a generator.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator is the interface for all text generators.
//
// GenerateText returns the generated text for the given prompt and prior
// conversation, or an error. Errors are system- or API-level failures;
// callers must not mutate their own state before a successful return so
// that a failed call is safely retryable.
type Generator interface {
	GenerateText(ctx context.Context, prompt string, history []Message) (string, error)

	// Info returns basic information about the generator.
	Info() Info
}

// Info contains basic information about a Generator.
type Info struct {
	Name string
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
