// Package message holds the generic conversation representation callers use
// and converts it into provider content.
package message

import "github.com/joshyim/lightrag-gemini/pkg/provider"

// Conversation roles understood by the provider transport.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role/content pair.
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Conversation is either a single free-text prompt or an ordered list of
// messages. The zero value is an empty prompt. Conversations are immutable.
type Conversation struct {
	prompt   string
	messages []Message
	isList   bool
}

// Prompt returns a single-turn conversation.
func Prompt(text string) Conversation {
	return Conversation{prompt: text}
}

// Messages returns a conversation holding a copy of msgs, in order.
func Messages(msgs ...Message) Conversation {
	cp := make([]Message, len(msgs))
	copy(cp, msgs)
	return Conversation{messages: cp, isList: true}
}

// IsPrompt reports whether c is a single free-text prompt.
func (c Conversation) IsPrompt() bool { return !c.isList }

// Text returns the prompt of a single-turn conversation.
func (c Conversation) Text() string { return c.prompt }

// List returns a copy of the messages of a list conversation.
func (c Conversation) List() []Message {
	if !c.isList {
		return nil
	}
	cp := make([]Message, len(c.messages))
	copy(cp, c.messages)
	return cp
}

// Len returns the number of turns.
func (c Conversation) Len() int {
	if !c.isList {
		return 1
	}
	return len(c.messages)
}

// Normalize converts c into provider content. A prompt passes through
// verbatim; each message becomes one turn with its role and content kept
// as is and in the same order.
func Normalize(c Conversation) provider.Content {
	if !c.isList {
		return provider.Content{Prompt: c.prompt}
	}
	turns := make([]provider.Turn, 0, len(c.messages))
	for _, m := range c.messages {
		turns = append(turns, provider.Turn{
			Role:  m.Role,
			Parts: []provider.Part{{Text: m.Content}},
		})
	}
	return provider.Content{Turns: turns}
}
