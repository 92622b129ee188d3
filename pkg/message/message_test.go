package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNormalize_Prompt(t *testing.T) {
	c := Normalize(Prompt("who is scrooge?"))
	assert.True(t, c.IsPrompt())
	assert.Equal(t, "who is scrooge?", c.Prompt)
	assert.Nil(t, c.Turns)
}

func TestNormalize_Messages(t *testing.T) {
	conv := Messages(
		Message{Role: RoleSystem, Content: "You are helpful."},
		Message{Role: RoleUser, Content: "Hi"},
		Message{Role: RoleAssistant, Content: "Hello!"},
	)
	c := Normalize(conv)

	require.False(t, c.IsPrompt())
	require.Len(t, c.Turns, 3)
	assert.Equal(t, "system", c.Turns[0].Role)
	assert.Equal(t, "You are helpful.", c.Turns[0].Parts[0].Text)
	assert.Equal(t, "assistant", c.Turns[2].Role)
	assert.Equal(t, "Hello!", c.Turns[2].Parts[0].Text)
}

func TestNormalize_EmptyList(t *testing.T) {
	c := Normalize(Messages())
	assert.False(t, c.IsPrompt())
	assert.NotNil(t, c.Turns)
	assert.Empty(t, c.Turns)
}

func TestConversation_Immutable(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "original"}}
	conv := Messages(msgs...)
	msgs[0].Content = "changed"

	got := conv.List()
	assert.Equal(t, "original", got[0].Content)

	got[0].Content = "changed again"
	assert.Equal(t, "original", conv.List()[0].Content)
}

func TestConversation_Accessors(t *testing.T) {
	p := Prompt("x")
	assert.True(t, p.IsPrompt())
	assert.Equal(t, "x", p.Text())
	assert.Nil(t, p.List())
	assert.Equal(t, 1, p.Len())

	m := Messages(Message{Role: RoleUser, Content: "a"}, Message{Role: RoleUser, Content: "b"})
	assert.False(t, m.IsPrompt())
	assert.Equal(t, 2, m.Len())

	var zero Conversation
	assert.True(t, zero.IsPrompt())
	assert.Equal(t, "", Normalize(zero).Prompt)
}

func TestProperty_NormalizePromptVerbatim(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.String().Draw(rt, "prompt")
		c := Normalize(Prompt(s))
		assert.True(rt, c.IsPrompt())
		assert.Equal(rt, s, c.Prompt)
	})
}

func TestProperty_NormalizePreservesOrderAndContent(t *testing.T) {
	roleGen := rapid.OneOf(rapid.SampledFrom([]string{RoleSystem, RoleUser, RoleAssistant, "model"}), rapid.String())
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		msgs := make([]Message, n)
		for i := range msgs {
			msgs[i] = Message{
				Role:    roleGen.Draw(rt, "role"),
				Content: rapid.String().Draw(rt, "content"),
			}
		}

		c := Normalize(Messages(msgs...))
		require.Len(rt, c.Turns, n)
		for i, m := range msgs {
			assert.Equal(rt, m.Role, c.Turns[i].Role)
			require.Len(rt, c.Turns[i].Parts, 1)
			assert.Equal(rt, m.Content, c.Turns[i].Parts[0].Text)
		}
	})
}
