package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowlab/deskagent/internal/chat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)

	value, err := s.GetConfig("missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, s.SetConfig("theme", "dark"))
	require.NoError(t, s.SetConfig("theme", "light"))

	value, err = s.GetConfig("theme")
	require.NoError(t, err)
	assert.Equal(t, "light", value)
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("First chat")
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)

	loaded, err := s.GetConversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "First chat", loaded.Title)

	require.NoError(t, s.RenameConversation(conv.ID, "Renamed"))
	loaded, err = s.GetConversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", loaded.Title)

	convs, err := s.ListConversations()
	require.NoError(t, err)
	require.Len(t, convs, 1)

	require.NoError(t, s.DeleteConversation(conv.ID))
	_, err = s.GetConversation(conv.ID)
	assert.Error(t, err)
}

func TestMessagesPersistToolCallsAndTrace(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("with tools")
	require.NoError(t, err)

	user := chat.NewMessage(chat.RoleUser, "what is 2+2?")
	require.NoError(t, s.AppendMessage(conv.ID, user))

	assistant := chat.NewMessage(chat.RoleAssistant, "2+2 = 4")
	assistant.ToolCalls = []chat.ToolCallRecord{{
		ID:         "call-1",
		ToolName:   "calculator",
		Parameters: map[string]any{"expression": "2+2"},
		SessionID:  chat.SystemSessionID,
		Origin:     chat.OriginSystem,
		Result:     "4",
		Success:    true,
		Timestamp:  time.Now(),
	}}
	assistant.ReasoningTrace = []chat.TraceEntry{{
		Kind:      chat.TraceThought,
		Content:   "Need arithmetic.",
		Timestamp: time.Now(),
	}}
	assistant.CostEstimate = 0.0021
	require.NoError(t, s.AppendMessage(conv.ID, assistant))

	messages, err := s.Messages(conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, chat.RoleUser, messages[0].Role)
	assert.Empty(t, messages[0].ToolCalls)

	got := messages[1]
	assert.Equal(t, "2+2 = 4", got.Content)
	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, "calculator", got.ToolCalls[0].ToolName)
	assert.Equal(t, "4", got.ToolCalls[0].Result)
	assert.True(t, got.ToolCalls[0].Success)
	require.Len(t, got.ReasoningTrace, 1)
	assert.Equal(t, chat.TraceThought, got.ReasoningTrace[0].Kind)
	assert.InDelta(t, 0.0021, got.CostEstimate, 1e-9)
}

func TestDeleteConversationCascades(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("doomed")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(conv.ID, chat.NewMessage(chat.RoleUser, "hi")))
	require.NoError(t, s.DeleteConversation(conv.ID))

	messages, err := s.Messages(conv.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestListConversationsOrder(t *testing.T) {
	s := newTestStore(t)

	first, err := s.CreateConversation("first")
	require.NoError(t, err)
	second, err := s.CreateConversation("second")
	require.NoError(t, err)

	// Touching the older conversation moves it to the front.
	require.NoError(t, s.AppendMessage(first.ID, chat.NewMessage(chat.RoleUser, "bump")))

	convs, err := s.ListConversations()
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, first.ID, convs[0].ID)
	assert.Equal(t, second.ID, convs[1].ID)
}
