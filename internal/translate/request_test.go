package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycc/cc-dispatch/pkg/anthropic"
)

func userMsg(t *testing.T, text string) anthropic.Message {
	t.Helper()
	raw, err := json.Marshal(text)
	require.NoError(t, err)
	return anthropic.Message{Role: "user", Content: raw}
}

func TestDeriveSessionIDIsStableAcrossRetries(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []anthropic.Message{userMsg(t, "hello there")},
	}
	id1 := DeriveSessionID(req)
	id2 := DeriveSessionID(req)
	assert.Equal(t, id1, id2)
	assert.NotEmpty(t, id1)
}

func TestDeriveSessionIDDiffersForDifferentContent(t *testing.T) {
	req1 := &anthropic.MessagesRequest{Messages: []anthropic.Message{userMsg(t, "hello")}}
	req2 := &anthropic.MessagesRequest{Messages: []anthropic.Message{userMsg(t, "goodbye")}}
	assert.NotEqual(t, DeriveSessionID(req1), DeriveSessionID(req2))
}

func TestDeriveSessionIDFallsBackWithoutUserText(t *testing.T) {
	req := &anthropic.MessagesRequest{Messages: nil}
	id := DeriveSessionID(req)
	assert.NotEmpty(t, id)
}

func TestBuildRequestWrapsPayload(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []anthropic.Message{userMsg(t, "hi")},
	}
	payload, err := BuildRequest(req, "my-project")
	require.NoError(t, err)
	assert.Equal(t, "my-project", payload.Project)
	assert.Equal(t, "claude-sonnet-4-5", payload.Model)
	assert.Regexp(t, `^agent-`, payload.RequestID)
	assert.Equal(t, DeriveSessionID(req), payload.Request["sessionId"])
}

func TestBuildHeadersAddsInterleavedThinkingForClaudeThinking(t *testing.T) {
	headers := BuildHeaders("tok", "claude-opus-4-6-thinking", "application/json")
	assert.Equal(t, "interleaved-thinking-2025-05-14", headers["anthropic-beta"])
	assert.Equal(t, "Bearer tok", headers["Authorization"])
}

func TestBuildHeadersOmitsInterleavedThinkingForNonThinking(t *testing.T) {
	headers := BuildHeaders("tok", "claude-sonnet-4-5", "application/json")
	_, present := headers["anthropic-beta"]
	assert.False(t, present)
}

func TestBuildHeadersSetsAcceptForStreaming(t *testing.T) {
	headers := BuildHeaders("tok", "claude-sonnet-4-5", "text/event-stream")
	assert.Equal(t, "text/event-stream", headers["Accept"])
}

func TestBuildHeadersOmitsAcceptForJSON(t *testing.T) {
	headers := BuildHeaders("tok", "claude-sonnet-4-5", "application/json")
	_, present := headers["Accept"]
	assert.False(t, present)
}

func TestConvertToolsToGoogleSanitizesSchema(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","$schema":"x","additionalProperties":false,"properties":{"x":{"type":"string"}}}`)
	req := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{userMsg(t, "hi")},
		Tools:    []anthropic.Tool{{Name: "search", InputSchema: schema}},
	}
	payload, err := BuildRequest(req, "proj")
	require.NoError(t, err)

	tools, ok := payload.Request["tools"].([]map[string]any)
	require.True(t, ok)
	decls := tools[0]["functionDeclarations"].([]map[string]any)
	params := decls[0]["parameters"].(map[string]any)
	_, hasSchema := params["$schema"]
	_, hasAdditional := params["additionalProperties"]
	assert.False(t, hasSchema)
	assert.False(t, hasAdditional)
}
