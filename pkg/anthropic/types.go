// Package anthropic defines the public Messages API wire types shared
// between the HTTP front end, the dispatcher, and the Cloud Code translator.
package anthropic

import "encoding/json"

// MessagesRequest is the body of POST /v1/messages.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// ThinkingConfig toggles extended-thinking mode on models that support it.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Tool is an Anthropic tool definition (name, description, JSON-schema input).
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Message is one turn of the conversation. Content may be a plain string or
// a list of ContentBlock values; callers should inspect Content's raw form
// before decoding since both are legal.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlock is one element of a structured Message.Content array.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Source    json.RawMessage `json:"source,omitempty"`
}

// MessagesResponse is the buffered (non-streaming) reply shape.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        *Usage         `json:"usage"`
}

// Usage carries token accounting for a completed request.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// ErrorEnvelope is the shape of an Anthropic-style error body.
type ErrorEnvelope struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the inner payload of ErrorEnvelope.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StreamEvent is one Server-Sent Event emitted on the streaming path.
// Event carries the SSE "event:" line, Data its JSON payload.
type StreamEvent struct {
	Event string
	Data  any
}

// MessageStartData is the payload of a message_start event.
type MessageStartData struct {
	Type    string            `json:"type"`
	Message *MessagesResponse `json:"message"`
}

// ContentBlockStartData is the payload of a content_block_start event.
type ContentBlockStartData struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// ContentBlockDeltaData is the payload of a content_block_delta event.
type ContentBlockDeltaData struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta DeltaValue `json:"delta"`
}

// DeltaValue holds whichever delta fields are relevant to the block's type.
type DeltaValue struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockStopData is the payload of a content_block_stop event.
type ContentBlockStopData struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaData is the payload of a message_delta event.
type MessageDeltaData struct {
	Type  string           `json:"type"`
	Delta MessageDeltaInfo `json:"delta"`
	Usage *Usage           `json:"usage"`
}

// MessageDeltaInfo carries the stop_reason/stop_sequence fields of a message_delta event.
type MessageDeltaInfo struct {
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}

// ModelInfo describes one entry of GET /v1/models.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Type        string `json:"type"`
}
