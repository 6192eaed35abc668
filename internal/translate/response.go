package translate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/relaycc/cc-dispatch/pkg/anthropic"
)

// sseDataPart mirrors one "parts[]" entry in a Cloud Code streamGenerateContent
// chunk: a thinking span, plain text, a function call, or inline binary data.
type sseDataPart struct {
	Thought          bool             `json:"thought,omitempty"`
	Text             string           `json:"text,omitempty"`
	ThoughtSignature string           `json:"thoughtSignature,omitempty"`
	FunctionCall     *sseFunctionCall `json:"functionCall,omitempty"`
	InlineData       *sseInlineData   `json:"inlineData,omitempty"`
}

type sseFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type sseInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type sseUsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

type sseCandidate struct {
	Content      *sseContent `json:"content,omitempty"`
	FinishReason string      `json:"finishReason,omitempty"`
}

type sseContent struct {
	Parts []sseDataPart `json:"parts,omitempty"`
}

type sseChunk struct {
	Response *sseInnerChunk `json:"response,omitempty"`

	Candidates    []sseCandidate    `json:"candidates,omitempty"`
	UsageMetadata *sseUsageMetadata `json:"usageMetadata,omitempty"`
}

type sseInnerChunk struct {
	Candidates    []sseCandidate    `json:"candidates,omitempty"`
	UsageMetadata *sseUsageMetadata `json:"usageMetadata,omitempty"`
}

// EmptyResponseErr sentinel identifies a stream that produced zero content
// parts before closing, so the dispatcher can distinguish it from a genuine
// transport failure and retry according to its own policy.
var errEmptyResponse = fmt.Errorf("cloud code stream produced no content parts")

// IsEmptyResponse reports whether err is the empty-stream sentinel.
func IsEmptyResponse(err error) bool { return err == errEmptyResponse }

func scanSSELines(reader io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	return scanner
}

func decodeSSEChunk(line string) (*sseInnerChunk, bool) {
	if !strings.HasPrefix(line, "data:") {
		return nil, false
	}
	jsonText := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if jsonText == "" || jsonText == "[DONE]" {
		return nil, false
	}
	var chunk sseChunk
	if err := json.Unmarshal([]byte(jsonText), &chunk); err != nil {
		return nil, false
	}
	if chunk.Response != nil {
		return chunk.Response, true
	}
	return &sseInnerChunk{Candidates: chunk.Candidates, UsageMetadata: chunk.UsageMetadata}, true
}

// accumulatedPart is a flattened, order-preserving content part ready to be
// rendered as an anthropic.ContentBlock.
type accumulatedPart struct {
	kind      string // "thinking" | "text" | "tool_use" | "image"
	text      string
	signature string
	toolID    string
	toolName  string
	toolArgs  map[string]any
	mimeType  string
	data      string
}

// ParseBuffered reads a full Cloud Code SSE stream and accumulates it into a
// single non-streaming Anthropic response, concatenating consecutive parts of
// the same kind (thinking/text) the way the backend emits them token by
// token, and flushing to a new block whenever the kind changes.
func ParseBuffered(reader io.Reader, model string) (*anthropic.MessagesResponse, error) {
	var parts []accumulatedPart
	var thinkingText, thinkingSig, plainText string
	usage := &sseUsageMetadata{}
	finishReason := "STOP"

	flushThinking := func() {
		if thinkingText != "" {
			parts = append(parts, accumulatedPart{kind: "thinking", text: thinkingText, signature: thinkingSig})
			thinkingText, thinkingSig = "", ""
		}
	}
	flushText := func() {
		if plainText != "" {
			parts = append(parts, accumulatedPart{kind: "text", text: plainText})
			plainText = ""
		}
	}

	scanner := scanSSELines(reader)
	for scanner.Scan() {
		chunk, ok := decodeSSEChunk(scanner.Text())
		if !ok {
			continue
		}
		if chunk.UsageMetadata != nil {
			usage = chunk.UsageMetadata
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		if cand.FinishReason != "" {
			finishReason = cand.FinishReason
		}
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			switch {
			case p.Thought:
				flushText()
				thinkingText += p.Text
				if p.ThoughtSignature != "" {
					thinkingSig = p.ThoughtSignature
				}
			case p.FunctionCall != nil:
				flushThinking()
				flushText()
				parts = append(parts, accumulatedPart{
					kind:     "tool_use",
					toolID:   p.FunctionCall.ID,
					toolName: p.FunctionCall.Name,
					toolArgs: p.FunctionCall.Args,
				})
			case p.InlineData != nil:
				flushThinking()
				flushText()
				parts = append(parts, accumulatedPart{kind: "image", mimeType: p.InlineData.MimeType, data: p.InlineData.Data})
			case p.Text != "":
				flushThinking()
				plainText += p.Text
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flushThinking()
	flushText()

	if len(parts) == 0 {
		return nil, errEmptyResponse
	}

	return &anthropic.MessagesResponse{
		ID:         "msg_" + uuid.New().String(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    partsToBlocks(parts),
		StopReason: mapFinishReason(finishReason, parts),
		Usage: &anthropic.Usage{
			InputTokens:  usage.PromptTokenCount,
			OutputTokens: usage.CandidatesTokenCount,
		},
	}, nil
}

func partsToBlocks(parts []accumulatedPart) []anthropic.ContentBlock {
	blocks := make([]anthropic.ContentBlock, 0, len(parts))
	for _, p := range parts {
		switch p.kind {
		case "thinking":
			blocks = append(blocks, anthropic.ContentBlock{Type: "thinking", Thinking: p.text, Signature: p.signature})
		case "text":
			blocks = append(blocks, anthropic.ContentBlock{Type: "text", Text: p.text})
		case "tool_use":
			input, _ := json.Marshal(p.toolArgs)
			id := p.toolID
			if id == "" {
				id = "toolu_" + uuid.New().String()
			}
			blocks = append(blocks, anthropic.ContentBlock{Type: "tool_use", ID: id, Name: p.toolName, Input: input})
		case "image":
			source, _ := json.Marshal(map[string]string{"type": "base64", "media_type": p.mimeType, "data": p.data})
			blocks = append(blocks, anthropic.ContentBlock{Type: "image", Source: source})
		}
	}
	return blocks
}

func mapFinishReason(reason string, parts []accumulatedPart) string {
	for _, p := range parts {
		if p.kind == "tool_use" {
			return "tool_use"
		}
	}
	switch strings.ToUpper(reason) {
	case "MAX_TOKENS":
		return "max_tokens"
	case "STOP", "":
		return "end_turn"
	default:
		return "end_turn"
	}
}

// StreamEvent is one live Anthropic SSE event emitted during streaming.
type StreamEvent struct {
	Event string
	Data  any
}

// StreamLive transcodes a Cloud Code SSE body into live Anthropic stream
// events, emitting content_block_start/delta/stop as soon as each part's kind
// changes rather than waiting for the stream to end. Closes outCh when done;
// the caller must drain errCh exactly once afterward.
func StreamLive(reader io.Reader, model string) (<-chan StreamEvent, <-chan error) {
	outCh := make(chan StreamEvent, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		messageID := "msg_" + uuid.New().String()
		outCh <- StreamEvent{Event: "message_start", Data: anthropic.MessageStartData{
			Type: "message_start",
			Message: &anthropic.MessagesResponse{
				ID: messageID, Type: "message", Role: "assistant", Model: model,
				Content: []anthropic.ContentBlock{}, Usage: &anthropic.Usage{},
			},
		}}

		index := -1
		var openKind string
		emittedAny := false
		outUsage := &sseUsageMetadata{}
		finishReason := "STOP"

		closeBlock := func() {
			if openKind != "" {
				outCh <- StreamEvent{Event: "content_block_stop", Data: anthropic.ContentBlockStopData{Type: "content_block_stop", Index: index}}
				openKind = ""
			}
		}
		openBlock := func(kind string, block anthropic.ContentBlock) {
			index++
			openKind = kind
			emittedAny = true
			outCh <- StreamEvent{Event: "content_block_start", Data: anthropic.ContentBlockStartData{Type: "content_block_start", Index: index, ContentBlock: block}}
		}

		scanner := scanSSELines(reader)
		for scanner.Scan() {
			chunk, ok := decodeSSEChunk(scanner.Text())
			if !ok {
				continue
			}
			if chunk.UsageMetadata != nil {
				outUsage = chunk.UsageMetadata
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			cand := chunk.Candidates[0]
			if cand.FinishReason != "" {
				finishReason = cand.FinishReason
			}
			if cand.Content == nil {
				continue
			}
			for _, p := range cand.Content.Parts {
				switch {
				case p.Thought:
					if openKind != "thinking" {
						closeBlock()
						openBlock("thinking", anthropic.ContentBlock{Type: "thinking"})
					}
					outCh <- StreamEvent{Event: "content_block_delta", Data: anthropic.ContentBlockDeltaData{
						Type: "content_block_delta", Index: index,
						Delta: anthropic.DeltaValue{Type: "thinking_delta", Thinking: p.Text, Signature: p.ThoughtSignature},
					}}
				case p.FunctionCall != nil:
					closeBlock()
					id := p.FunctionCall.ID
					if id == "" {
						id = "toolu_" + uuid.New().String()
					}
					openBlock("tool_use", anthropic.ContentBlock{Type: "tool_use", ID: id, Name: p.FunctionCall.Name})
					args, _ := json.Marshal(p.FunctionCall.Args)
					outCh <- StreamEvent{Event: "content_block_delta", Data: anthropic.ContentBlockDeltaData{
						Type: "content_block_delta", Index: index,
						Delta: anthropic.DeltaValue{Type: "input_json_delta", PartialJSON: string(args)},
					}}
					closeBlock()
				case p.InlineData != nil:
					closeBlock()
				case p.Text != "":
					if openKind != "text" {
						closeBlock()
						openBlock("text", anthropic.ContentBlock{Type: "text"})
					}
					outCh <- StreamEvent{Event: "content_block_delta", Data: anthropic.ContentBlockDeltaData{
						Type: "content_block_delta", Index: index,
						Delta: anthropic.DeltaValue{Type: "text_delta", Text: p.Text},
					}}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		closeBlock()

		if !emittedAny {
			errCh <- errEmptyResponse
			return
		}

		outCh <- StreamEvent{Event: "message_delta", Data: anthropic.MessageDeltaData{
			Type:  "message_delta",
			Delta: anthropic.MessageDeltaInfo{StopReason: mapFinishReason(finishReason, nil)},
			Usage: &anthropic.Usage{OutputTokens: outUsage.CandidatesTokenCount},
		}}
		outCh <- StreamEvent{Event: "message_stop", Data: map[string]string{"type": "message_stop"}}
	}()

	return outCh, errCh
}

// EmptyResponseFallback builds the canned degraded reply emitted after
// exhausting empty-response retries, so the client still gets a well-formed
// message instead of a hung connection.
func EmptyResponseFallback(model string) []StreamEvent {
	messageID := "msg_" + uuid.New().String()
	return []StreamEvent{
		{Event: "message_start", Data: anthropic.MessageStartData{Type: "message_start", Message: &anthropic.MessagesResponse{
			ID: messageID, Type: "message", Role: "assistant", Model: model,
			Content: []anthropic.ContentBlock{}, Usage: &anthropic.Usage{},
		}}},
		{Event: "content_block_start", Data: anthropic.ContentBlockStartData{Type: "content_block_start", Index: 0, ContentBlock: anthropic.ContentBlock{Type: "text"}}},
		{Event: "content_block_delta", Data: anthropic.ContentBlockDeltaData{Type: "content_block_delta", Index: 0, Delta: anthropic.DeltaValue{Type: "text_delta", Text: "[No response after retries - please try again]"}}},
		{Event: "content_block_stop", Data: anthropic.ContentBlockStopData{Type: "content_block_stop", Index: 0}},
		{Event: "message_delta", Data: anthropic.MessageDeltaData{Type: "message_delta", Delta: anthropic.MessageDeltaInfo{StopReason: "end_turn"}, Usage: &anthropic.Usage{}}},
		{Event: "message_stop", Data: map[string]string{"type": "message_stop"}},
	}
}
