// Package translate converts between the Anthropic Messages wire format and
// the Cloud Code backend's wrapped Google Generative AI payload, in both
// directions (request build, buffered response accumulation, and live SSE
// transcoding).
package translate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/relaycc/cc-dispatch/internal/config"
	"github.com/relaycc/cc-dispatch/pkg/anthropic"
)

// systemPreamble is prepended to every request's system instruction so the
// backend never introduces itself under its internal project name.
const systemPreamble = "You are a helpful coding assistant."

// CloudCodePayload is the wrapped request body the Cloud Code backend expects.
type CloudCodePayload struct {
	Project   string         `json:"project"`
	Model     string         `json:"model"`
	Request   map[string]any `json:"request"`
	UserAgent string         `json:"userAgent"`
	RequestID string         `json:"requestId"`
}

// BuildRequest translates an Anthropic request into the wrapped Cloud Code
// payload for projectID, deriving a stable session id and a fresh request id.
func BuildRequest(req *anthropic.MessagesRequest, projectID string) (*CloudCodePayload, error) {
	googleRequest, err := convertAnthropicToGoogle(req)
	if err != nil {
		return nil, err
	}

	googleRequest["sessionId"] = DeriveSessionID(req)

	systemParts := []map[string]any{{"text": systemPreamble}}
	if existing, ok := googleRequest["systemInstruction"].(map[string]any); ok {
		if parts, ok := existing["parts"].([]map[string]any); ok {
			systemParts = append(systemParts, parts...)
		}
	}
	googleRequest["systemInstruction"] = map[string]any{
		"role":  "user",
		"parts": systemParts,
	}

	return &CloudCodePayload{
		Project:   projectID,
		Model:     req.Model,
		Request:   googleRequest,
		UserAgent: "cc-dispatch",
		RequestID: "agent-" + uuid.New().String(),
	}, nil
}

// BuildHeaders builds the HTTP headers for a Cloud Code request against
// token for model, requesting accept (defaults to application/json).
func BuildHeaders(token, model, accept string) map[string]string {
	if accept == "" {
		accept = "application/json"
	}
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}
	for k, v := range config.PlatformHeaders() {
		headers[k] = v
	}
	if config.GetModelFamily(model) == config.ModelFamilyClaude && config.IsThinkingModel(model) {
		headers["anthropic-beta"] = "interleaved-thinking-2025-05-14"
	}
	if accept != "application/json" {
		headers["Accept"] = accept
	}
	return headers
}

// DeriveSessionID derives a stable session id from the first user message's
// text content so repeated turns in the same conversation share a backend
// cache entry. Falls back to a random id when no user text is found.
func DeriveSessionID(req *anthropic.MessagesRequest) string {
	for _, msg := range req.Messages {
		if msg.Role != "user" {
			continue
		}
		if text := extractText(msg); text != "" {
			sum := sha256.Sum256([]byte(text))
			return hex.EncodeToString(sum[:16])
		}
	}
	return uuid.New().String()
}

func extractText(msg anthropic.Message) string {
	var plain string
	if json.Unmarshal(msg.Content, &plain) == nil {
		return plain
	}
	var blocks []anthropic.ContentBlock
	if json.Unmarshal(msg.Content, &blocks) != nil {
		return ""
	}
	var out string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// convertAnthropicToGoogle builds the Google "request" sub-object: contents,
// generationConfig, and (if present) tools/thinking config. It is
// deliberately a right-sized translation rather than the full schema
// sanitization pipeline this project's predecessor carried — it covers the
// shapes exercised end to end, not every obscure JSON-Schema construct.
func convertAnthropicToGoogle(req *anthropic.MessagesRequest) (map[string]any, error) {
	contents := make([]map[string]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		parts, err := messagePartsToGoogle(msg)
		if err != nil {
			return nil, err
		}
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, map[string]any{"role": role, "parts": parts})
	}

	genConfig := map[string]any{}
	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		genConfig["topP"] = *req.TopP
	}
	if req.TopK != nil {
		genConfig["topK"] = *req.TopK
	}
	if len(req.StopSequences) > 0 {
		genConfig["stopSequences"] = req.StopSequences
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		genConfig["thinkingConfig"] = map[string]any{
			"includeThoughts": true,
			"thinkingBudget":  req.Thinking.BudgetTokens,
		}
	}

	out := map[string]any{
		"contents":         contents,
		"generationConfig": genConfig,
	}

	if len(req.System) > 0 {
		if parts := systemPartsFromRaw(req.System); len(parts) > 0 {
			out["systemInstruction"] = map[string]any{"role": "user", "parts": parts}
		}
	}

	if len(req.Tools) > 0 {
		tools, err := toolsToGoogle(req.Tools)
		if err != nil {
			return nil, err
		}
		out["tools"] = tools
	}

	return out, nil
}

func systemPartsFromRaw(raw json.RawMessage) []map[string]any {
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		if asString == "" {
			return nil
		}
		return []map[string]any{{"text": asString}}
	}
	var blocks []anthropic.ContentBlock
	if json.Unmarshal(raw, &blocks) == nil {
		parts := make([]map[string]any, 0, len(blocks))
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, map[string]any{"text": b.Text})
			}
		}
		return parts
	}
	return nil
}

func messagePartsToGoogle(msg anthropic.Message) ([]map[string]any, error) {
	var asString string
	if json.Unmarshal(msg.Content, &asString) == nil {
		if asString == "" {
			return nil, nil
		}
		return []map[string]any{{"text": asString}}, nil
	}

	var blocks []anthropic.ContentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, err
	}

	parts := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, map[string]any{"text": b.Text})
		case "thinking":
			part := map[string]any{"thought": true, "text": b.Thinking}
			if b.Signature != "" {
				part["thoughtSignature"] = b.Signature
			}
			parts = append(parts, part)
		case "tool_use":
			var args map[string]any
			_ = json.Unmarshal(b.Input, &args)
			fc := map[string]any{"name": b.Name, "args": args}
			if b.ID != "" {
				fc["id"] = b.ID
			}
			parts = append(parts, map[string]any{"functionCall": fc})
		case "tool_result":
			parts = append(parts, map[string]any{
				"functionResponse": map[string]any{
					"name":     b.ToolUseID,
					"response": map[string]any{"content": string(b.Content)},
				},
			})
		}
	}
	return parts, nil
}

func toolsToGoogle(tools []anthropic.Tool) ([]map[string]any, error) {
	decls := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		decl := map[string]any{"name": t.Name}
		if t.Description != "" {
			decl["description"] = t.Description
		}
		if len(t.InputSchema) > 0 {
			var schema any
			if err := json.Unmarshal(t.InputSchema, &schema); err == nil {
				decl["parameters"] = sanitizeSchema(schema)
			}
		}
		decls = append(decls, decl)
	}
	return []map[string]any{{"functionDeclarations": decls}}, nil
}

// sanitizeSchema strips JSON-Schema keywords Gemini's function-calling
// schema validator rejects (e.g. "$schema", "additionalProperties",
// "exclusiveMinimum"/"exclusiveMaximum" as booleans, "const").
func sanitizeSchema(schema any) any {
	switch v := schema.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			switch k {
			case "$schema", "additionalProperties", "const", "exclusiveMinimum", "exclusiveMaximum", "default":
				continue
			}
			out[k] = sanitizeSchema(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeSchema(item)
		}
		return out
	default:
		return v
	}
}
