// Package config provides configuration constants and runtime configuration
// for the dispatcher. This file ports the tuning knobs, endpoints, and
// model-family logic from the Node.js predecessor's constants module.
package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Version is the dispatcher's build version string.
const Version = "1.0.0"

// DefaultPort is the server's default bind port.
const DefaultPort = 8080

// Cloud Code API endpoints, in fallback order (daily canary first, then prod).
const (
	CloudCodeEndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	CloudCodeEndpointProd  = "https://cloudcode-pa.googleapis.com"
)

// EndpointFallbacks is the endpoint order generateContent calls try.
var EndpointFallbacks = []string{CloudCodeEndpointDaily, CloudCodeEndpointProd}

// LoadCodeAssistEndpoints is the endpoint order loadCodeAssist tries.
// Prod resolves project IDs more reliably for freshly onboarded accounts.
var LoadCodeAssistEndpoints = []string{CloudCodeEndpointProd, CloudCodeEndpointDaily}

// DefaultProjectID is used when project discovery yields nothing.
const DefaultProjectID = "rising-fact-p41fc"

// PlatformHeaders returns the headers every Cloud Code request must carry.
func PlatformHeaders() map[string]string {
	return map[string]string{
		"User-Agent":        platformUserAgent(),
		"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":   clientMetadataJSON(),
	}
}

func platformUserAgent() string {
	return fmt.Sprintf("cc-dispatch/%s %s/%s", Version, runtime.GOOS, runtime.GOARCH)
}

// IDE/platform/plugin enum values expected by the Cloud Code wire protocol.
const (
	ideTypeClient    = 6
	platformWindows  = 1
	platformLinux    = 2
	platformMacOS    = 3
	platformUnknown  = 0
	pluginTypeGemini = 2
)

func platformEnum() int {
	switch runtime.GOOS {
	case "darwin":
		return platformMacOS
	case "windows":
		return platformWindows
	case "linux":
		return platformLinux
	default:
		return platformUnknown
	}
}

func clientMetadataJSON() string {
	data, _ := json.Marshal(map[string]int{
		"ideType":    ideTypeClient,
		"platform":   platformEnum(),
		"pluginType": pluginTypeGemini,
	})
	return string(data)
}

// Timing defaults (overridable per Config, see config.go).
const (
	TokenCacheTTLMs      = 5 * 60 * 1000
	DefaultCooldownMs    = 10 * 1000
	MaxRetries           = 5
	MaxEmptyResponseTry  = 2
	MaxAccounts          = 10
	MaxWaitBeforeErrorMs = 120 * 1000
	FirstRetryDelayMs    = 1000
	SwitchAccountDelayMs = 5000
)

// CapacityBackoffTiersMs is the progressive backoff ladder applied to
// repeated MODEL_CAPACITY_EXHAUSTED (503/529) responses for the same model.
var CapacityBackoffTiersMs = []int64{5000, 10000, 20000, 30000, 60000}

// ModelFallbackMap maps a primary model to the model the dispatcher falls
// back to, one level deep, when the primary is exhausted.
var ModelFallbackMap = map[string]string{
	"gemini-3-pro-high":          "claude-opus-4-6-thinking",
	"gemini-3-pro-low":           "claude-sonnet-4-5",
	"gemini-3-flash":             "claude-sonnet-4-5-thinking",
	"claude-opus-4-6-thinking":   "gemini-3-pro-high",
	"claude-sonnet-4-5-thinking": "gemini-3-flash",
	"claude-sonnet-4-5":          "gemini-3-flash",
}

// GetFallbackModel returns the one-level fallback for modelName, if any.
func GetFallbackModel(modelName string) (string, bool) {
	fallback, ok := ModelFallbackMap[modelName]
	return fallback, ok
}

// ModelFamily identifies which backend family a model name belongs to.
type ModelFamily string

const (
	ModelFamilyClaude  ModelFamily = "claude"
	ModelFamilyGemini  ModelFamily = "gemini"
	ModelFamilyUnknown ModelFamily = "unknown"
)

// GetModelFamily classifies modelName by substring match.
func GetModelFamily(modelName string) ModelFamily {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "claude"):
		return ModelFamilyClaude
	case strings.Contains(lower, "gemini"):
		return ModelFamilyGemini
	default:
		return ModelFamilyUnknown
	}
}

var geminiVersionRegex = regexp.MustCompile(`gemini-(\d+)`)

// IsThinkingModel reports whether modelName supports extended-thinking
// output: any Claude model with "thinking" in its name, any Gemini model
// with "thinking" in its name, or any Gemini model at major version >= 3.
func IsThinkingModel(modelName string) bool {
	lower := strings.ToLower(modelName)

	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}

	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		if m := geminiVersionRegex.FindStringSubmatch(lower); len(m) == 2 {
			if version, err := strconv.Atoi(m[1]); err == nil && version >= 3 {
				return true
			}
		}
	}

	return false
}
