package llm

import (
	"fmt"
	"sort"
	"strings"
)

// ModelConfig carries the limits the pipeline trusts for a model, overriding
// anything the provider reports. Consulted once, at client construction;
// pipeline code never does context-window math against provider metadata.
type ModelConfig struct {
	ContextWindow   int
	MaxOutputTokens int
	// DisableThinking strips provider "thinking" request fields for models
	// whose thinking mode breaks multi-turn tool calls.
	DisableThinking bool
}

// ConfigError is a fatal startup problem: missing key or unknown model.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// modelConstraints overrides limits for models known to misreport them.
// Keys are matched against the model identifier with any provider prefix
// (e.g. "openrouter/vendor/") stripped.
var modelConstraints = map[string]ModelConfig{
	"claude-sonnet-4":      {ContextWindow: 200_000, MaxOutputTokens: 64_000},
	"claude-haiku-4":       {ContextWindow: 200_000, MaxOutputTokens: 32_000},
	"gpt-4.1":              {ContextWindow: 1_000_000, MaxOutputTokens: 32_768},
	"gpt-4.1-mini":         {ContextWindow: 1_000_000, MaxOutputTokens: 32_768},
	"gemini-2.5-pro":       {ContextWindow: 1_000_000, MaxOutputTokens: 65_536},
	"gemini-2.5-flash":     {ContextWindow: 1_000_000, MaxOutputTokens: 65_536},
	"glm-4.7":              {ContextWindow: 160_000, MaxOutputTokens: 32_768, DisableThinking: true},
	"deepseek-chat":        {ContextWindow: 128_000, MaxOutputTokens: 8_192},
	"qwen3-coder":          {ContextWindow: 256_000, MaxOutputTokens: 32_768},
	"kimi-k2":              {ContextWindow: 256_000, MaxOutputTokens: 32_768, DisableThinking: true},
	"mistral-large-latest": {ContextWindow: 128_000, MaxOutputTokens: 16_384},
}

// stripProviderPrefix reduces "openrouter/vendor/model" to "model" and
// "vendor/model" to "model".
func stripProviderPrefix(model string) string {
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

// ResolveModel returns the constraint entry for a model identifier.
// Unknown models fail loudly with the list of known ones; silent
// conservative defaults would hide budget misconfiguration until a
// mid-pipeline truncation.
func ResolveModel(model string) (ModelConfig, error) {
	if model == "" {
		return ModelConfig{}, &ConfigError{Msg: "model identifier is empty"}
	}
	key := stripProviderPrefix(model)
	if mc, ok := modelConstraints[key]; ok {
		return mc, nil
	}
	// Versioned identifiers like "claude-sonnet-4-20250514" match their base entry.
	for base, mc := range modelConstraints {
		if strings.HasPrefix(key, base) {
			return mc, nil
		}
	}
	known := make([]string, 0, len(modelConstraints))
	for k := range modelConstraints {
		known = append(known, k)
	}
	sort.Strings(known)
	return ModelConfig{}, &ConfigError{
		Msg: fmt.Sprintf("unknown model %q: no constraint entry; known models: %s", model, strings.Join(known, ", ")),
	}
}
