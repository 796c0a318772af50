package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/breaker"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/config"
)

func TestResolveModelKnown(t *testing.T) {
	mc, err := ResolveModel("glm-4.7")
	require.NoError(t, err)
	assert.Equal(t, 160_000, mc.ContextWindow)
	assert.True(t, mc.DisableThinking)
}

func TestResolveModelProviderPrefix(t *testing.T) {
	mc, err := ResolveModel("openrouter/vendor/gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, 1_000_000, mc.ContextWindow)
}

func TestResolveModelVersionedSuffix(t *testing.T) {
	_, err := ResolveModel("claude-sonnet-4-20250514")
	require.NoError(t, err)
}

func TestResolveModelUnknownFailsLoudly(t *testing.T) {
	_, err := ResolveModel("totally-made-up")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "known models")
}

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Here it is:\n```json\n{\"a\":1}\n```\nDone.", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripCodeFences(tc.in))
		})
	}
}

func TestRepairJSON(t *testing.T) {
	in := "```json\n{“title”: \"Overview\", \"tags\": [\"a\", \"b\",],}\n```"
	out := RepairJSON(in)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "Overview", parsed["title"])
}

func TestRepairJSONTrimsProse(t *testing.T) {
	out := RepairJSON(`The blueprint follows. {"docs": []} Hope that helps!`)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
}

func TestClientCompleteAgainstFake(t *testing.T) {
	breaker.Default().ResetAll()
	t.Cleanup(breaker.Default().ResetAll)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "glm-4.7", req.Model)
		require.NotNil(t, req.Thinking, "glm thinking mode must be disabled explicitly")

		resp := chatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: "hello back"}})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := NewClient("scout", config.TierConfig{Model: "glm-4.7", BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello back", out)
}

func TestClientRemoteError(t *testing.T) {
	breaker.Default().ResetAll()
	t.Cleanup(breaker.Default().ResetAll)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient("writer", config.TierConfig{Model: "glm-4.7", BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "hello")
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.True(t, remoteErr.Retryable())
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient("scout", config.TierConfig{Model: "glm-4.7"})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
