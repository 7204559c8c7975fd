package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cropdoc/internal/resilience"
)

func TestComplete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		var payload struct {
			Model  string `json:"model"`
			System []struct {
				Text         string         `json:"text"`
				CacheControl map[string]any `json:"cache_control"`
			} `json:"system"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "claude-haiku-4-5-20251001", payload.Model)
		require.Len(t, payload.System, 1)
		assert.Equal(t, "extract symptoms", payload.System[0].Text)
		assert.Equal(t, "ephemeral", payload.System[0].CacheControl["type"])
		require.Len(t, payload.Messages, 1)
		assert.Equal(t, "user", payload.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":   "msg_001",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": `["yellow-leaves",`},
				{"type": "text", "text": ` "wilting"]`},
			},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":                12,
				"output_tokens":               4,
				"cache_creation_input_tokens": 0,
				"cache_read_input_tokens":     30,
			},
		})
	}))
	defer ts.Close()

	reply, err := NewClient("test-key", WithBaseURL(ts.URL)).Complete(context.Background(), Prompt{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   256,
		System:      "extract symptoms",
		CacheSystem: true,
		User:        "leaves turning yellow",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_001", reply.ID)
	assert.Equal(t, "end_turn", reply.StopReason)
	assert.Equal(t, `["yellow-leaves", "wilting"]`, reply.Text)
	assert.Equal(t, Usage{Input: 12, Output: 4, CacheRead: 30}, reply.Usage)
	assert.Len(t, reply.Usage.Fields(), 4)
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		kind      string
		transient bool
	}{
		{"bad request", http.StatusBadRequest, "invalid_request_error", false},
		{"rate limited", http.StatusTooManyRequests, "rate_limit_error", true},
		{"overloaded", http.StatusServiceUnavailable, "overloaded_error", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"type":  "error",
					"error": map[string]any{"type": tt.kind, "message": tt.kind},
				})
			}))
			defer ts.Close()

			_, err := NewClient("test-key", WithBaseURL(ts.URL)).Complete(context.Background(), Prompt{
				Model:     "claude-haiku-4-5-20251001",
				MaxTokens: 64,
				User:      "hi",
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "anthropic: create message")
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
			assert.Equal(t, 1, calls, "sdk retries are disabled")
		})
	}
}
