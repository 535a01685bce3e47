package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EvanCNavarro/disc-sub000/model"
)

func completionJSON(content string) map[string]any {
	return map[string]any{
		"model": "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120},
	}
}

func testMessages() []model.OpenAIChatMessage {
	return []model.OpenAIChatMessage{
		{Role: "system", Content: "you are a test"},
		{Role: "user", Content: "hello"},
	}
}

func TestCompleteJSONHappyPath(t *testing.T) {
	var gotReq model.OpenAIChatRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		require.NoError(t, json.NewEncoder(w).Encode(completionJSON(`{"ok":true}`)))
	}))
	defer srv.Close()

	client := NewClient(&Config{
		APIBaseURL:  srv.URL,
		APIKey:      "secret-key",
		Model:       "gpt-4o-mini",
		MaxTokens:   2000,
		Temperature: 0.7,
	})

	res, err := client.CompleteJSON(context.Background(), testMessages())
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, res.Content)
	assert.Equal(t, 100, res.Usage.PromptTokens)
	assert.Equal(t, 20, res.Usage.CompletionTokens)

	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	assert.Equal(t, 2000, gotReq.MaxTokens)
	// 每个请求都要求 JSON 模式
	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_object", gotReq.ResponseFormat.Type)
}

func TestCompleteJSONRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(completionJSON("recovered")))
	}))
	defer srv.Close()

	client := NewClient(&Config{APIBaseURL: srv.URL, Model: "gpt-4o-mini"})

	res, err := client.CompleteJSON(context.Background(), testMessages())
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteJSONDoesNotRetryAuthFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(&Config{APIBaseURL: srv.URL, Model: "gpt-4o-mini"})

	_, err := client.CompleteJSON(context.Background(), testMessages())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "permanent errors must not be retried")
}

func TestCompleteJSONRejectsEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"model":   "gpt-4o-mini",
			"choices": []any{},
			"usage":   map[string]any{"prompt_tokens": 1, "completion_tokens": 0, "total_tokens": 1},
		}))
	}))
	defer srv.Close()

	client := NewClient(&Config{APIBaseURL: srv.URL, Model: "gpt-4o-mini"})

	_, err := client.CompleteJSON(context.Background(), testMessages())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no response choices")
}

func TestModelReturnsConfiguredName(t *testing.T) {
	client := NewClient(&Config{Model: "gpt-4.1-mini"})
	assert.Equal(t, "gpt-4.1-mini", client.Model())
}
