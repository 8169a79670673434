package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbaeke/flowkit"
)

type chatRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newServer(t *testing.T, status int, body string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server) *OpenAI {
	t.Helper()
	c, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "test-model", Temperature: 0.7})
	require.NoError(t, err)
	return c
}

func TestComplete(t *testing.T) {
	var seen chatRequest
	srv := newServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "  # Title\n\nBody  "}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12}
	}`, &seen)

	out, err := newClient(t, srv).Complete(context.Background(), "write something", 4000)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nBody", out)

	assert.Equal(t, "test-model", seen.Model)
	assert.Equal(t, 4000, seen.MaxTokens)
	assert.InDelta(t, 0.7, seen.Temperature, 1e-6)
	require.Len(t, seen.Messages, 1)
	assert.Equal(t, "user", seen.Messages[0].Role)
	assert.Equal(t, "write something", seen.Messages[0].Content)
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"id": "x", "choices": []}`, nil)
	_, err := newClient(t, srv).Complete(context.Background(), "p", 10)
	assert.ErrorContains(t, err, "no choices")
	assert.False(t, flowkit.IsFatal(err), "an empty response is worth retrying")
}

func TestCompleteClientErrorIsFatal(t *testing.T) {
	srv := newServer(t, http.StatusBadRequest, `{"error": {"message": "context length exceeded", "type": "invalid_request_error"}}`, nil)
	_, err := newClient(t, srv).Complete(context.Background(), "p", 10)
	require.Error(t, err)
	assert.True(t, flowkit.IsFatal(err))
	assert.Contains(t, err.Error(), "context length exceeded")
}

func TestCompleteServerErrorIsRetryable(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusTooManyRequests} {
		srv := newServer(t, status, `{"error": {"message": "try later", "type": "server_error"}}`, nil)
		_, err := newClient(t, srv).Complete(context.Background(), "p", 10)
		require.Error(t, err)
		assert.False(t, flowkit.IsFatal(err), "status %d should be retried", status)
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(Options{})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestClientFunc(t *testing.T) {
	var c Client = ClientFunc(func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return prompt, nil
	})
	out, err := c.Complete(context.Background(), "echo", 1)
	require.NoError(t, err)
	assert.Equal(t, "echo", out)
}
