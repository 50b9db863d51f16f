package perplexity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, resp any, reqs chan<- ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if reqs != nil {
			reqs <- req
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatCompletion(t *testing.T) {
	reqs := make(chan ChatCompletionRequest, 1)
	srv := chatServer(t, http.StatusOK, ChatCompletionResponse{
		ID:      "cmpl-1",
		Choices: []Choice{{Message: Message{Role: "assistant", Content: "hi"}}},
		Usage:   Usage{PromptTokens: 3, CompletionTokens: 1},
	}, reqs)

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "cmpl-1", resp.ID)
	assert.Equal(t, 3, resp.Usage.PromptTokens)
	assert.Equal(t, defaultModel, (<-reqs).Model)
}

func TestChatCompletion_Status(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, map[string]string{"error": "slow down"}, nil)

	_, err := NewClient("test-key", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}

func TestSearch(t *testing.T) {
	reqs := make(chan ChatCompletionRequest, 1)
	srv := chatServer(t, http.StatusOK, ChatCompletionResponse{
		Choices: []Choice{{Message: Message{Content: "  Ondo tokenizes treasuries.\n"}}},
	}, reqs)

	c := NewClient("test-key", WithBaseURL(srv.URL), WithModel("sonar"))
	text, err := c.Search(context.Background(), "What is Ondo?")
	require.NoError(t, err)
	assert.Equal(t, "Ondo tokenizes treasuries.", text)

	req := <-reqs
	assert.Equal(t, "sonar", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "What is Ondo?", req.Messages[1].Content)
}

func TestSearch_NoChoices(t *testing.T) {
	srv := chatServer(t, http.StatusOK, ChatCompletionResponse{}, nil)

	_, err := NewClient("test-key", WithBaseURL(srv.URL)).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestSearch_EmptyAnswer(t *testing.T) {
	srv := chatServer(t, http.StatusOK, ChatCompletionResponse{Choices: []Choice{{}}}, nil)

	_, err := NewClient("test-key", WithBaseURL(srv.URL)).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty answer")
}
