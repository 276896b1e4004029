package llmclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
)

func newTestOpenAIClient(t *testing.T, url string) *OpenAIClient {
	t.Helper()
	c, err := NewOpenAIClient(config.LLMModelConfig{
		Provider:   config.ProviderOpenAI,
		Model:      "vision-model",
		Endpoint:   url + "/v1/chat/completions",
		APITimeout: 5 * time.Second,
	}, setupTestLogger(t))
	require.NoError(t, err)
	c.maxElapsed = 10 * time.Second
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "http://localhost:8000/v1/chat/completions"},
		{"http://host:8000", "http://host:8000/v1/chat/completions"},
		{"http://host:8000/v1/chat/completions", "http://host:8000/v1/chat/completions"},
		{"http://host:8000/custom/", "http://host:8000/custom/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEndpoint(tt.in), tt.in)
	}
}

func TestOpenAIClient_Generate_Success(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":"{\"x\": 10, \"y\": 20}"},"finish_reason":"stop"}],"usage":{"total_tokens":7}}`)
	}))
	defer srv.Close()

	c := newTestOpenAIClient(t, srv.URL)
	out, err := c.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "system",
		UserPrompt:   "where is the button",
		Images:       []schemas.ImagePart{{Data: []byte("png")}},
		Options:      schemas.GenerationOptions{Temperature: 0.1, MaxTokens: 300, ForceJSONFormat: true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"x": 10, "y": 20}`, out)

	assert.Equal(t, "Bearer dummy", auth)
	assert.Equal(t, "vision-model", got.Model)
	assert.Equal(t, 300, got.MaxTokens)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	user := got.Messages[1]
	require.Len(t, user.Content, 2)
	assert.Equal(t, "where is the button", user.Content[0].Text)
	require.NotNil(t, user.Content[1].ImageURL)
	assert.True(t, strings.HasPrefix(user.Content[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestOpenAIClient_Generate_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"YES"}}]}`)
	}))
	defer srv.Close()

	out, err := newTestOpenAIClient(t, srv.URL).Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "?"})
	require.NoError(t, err)
	assert.Equal(t, "YES", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenAIClient_Generate_PermanentErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"unauthorized", http.StatusUnauthorized, "nope", "status 401"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"garbage", http.StatusOK, `not json`, "failed to decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestOpenAIClient(t, srv.URL).Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "?"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestNewOpenAIClient_RequiresModel(t *testing.T) {
	_, err := NewOpenAIClient(config.LLMModelConfig{Provider: config.ProviderOpenAI}, setupTestLogger(t))
	assert.ErrorContains(t, err, "model name is required")
}
