package rewritesvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edusmart/core"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestRewriter(t *testing.T, handler http.HandlerFunc) *OpenAIRewriter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conf := core.NewTestConfig()
	conf.Rewrite = core.RewriteConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "test-model", Timeout: time.Second}
	return NewOpenAIRewriter(conf, core.NopLogger{})
}

func completion(content string) map[string]interface{} {
	return map[string]interface{}{
		"id":     "cmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]interface{}{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	}
}

func TestOpenAIRewriter_Rewrite(t *testing.T) {
	var got chatRequest
	r := newTestRewriter(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/chat/completions", req.URL.Path)
		assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
		assert.Equal(t, "EduSmart", req.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion("  Dear students, there is no class tomorrow.  "))
	})

	text := r.Rewrite(context.Background(), "no class tmrw")
	assert.Equal(t, "Dear students, there is no class tomorrow.", text)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "Keep it concise.")
	assert.Equal(t, "no class tmrw", got.Messages[1].Content)
}

func TestOpenAIRewriter_Fallback(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"empty content", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(completion("   "))
		}},
		{"no choices", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"cmpl-1","choices":[]}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRewriter(t, tt.handler)
			assert.Equal(t, "exam on monday", r.Rewrite(context.Background(), "exam on monday"))
		})
	}
}

func TestNew(t *testing.T) {
	conf := core.NewTestConfig()
	assert.IsType(t, NopRewriter{}, New(conf, core.NopLogger{}))
	assert.Equal(t, "draft", NopRewriter{}.Rewrite(context.Background(), "draft"))

	conf.Rewrite.APIKey = "key"
	assert.IsType(t, &OpenAIRewriter{}, New(conf, core.NopLogger{}))
}
