package extraction

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sentiment-ranker/comment-ranker/internal/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Path string
	Body map[string]any
}

type fakeService struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(path string) (int, string)
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Path: r.URL.Path, Body: body})
	f.mu.Unlock()

	status, payload := f.handler(r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func (f *fakeService) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Path)
	}
	return out
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "deepseek-chat",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(b)
}

func apiError(message string) string {
	b, _ := json.Marshal(map[string]any{"error": map[string]any{"message": message, "type": "error"}})
	return string(b)
}

func newTestClient(baseURL string) *Client {
	return NewClient(Options{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Model:       "deepseek-chat",
		Temperature: 0.3,
		MaxRetries:  0,
		Topic:       "foundation for dry skin",
		Aliases:     map[string]string{"菁纯": "兰蔻菁纯"},
	})
}

var sample = threads.Serialized{
	RootID:     "r1",
	Text:       "[ROOT] alice: 菁纯 is great\n[REPLY 1] bob: +1",
	Engagement: 12,
	Size:       2,
}

func TestClient_Extract(t *testing.T) {
	fake := &fakeService{handler: func(string) (int, string) {
		return http.StatusOK, completion("```json\n" + `{"products":[{"product":"菁纯","sentiment":"Positive","reason":"great","features":["滋润"]}]}` + "\n```")
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	facts, err := newTestClient(server.URL).Extract(context.Background(), sample)
	require.NoError(t, err)
	require.Len(t, facts, 1)

	f := facts[0]
	assert.Equal(t, "兰蔻菁纯", f.ProductName)
	assert.Equal(t, 12, f.ThreadEngagement)
	assert.Equal(t, 2, f.ThreadSize)
	assert.Equal(t, "r1", f.RootID)
	assert.Equal(t, sample.Text+"...", f.Preview)
	assert.Equal(t, sample.Text, f.Conversation)

	require.Len(t, fake.requests, 1)
	body := fake.requests[0].Body
	assert.Equal(t, "deepseek-chat", body["model"])
	assert.InDelta(t, 0.3, body["temperature"], 1e-9)
	assert.NotContains(t, body, "response_format")
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	user := messages[1].(map[string]any)
	assert.Contains(t, user["content"], sample.Text)
}

func TestClient_StructuredOutputSendsSchema(t *testing.T) {
	fake := &fakeService{handler: func(string) (int, string) {
		return http.StatusOK, completion(`{"products":[]}`)
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	c := NewClient(Options{APIKey: "k", BaseURL: server.URL, Model: "gpt-4o", StructuredOutput: true})
	facts, err := c.Extract(context.Background(), sample)
	require.NoError(t, err)
	assert.Empty(t, facts)

	rf, ok := fake.requests[0].Body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", rf["type"])
}

func TestClient_EndpointFallback(t *testing.T) {
	fake := &fakeService{handler: func(path string) (int, string) {
		if strings.HasPrefix(path, "/v1/") {
			return http.StatusOK, completion(`[{"product":"DW","sentiment":"Negative","reason":"cakey","features":[]}]`)
		}
		return http.StatusNotFound, apiError("not found")
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	c := newTestClient(server.URL)
	facts, err := c.Extract(context.Background(), sample)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, []string{"/chat/completions", "/v1/chat/completions"}, fake.paths())

	// the configured base is untouched for the next call
	assert.Equal(t, server.URL+"/", c.BaseURL())
	_, err = c.Extract(context.Background(), sample)
	require.NoError(t, err)
	assert.Equal(t, "/chat/completions", fake.paths()[2])
}

func TestClient_EndpointFallbackFailsOnce(t *testing.T) {
	fake := &fakeService{handler: func(string) (int, string) {
		return http.StatusNotFound, apiError("not found")
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	_, err := newTestClient(server.URL).Extract(context.Background(), sample)
	require.Error(t, err)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.Len(t, fake.paths(), 2)
}

func TestClient_AuthErrorIsNotRetried(t *testing.T) {
	fake := &fakeService{handler: func(string) (int, string) {
		return http.StatusUnauthorized, apiError("Authentication Fails, Your api key is invalid")
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	_, err := newTestClient(server.URL).Extract(context.Background(), sample)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Len(t, fake.paths(), 1)
}

func TestClient_ServerErrorIsTransport(t *testing.T) {
	fake := &fakeService{handler: func(string) (int, string) {
		return http.StatusBadRequest, apiError("bad request")
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	_, err := newTestClient(server.URL).Extract(context.Background(), sample)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Len(t, fake.paths(), 1)
}

func TestClient_UnparsableContentIsParseError(t *testing.T) {
	fake := &fakeService{handler: func(string) (int, string) {
		return http.StatusOK, completion("no products here")
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	_, err := newTestClient(server.URL).Extract(context.Background(), sample)
	assert.True(t, IsParseError(err))
}

func TestClient_Ping(t *testing.T) {
	fake := &fakeService{handler: func(path string) (int, string) {
		if path == "/v1/chat/completions" {
			return http.StatusOK, completion("pong")
		}
		return http.StatusNotFound, apiError("not found")
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	c := newTestClient(server.URL)

	_, err := c.Ping(context.Background(), server.URL)
	require.Error(t, err)

	reply, err := c.Ping(context.Background(), AlternateBaseURL(server.URL))
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
	assert.Len(t, fake.paths(), 2)
}

func TestAlternateBaseURL(t *testing.T) {
	tests := map[string]string{
		"https://api.deepseek.com":     "https://api.deepseek.com/v1/",
		"https://api.deepseek.com/":    "https://api.deepseek.com/v1/",
		"https://gateway.example/v1":   "https://gateway.example/",
		"https://gateway.example/v1/":  "https://gateway.example/",
		"https://gateway.example/api/": "https://gateway.example/api/v1/",
	}
	for in, expected := range tests {
		assert.Equal(t, expected, AlternateBaseURL(in), in)
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short...", Preview("short"))

	long := strings.Repeat("好", 150)
	p := Preview(long)
	assert.Equal(t, strings.Repeat("好", 100)+"...", p)
}
