package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) *Config {
	return &Config{
		APIKey:      "test-key",
		APIURL:      url,
		Model:       "test-model",
		MaxTokens:   512,
		Temperature: 0.2,
		Timeout:     5,
	}
}

func TestNewClient_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("http://example.test")
	cfg.APIKey = ""

	_, err := NewClient(cfg)
	require.Error(t, err)
}

func TestComplete_ParsesChoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	got, status, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello", got)
}

func TestComplete_SurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"rate_limit"}}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, status, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, status)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "overloaded", apiErr.Message)
}

func TestComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, _, err = client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
}

func TestTimeoutFor_ScalesWithPayload(t *testing.T) {
	client, err := NewClient(testConfig("http://example.test"))
	require.NoError(t, err)

	small := client.TimeoutFor(10 * 1024)
	large := client.TimeoutFor(50 * 1024 * 1024)
	assert.Greater(t, large, small, "bigger payloads must get longer deadlines")
}
