package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qym-labs/qym/pkg/task"
)

func TestHTTPTask_Create(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var params map[string]any

		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "paris", params["input"])
		assert.Equal(t, "provider/m1", params["model"])

		_ = json.NewEncoder(w).Encode(map[string]any{"output": "Paris"})
	}))
	defer server.Close()

	remote := newHTTPTask(server.URL)

	output, err := remote.Create(context.Background(), map[string]any{
		"input": "paris",
		"model": "provider/m1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris", output)
}

func TestHTTPTask_BareResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode("plain answer")
	}))
	defer server.Close()

	remote := newHTTPTask(server.URL)

	output, err := remote.Create(context.Background(), map[string]any{"input": "q"})
	require.NoError(t, err)
	assert.Equal(t, "plain answer", output)
}

func TestHTTPTask_ErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	remote := newHTTPTask(server.URL)

	_, err := remote.Create(context.Background(), map[string]any{"input": "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestHTTPTask_ContextCancel(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	remote := newHTTPTask(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := remote.Create(ctx, map[string]any{"input": "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildTask_EchoDefault(t *testing.T) {
	t.Parallel()

	adapter, err := buildTask("")
	require.NoError(t, err)

	defer func() { _ = adapter.Close() }()

	output, err := adapter.Invoke(context.Background(), task.Call{Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", output)
}
