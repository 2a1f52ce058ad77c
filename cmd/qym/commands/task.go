package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpTaskTimeout bounds a single task endpoint round trip. The
// evaluator's per-item timeout still applies on top of it.
const httpTaskTimeout = 120 * time.Second

// maxErrorBody caps how much of an error response body ends up in the
// returned error.
const maxErrorBody = 512

// httpTask is the remote task shape: call parameters are POSTed to an
// HTTP endpoint as JSON and the response body is the task output.
type httpTask struct {
	endpoint string
	client   *http.Client
}

func newHTTPTask(endpoint string) *httpTask {
	return &httpTask{
		endpoint: endpoint,
		client:   &http.Client{Timeout: httpTaskTimeout},
	}
}

// Create satisfies the client task shape. A JSON object response with
// an "output" key unwraps to that value; any other body is returned as
// decoded.
func (t *httpTask) Create(ctx context.Context, params map[string]any) (any, error) {
	body, marshalErr := json.Marshal(params)
	if marshalErr != nil {
		return nil, fmt.Errorf("encode task request: %w", marshalErr)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if reqErr != nil {
		return nil, fmt.Errorf("build task request: %w", reqErr)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, doErr := t.client.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("call task endpoint: %w", doErr)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, fmt.Errorf("task endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var decoded any

	decodeErr := json.NewDecoder(resp.Body).Decode(&decoded)
	if decodeErr != nil {
		return nil, fmt.Errorf("decode task response: %w", decodeErr)
	}

	if mapping, ok := decoded.(map[string]any); ok {
		if output, found := mapping["output"]; found {
			return output, nil
		}
	}

	return decoded, nil
}
