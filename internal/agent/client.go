package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// doneMarker terminates an SSE completion stream.
	doneMarker = "[DONE]"

	// maxStreamLineSize bounds a single SSE line. Individual deltas are
	// small; this guards against a misbehaving endpoint.
	maxStreamLineSize = 1024 * 1024

	// maxErrorBodySize bounds how much of an error response is read for
	// the failure message.
	maxErrorBodySize = 4096
)

// client issues streaming requests against one OpenAI-compatible
// chat-completions endpoint.
type client struct {
	apiBase        string
	apiKey         string
	model          string
	temperature    float64
	httpClient     *http.Client
	maxRetries     int
	retryBaseDelay time.Duration
	logger         Logger
}

// turnResult is one completed model response: the accumulated reply
// content and any tool calls the model requested.
type turnResult struct {
	content   string
	toolCalls []toolCall
}

// httpError is a non-200 response from the completions endpoint.
type httpError struct {
	status int
	detail string
}

func (e *httpError) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("agent: API returned status %d", e.status)
	}
	return fmt.Sprintf("agent: API returned status %d: %s", e.status, e.detail)
}

// retryable reports whether the status indicates a transient condition:
// rate limiting or a server-side failure.
func (e *httpError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// stream runs one streaming chat-completions request. Content deltas are
// forwarded to onDelta as they arrive; the return value carries the
// accumulated content and any requested tool calls.
//
// Request initiation retries on transport errors and retryable status
// codes with exponential backoff. A failure after the stream has begun
// is terminal: deltas already forwarded cannot be unsent.
func (c *client) stream(ctx context.Context, msgs []chatMessage, tools []toolDefinition, onDelta func(string) error) (*turnResult, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Tools:       tools,
		Temperature: c.temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: marshal request: %w", err)
	}

	url := c.apiBase + "/chat/completions"

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: base * 2^(attempt-1).
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Warn("retrying chat request",
				"attempt", attempt+1,
				"max_attempts", c.maxRetries+1,
				"delay", delay.String())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.open(ctx, url, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var herr *httpError
			if errors.As(err, &herr) && !herr.retryable() {
				return nil, err
			}
			lastErr = err
			continue
		}

		result, err := c.consume(resp.Body, onDelta)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	return nil, fmt.Errorf("agent: chat request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// open issues the request and verifies the response status. The caller
// owns resp.Body on success.
func (c *client) open(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent: chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := readErrorBody(resp.Body)
		resp.Body.Close()
		return nil, &httpError{status: resp.StatusCode, detail: detail}
	}
	return resp, nil
}

// consume reads the SSE stream until the [DONE] marker or EOF, forwarding
// content deltas and assembling tool-call deltas into complete calls.
func (c *client) consume(body io.Reader, onDelta func(string) error) (*turnResult, error) {
	var content strings.Builder
	var calls callAssembler

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == doneMarker {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn("skipping malformed stream chunk", "error", err)
			continue
		}
		if chunk.Error != nil {
			return nil, fmt.Errorf("agent: API error (type=%s): %s", chunk.Error.Type, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if err := onDelta(delta.Content); err != nil {
				return nil, err
			}
		}
		calls.extend(delta.ToolCalls)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("agent: read stream: %w", err)
	}

	return &turnResult{content: content.String(), toolCalls: calls.finish()}, nil
}

// readErrorBody extracts a short failure description from an error
// response, preferring the structured message when the body parses.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var envelope struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// callAssembler merges streamed tool-call deltas into complete calls,
// positioned by the stream index.
type callAssembler struct {
	calls []toolCall
}

func (a *callAssembler) extend(deltas []toolCallDelta) {
	for _, d := range deltas {
		if d.Index < 0 {
			continue
		}
		for len(a.calls) <= d.Index {
			a.calls = append(a.calls, toolCall{Type: "function"})
		}
		call := &a.calls[d.Index]
		if d.ID != "" {
			call.ID = d.ID
		}
		if d.Type != "" {
			call.Type = d.Type
		}
		if d.Function.Name != "" {
			call.Function.Name = d.Function.Name
		}
		call.Function.Arguments += d.Function.Arguments
	}
}

// finish returns the assembled calls in index order, nil when the model
// requested none.
func (a *callAssembler) finish() []toolCall {
	return a.calls
}
