package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kadirpekel/orchestra/internal/httpclient"
)

// InvokeResult is the outcome of one A2A dispatch.
type InvokeResult struct {
	Response string
	DurationMS int64
	Success bool
	ErrorMessage string
}

// Client invokes a remote agent's endpoint with the caller's verified
// bearer. It never forwards that bearer anywhere else.
type Client struct {
	http *httpclient.Client
}

// NewClient builds an A2A invocation client.
func NewClient(httpClient *httpclient.Client) *Client {
	return &Client{http: httpClient}
}

type invokeRequest struct {
	Query string `json:"query"`
	CorrelationID string `json:"correlation_id"`
}

type invokeResponse struct {
	Response string `json:"response"`
}

// Invoke POSTs subQuery to endpoint with the given bearer, bounded by
// ctx. Failures never panic or return an error from this function;
// instead they are reported via Success=false/ErrorMessage so a caller
// can record the attempt without leaking internal detail to the agent.
func (c *Client) Invoke(ctx context.Context, endpoint, bearer, subQuery, correlationID string) InvokeResult {
	start := time.Now()

	body, err := json.Marshal(invokeRequest{Query: subQuery, CorrelationID: correlationID})
	if err != nil {
		return fail(start, "internal error preparing request")
	}

	resp, err := c.http.PostJSON(ctx, endpoint, body, map[string]string{
			"Authorization": "Bearer " + bearer,
	})
	if err != nil {
		if ctx.Err() != nil {
			return fail(start, "timeout")
		}
		return fail(start, "agent unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(start, fmt.Sprintf("agent returned status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(start, "malformed response body")
	}

	var parsed invokeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fail(start, "malformed response body")
	}

	return InvokeResult{
		Response: parsed.Response,
		DurationMS: time.Since(start).Milliseconds(),
		Success: true,
	}
}

func fail(start time.Time, msg string) InvokeResult {
	return InvokeResult{
		DurationMS: time.Since(start).Milliseconds(),
		Success: false,
		ErrorMessage: msg,
	}
}
