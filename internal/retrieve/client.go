// Package retrieve talks to the reference-requirements retrieval service and
// fans per-chunk query sets out against it with bounded concurrency.
package retrieve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redlinehq/redline/internal/fault"
)

// Hit is one retrieved reference passage, tagged with the query that found it.
type Hit struct {
	QueryID  string         `json:"query_id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Client is the HTTP client for the retrieval service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type queryRequest struct {
	Text       string `json:"text"`
	MaxResults int    `json:"max_results"`
}

type queryResponse struct {
	Hits []Hit `json:"hits"`
}

// Query runs a single retrieval query. Every failure is transient: the
// retrieval service owns no state we could have corrupted, so a retry is
// always safe.
func (c *Client) Query(ctx context.Context, text string, maxResults int) ([]Hit, error) {
	body, err := json.Marshal(queryRequest{Text: text, MaxResults: maxResults})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &fault.TransientError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &fault.TransientError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, &fault.TransientError{Cause: fmt.Errorf("decode hits: %w", err)}
	}
	return qr.Hits, nil
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
