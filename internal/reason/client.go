package reason

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/redlinehq/redline/internal/fault"
)

const messagesURL = "https://api.anthropic.com/v1/messages"

// Client calls the Anthropic Messages API for structure analysis and conflict
// detection. A client-side rate limiter keeps fan-out below the account's
// throttling threshold.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a reasoning client. rps bounds requests per second across
// all concurrent chunk pipelines.
func NewClient(apiKey, model string, rps float64) *Client {
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnalyzeStructure runs the structure pass for one chunk and returns the
// validated query list.
func (c *Client) AnalyzeStructure(ctx context.Context, req StructureRequest) (*StructureResult, error) {
	text, err := c.infer(ctx, BuildStructurePrompt(req))
	if err != nil {
		return nil, err
	}
	var result StructureResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, &fault.ValidationError{
			Stage:  "structure",
			Detail: fmt.Sprintf("parse json: %v (raw: %s)", err, truncate(text, 200)),
		}
	}
	if err := ValidateStructure(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DetectConflicts runs the detection pass for one chunk and returns the
// validated conflict list. Zero conflicts is a valid outcome.
func (c *Client) DetectConflicts(ctx context.Context, req ConflictRequest) (*ConflictResult, error) {
	text, err := c.infer(ctx, BuildConflictPrompt(req))
	if err != nil {
		return nil, err
	}
	var result ConflictResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, &fault.ValidationError{
			Stage:  "detect",
			Detail: fmt.Sprintf("parse json: %v (raw: %s)", err, truncate(text, 200)),
		}
	}
	if err := ValidateConflicts(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// infer sends one prompt and returns the raw text of the first content block.
func (c *Client) infer(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &fault.TransientError{Cause: err}
	}

	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: 8192,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &fault.TransientError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &fault.TransientError{Cause: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &fault.TransientError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reasoning api status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("reasoning error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response from reasoning service")
	}

	return stripCodeBlock(apiResp.Content[0].Text), nil
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
