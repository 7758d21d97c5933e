// Package searchclient calls the task search endpoint and folds every
// failure into a single user-facing error.
package searchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/taskpilot/internal/search"
)

// Message is the user-facing text of every search failure.
const Message = "Failed to perform smart search"

// Error is a failed search. Error() is safe to show to users; the cause is
// kept for logs and errors.Is/As.
type Error struct {
	Cause error
}

func (e *Error) Error() string { return Message }

func (e *Error) Unwrap() error { return e.Cause }

// Result holds either Data or Err, never both. Data is non-nil whenever Err
// is nil.
type Result struct {
	Data []search.SearchResult
	Err  error
}

// Empty reports a successful search that matched nothing.
func (r Result) Empty() bool {
	return r.Err == nil && len(r.Data) == 0
}

// Client talks to a taskpilot server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client for the server at baseURL, authenticating with the
// session token. A nil httpClient gets a 30s timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Results *[]search.SearchResult `json:"results"`
}

// Search runs one search. It makes a single attempt.
func (c *Client) Search(ctx context.Context, query string) Result {
	results, err := c.search(ctx, query)
	if err != nil {
		return Result{Err: &Error{Cause: err}}
	}
	if results == nil {
		results = []search.SearchResult{}
	}
	return Result{Data: results}
}

func (c *Client) search(ctx context.Context, query string) ([]search.SearchResult, error) {
	body, err := json.Marshal(searchRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error.Message != "" {
			return nil, fmt.Errorf("search failed with status %d: %s (%s)", resp.StatusCode, e.Error.Message, e.Error.Type)
		}
		return nil, fmt.Errorf("search failed with status %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if sr.Results == nil {
		return nil, fmt.Errorf("decoding search response: missing results")
	}
	return *sr.Results, nil
}
