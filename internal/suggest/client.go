package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Suggestion is one label hypothesis from the classifier.
type Suggestion struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Client calls the label-suggester HTTP API. The suggester is an optional
// collaborator: callers must treat any failure as "no hint", never as a
// reason to reject the report.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client, or nil when no base URL is configured so
// callers can feature-gate on the client itself.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type suggestRequest struct {
	Text string `json:"text"`
}

type suggestResponse struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// Suggest classifies free text and returns label hypotheses ordered by the
// service's own confidence ranking.
func (c *Client) Suggest(ctx context.Context, text string) ([]Suggestion, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("suggest text required")
	}
	body, err := json.Marshal(suggestRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/suggest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggest: status %d", resp.StatusCode)
	}

	var payload suggestResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Suggestions, nil
}

// Best returns the highest-confidence label, or empty when there is none.
func Best(suggestions []Suggestion) string {
	best := ""
	bestConfidence := 0.0
	for _, s := range suggestions {
		if s.Label != "" && s.Confidence >= bestConfidence {
			best = s.Label
			bestConfidence = s.Confidence
		}
	}
	return best
}
