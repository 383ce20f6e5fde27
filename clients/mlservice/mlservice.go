// Package mlservice is a small JSON client for the companion classification service
// that predicts priority, flags fakes, categorizes and embeds issue text.
package mlservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the classification service
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client rooted at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Text is the title/description pair most endpoints take
type Text struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Candidate is an existing issue sent to FindDuplicates
type Candidate struct {
	ID          string `json:"_id"`
	ComplaintID string `json:"complaintId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Duplicate is one match returned by FindDuplicates, best first
type Duplicate struct {
	IssueID     string  `json:"issue_id,omitempty"`
	ComplaintID string  `json:"complaintId,omitempty"`
	Title       string  `json:"title,omitempty"`
	Score       float64 `json:"score"`
}

// Ref is the identifier to show for a match
func (d Duplicate) Ref() string {
	if d.IssueID != "" {
		return d.IssueID
	}
	return d.ComplaintID
}

// FakeResult is the fake-report detector's verdict
type FakeResult struct {
	IsFake     bool    `json:"is_fake"`
	Confidence float64 `json:"confidence"`
}

// ImageValidation is the verdict on whether an upload is relevant to its category
type ImageValidation struct {
	IsValid    bool    `json:"is_valid"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ImageTags are labels detected in a photo
type ImageTags struct {
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
}

// PredictPriority returns Low, Medium or High
func (c *Client) PredictPriority(ctx context.Context, t Text) (string, error) {
	var out struct {
		Priority string `json:"priority"`
	}
	if err := c.post(ctx, "/api/predict-priority/", t, &out); err != nil {
		return "", err
	}
	return out.Priority, nil
}

// DetectFake flags reports that look fabricated
func (c *Client) DetectFake(ctx context.Context, t Text) (FakeResult, error) {
	var out FakeResult
	err := c.post(ctx, "/api/detect-fake/", t, &out)
	return out, err
}

// Categorize guesses the issue category
func (c *Client) Categorize(ctx context.Context, t Text) (string, error) {
	var out struct {
		Category string `json:"category"`
	}
	if err := c.post(ctx, "/api/categorize/", t, &out); err != nil {
		return "", err
	}
	return out.Category, nil
}

// Embedding returns the text's vector representation
func (c *Client) Embedding(ctx context.Context, text string) ([]float64, error) {
	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := c.post(ctx, "/api/get-embedding/", map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

// FindDuplicates ranks existing issues by similarity to the candidate text
func (c *Client) FindDuplicates(ctx context.Context, t Text, existing []Candidate) ([]Duplicate, error) {
	if existing == nil {
		existing = []Candidate{}
	}
	body := struct {
		Candidate Text        `json:"candidate"`
		Existing  []Candidate `json:"existing_issues"`
	}{t, existing}

	var out struct {
		Duplicates []Duplicate `json:"duplicates"`
	}
	if err := c.post(ctx, "/api/find-duplicates/", body, &out); err != nil {
		return nil, err
	}
	if out.Duplicates == nil {
		out.Duplicates = []Duplicate{}
	}
	return out.Duplicates, nil
}

// ValidateImage checks an uploaded photo is relevant to the category
func (c *Client) ValidateImage(ctx context.Context, imageURL, category string) (ImageValidation, error) {
	if category == "" {
		category = "General"
	}
	var out ImageValidation
	err := c.post(ctx, "/api/validate-issue-image/", map[string]string{"imageUrl": imageURL, "category": category}, &out)
	return out, err
}

// AnalyzeImage returns tags describing a photo
func (c *Client) AnalyzeImage(ctx context.Context, imageURL string) (ImageTags, error) {
	var out ImageTags
	err := c.post(ctx, "/api/analyze-image/", map[string]string{"imageUrl": imageURL}, &out)
	return out, err
}

// GenerateCaption describes a photo in a sentence
func (c *Client) GenerateCaption(ctx context.Context, imageURL string) (string, error) {
	var out struct {
		Description string `json:"description"`
	}
	if err := c.post(ctx, "/api/generate-caption/", map[string]string{"imageUrl": imageURL}, &out); err != nil {
		return "", err
	}
	return out.Description, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("ml service url is not configured")
	}
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ml service %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ml service %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
