// Package ai wraps the Anthropic messages API for the handful of judgement calls the
// service makes: feedback sentiment, moderator triage, semantic duplicates and checking
// that a photo matches its complaint.
package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when no model is configured
const DefaultModel = "claude-3-5-haiku-latest"

const defaultMaxTokens = 1024

// Sentiment labels returned by Sentiment
const (
	LabelPositive = "Positive"
	LabelNeutral  = "Neutral"
	LabelNegative = "Negative"
	LabelToxic    = "Toxic"
)

// Categories the moderator analysis may pick from
var Categories = []string{"Sanitation", "Roads", "Electricity", "Police", "Fire", "Transport", "Other"}

type messageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Client talks to the model
type Client struct {
	messages  messageCreator
	model     string
	maxTokens int64
}

// NewClient builds a Client for the given API key. An empty model falls back to DefaultModel.
func NewClient(apiKey, model string) *Client {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newClient(&c.Messages, model)
}

func newClient(m messageCreator, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{messages: m, model: model, maxTokens: defaultMaxTokens}
}

// SentimentResult is the model's reading of one piece of feedback
type SentimentResult struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// Analysis is the moderator triage verdict for an issue
type Analysis struct {
	Priority       string  `json:"priority"`
	IsFake         bool    `json:"isFake"`
	FakeConfidence float64 `json:"fakeConfidence"`
	Category       string  `json:"category"`
	Reasoning      string  `json:"reasoning"`
}

// Reference is an existing issue offered to DetectDuplicates for comparison
type Reference struct {
	ID    string
	Title string
}

// DuplicateResult is the outcome of DetectDuplicates
type DuplicateResult struct {
	IsDuplicate bool    `json:"isDuplicate"`
	SimilarID   string  `json:"similarId"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// ImageMatch says whether an uploaded photo fits the complaint text
type ImageMatch struct {
	Matches bool   `json:"matches"`
	Reason  string `json:"reason"`
}

// Sentiment scores feedback text between -1 and 1
func (c *Client) Sentiment(ctx context.Context, text string) (SentimentResult, error) {
	prompt := fmt.Sprintf(`Analyze the sentiment of this feedback for a civic issue resolution.
Return ONLY a JSON object: {"score": number (-1 to 1), "label": "Positive"|"Neutral"|"Negative"|"Toxic"}.
Feedback: %q`, text)

	var out SentimentResult
	if err := c.ask(ctx, prompt, nil, &out); err != nil {
		return SentimentResult{}, err
	}
	out.Score = clamp(out.Score, -1, 1)
	switch out.Label {
	case LabelPositive, LabelNeutral, LabelNegative, LabelToxic:
	default:
		out.Label = labelFor(out.Score)
	}
	return out, nil
}

// AnalyzeIssue asks for a priority, fake check and category
func (c *Client) AnalyzeIssue(ctx context.Context, title, description string) (Analysis, error) {
	prompt := fmt.Sprintf(`You are triaging a civic complaint for a city moderator.
Title: %q
Description: %q

Return ONLY a JSON object:
{"priority": "High"|"Medium"|"Low", "isFake": boolean, "fakeConfidence": number (0 to 1),
 "category": one of [%s], "reasoning": short explanation}`, title, description, strings.Join(Categories, ", "))

	var out Analysis
	if err := c.ask(ctx, prompt, nil, &out); err != nil {
		return Analysis{}, err
	}
	out.FakeConfidence = clamp(out.FakeConfidence, 0, 1)
	if !validCategory(out.Category) {
		out.Category = "Other"
	}
	return out, nil
}

// DetectDuplicates compares an issue against existing ones
func (c *Client) DetectDuplicates(ctx context.Context, title, description string, refs []Reference) (DuplicateResult, error) {
	if len(refs) == 0 {
		return DuplicateResult{}, nil
	}
	var b strings.Builder
	for _, r := range refs {
		fmt.Fprintf(&b, "- [%s] %s\n", r.ID, r.Title)
	}
	prompt := fmt.Sprintf(`Decide whether a new civic complaint duplicates one of the existing complaints.
New complaint title: %q
New complaint description: %q

Existing complaints:
%s
Return ONLY a JSON object:
{"isDuplicate": boolean, "similarId": the bracketed id of the closest complaint or "", "confidence": number (0 to 1), "reasoning": short explanation}`,
		title, description, b.String())

	var out DuplicateResult
	if err := c.ask(ctx, prompt, nil, &out); err != nil {
		return DuplicateResult{}, err
	}
	out.Confidence = clamp(out.Confidence, 0, 1)
	if !out.IsDuplicate {
		out.SimilarID = ""
	}
	return out, nil
}

// MatchImage checks an uploaded photo against the complaint's title and description
func (c *Client) MatchImage(ctx context.Context, title, description string, image []byte, mimeType string) (ImageMatch, error) {
	if len(image) == 0 {
		return ImageMatch{Matches: true}, nil
	}
	prompt := fmt.Sprintf(`Does this image plausibly show the civic problem described below?
Title: %q
Description: %q
Return ONLY a JSON object: {"matches": boolean, "reason": short explanation}`, title, description)

	img := anthropic.NewImageBlockBase64(mimeType, base64.StdEncoding.EncodeToString(image))
	var out ImageMatch
	if err := c.ask(ctx, prompt, &img, &out); err != nil {
		return ImageMatch{}, err
	}
	return out, nil
}

// SupportReply answers a citizen's question as the in-app support assistant
func (c *Client) SupportReply(ctx context.Context, message string) (string, error) {
	prompt := fmt.Sprintf(`You are CiviBot, the support assistant for the Civix civic issue platform.
Be friendly and brief (under 50 words). Explain app features such as reporting and voting when asked.
If the user wants an issue status but gave no id, ask for their Civix issue id.
If the user is upset, apologize and offer to connect them to a human.
User message: %q

Return ONLY a JSON object: {"reply": string}`, message)

	var out struct {
		Reply string `json:"reply"`
	}
	if err := c.ask(ctx, prompt, nil, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

func (c *Client) ask(ctx context.Context, prompt string, image *anthropic.ContentBlockParamUnion, v interface{}) error {
	blocks := []anthropic.ContentBlockParamUnion{}
	if image != nil {
		blocks = append(blocks, *image)
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	resp, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		return fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return decodeJSON(text, v)
}

func labelFor(score float64) string {
	switch {
	case score > 0.2:
		return LabelPositive
	case score < -0.2:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

func validCategory(c string) bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
