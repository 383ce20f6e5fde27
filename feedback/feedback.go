// Package feedback scores citizen feedback at fixed checkpoints after an issue
// is resolved and turns it into officer trust score changes.
package feedback

import (
	"math"
	"time"

	"github.com/civix/civix-api/models"
)

// MinSentimentCommentLength is the shortest comment worth sending for sentiment analysis
const MinSentimentCommentLength = 6

// Checkpoint is one fixed elapsed-time threshold after resolution
type Checkpoint struct {
	Key        string
	Label      string
	After      time.Duration
	Multiplier float64
}

// Checkpoints in the order they come due
var Checkpoints = []Checkpoint{
	{Key: "h24", Label: "24h", After: 24 * time.Hour, Multiplier: 1.0},
	{Key: "d3", Label: "3d", After: 3 * 24 * time.Hour, Multiplier: 1.0},
	{Key: "w1", Label: "1w", After: 7 * 24 * time.Hour, Multiplier: 1.2},
	{Key: "m1", Label: "1m", After: 30 * 24 * time.Hour, Multiplier: 1.5},
	{Key: "m3", Label: "3m", After: 90 * 24 * time.Hour, Multiplier: 2.0},
}

// Done reports whether the checkpoint flag is already set
func (c Checkpoint) Done(checks models.FeedbackChecks) bool {
	switch c.Key {
	case "h24":
		return checks.H24
	case "d3":
		return checks.D3
	case "w1":
		return checks.W1
	case "m1":
		return checks.M1
	case "m3":
		return checks.M3
	}
	return true
}

// Mark sets the checkpoint flag. Flags are never cleared.
func (c Checkpoint) Mark(checks *models.FeedbackChecks) {
	switch c.Key {
	case "h24":
		checks.H24 = true
	case "d3":
		checks.D3 = true
	case "w1":
		checks.W1 = true
	case "m1":
		checks.M1 = true
	case "m3":
		checks.M3 = true
	}
}

// Field is the document path of the checkpoint flag
func (c Checkpoint) Field() string {
	return "feedbackTimeline.checks." + c.Key
}

// Due returns the checkpoints whose threshold has passed and whose flag is still unset
func Due(checks models.FeedbackChecks, elapsed time.Duration) []Checkpoint {
	var due []Checkpoint
	for _, c := range Checkpoints {
		if elapsed >= c.After && !c.Done(checks) {
			due = append(due, c)
		}
	}
	return due
}

// AllDone reports whether every checkpoint has run
func AllDone(checks models.FeedbackChecks) bool {
	return checks.H24 && checks.D3 && checks.W1 && checks.M1 && checks.M3
}

// NeedsSentiment reports whether an entry still has to be sent for sentiment analysis
func NeedsSentiment(f models.Feedback) bool {
	return f.SentimentScore == nil && len([]rune(f.Comment)) >= MinSentimentCommentLength
}

// MeanStars is the average rating across all entries
func MeanStars(feedbacks []models.Feedback) float64 {
	if len(feedbacks) == 0 {
		return 0
	}
	total := 0
	for _, f := range feedbacks {
		total += f.Rating
	}
	return float64(total) / float64(len(feedbacks))
}

// MeanSentiment is the average sentiment across scored entries, or 0 when none are scored
func MeanSentiment(feedbacks []models.Feedback) float64 {
	sum, n := 0.0, 0
	for _, f := range feedbacks {
		if f.SentimentScore != nil {
			sum += *f.SentimentScore
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Class is the verdict for a checkpoint
type Class string

// Checkpoint verdicts
const (
	Excellent Class = "Excellent"
	Poor      Class = "Poor"
	Neutral   Class = "Neutral"
)

// Classify applies the star and sentiment thresholds
func Classify(avgStars, avgSentiment float64) Class {
	switch {
	case avgStars >= 4.5 || (avgStars >= 4 && avgSentiment > 0.5):
		return Excellent
	case avgStars <= 2.5 || (avgStars <= 3 && avgSentiment < -0.5):
		return Poor
	}
	return Neutral
}

// Result is the outcome of scoring one checkpoint
type Result struct {
	Checkpoint   Checkpoint
	AvgStars     float64
	AvgSentiment float64
	Class        Class
	Change       float64
}

// Delta is the whole-point trust change, rounded half up
func (r Result) Delta() int {
	return int(math.Floor(r.Change + 0.5))
}

// Alert reports whether the change is large enough to tell an admin about
func (r Result) Alert() bool {
	return r.Change <= -5
}

// Evaluate scores the feedback collected so far for a checkpoint. Sentiment must
// already be filled in on the entries that need it.
func Evaluate(feedbacks []models.Feedback, cp Checkpoint) Result {
	r := Result{
		Checkpoint:   cp,
		AvgStars:     MeanStars(feedbacks),
		AvgSentiment: MeanSentiment(feedbacks),
	}
	r.Class = Classify(r.AvgStars, r.AvgSentiment)
	switch r.Class {
	case Excellent:
		r.Change = 2 * cp.Multiplier
	case Poor:
		r.Change = -5 * cp.Multiplier
	}
	return r
}
