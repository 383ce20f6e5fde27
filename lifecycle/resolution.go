package lifecycle

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/civix/civix-api/clients/ai"
	"github.com/civix/civix-api/clients/cloudstore"
	"github.com/civix/civix-api/feedback"
	"github.com/civix/civix-api/models"
)

// SubmitResolution records an officer's proof of work and sends the issue for review
func (s *Service) SubmitResolution(ctx context.Context, id primitive.ObjectID, notes string, proof *File) (*models.Issue, error) {
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(issue.Status, models.StatusPendingReview) {
		return nil, badTransition(fmt.Sprintf("Cannot submit a resolution for an issue that is %s", issue.Status))
	}

	now := s.Now()
	set := bson.M{
		"resolution.officerNotes": notes,
		"resolution.submittedAt":  now,
	}
	if url := s.upload(ctx, proof, cloudstore.FolderResolutions); url != "" {
		set["resolution.proofUrl"] = url
	}
	e := s.entry(issue, models.StatusPendingReview, "Officer submitted resolution proof. Waiting for Moderator approval.", models.ActorOfficer)
	return s.transition(ctx, issue, models.StatusPendingReview, e, set)
}

// ReviewResolution is the moderator verdict on a submitted resolution. Approval
// resolves the issue; rejection sends it back to the officer.
func (s *Service) ReviewResolution(ctx context.Context, id primitive.ObjectID, approve bool, remarks, reviewer string, reviewerID *primitive.ObjectID) (*models.Issue, error) {
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue.Status != models.StatusPendingReview {
		return nil, badTransition("Issue has no resolution waiting for review")
	}

	by := models.ActorModerator
	if reviewer != "" {
		by = fmt.Sprintf("%s (%s)", models.ActorModerator, reviewer)
	}
	to := models.StatusInProgress
	msg := "Moderator rejected resolution: " + remarks
	if approve {
		to = models.StatusResolved
		msg = "Moderator approved resolution. Waiting for User acknowledgement."
	}

	set := bson.M{"resolution.moderatorApproval": models.ModeratorApproval{
		IsApproved: approve,
		ReviewedBy: reviewerID,
		ReviewedAt: s.Now(),
		Remarks:    remarks,
	}}
	updated, err := s.transition(ctx, issue, to, s.entry(issue, to, msg, by), set)
	if err != nil {
		return nil, err
	}
	s.mailStatus(updated, remarks)
	return updated, nil
}

// AcknowledgeResolution is the reporter's answer to an approved resolution:
// Confirmed closes the case, Disputed reopens it.
func (s *Service) AcknowledgeResolution(ctx context.Context, id primitive.ObjectID, status, remarks string) (*models.Issue, error) {
	var to models.IssueStatus
	var msg string
	switch status {
	case models.AcknowledgeConfirmed:
		to, msg = models.StatusClosed, "User confirmed resolution. Case Closed."
	case models.AcknowledgeDisputed:
		to, msg = models.StatusDispute, "User disputed resolution: "+remarks
	default:
		return nil, validation("Status must be Confirmed or Disputed")
	}

	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue.Status != models.StatusResolved {
		return nil, badTransition("Only resolved issues can be acknowledged")
	}

	set := bson.M{"resolution.userAcknowledgement": models.UserAcknowledgement{
		Status:         status,
		AcknowledgedAt: s.Now(),
		Remarks:        remarks,
	}}
	return s.transition(ctx, issue, to, s.entry(issue, to, msg, models.ActorUser), set)
}

// FeedbackInput is one citizen rating
type FeedbackInput struct {
	Rating  int
	Comment string
	GivenBy *primitive.ObjectID
	Role    string
}

// AddFeedback attaches a rating to a resolved or closed issue. Comments long enough
// to carry meaning are scored straight away; the periodic job retries any that fail.
func (s *Service) AddFeedback(ctx context.Context, id primitive.ObjectID, in FeedbackInput) (*ai.SentimentResult, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, validation("Rating must be between 1 and 5")
	}
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue.Status != models.StatusResolved && issue.Status != models.StatusClosed {
		return nil, validation("Can only add feedback to Resolved/Closed issues.")
	}

	role := in.Role
	if role == "" {
		role = string(models.RoleUser)
	}
	fb := models.Feedback{
		Rating:    in.Rating,
		Comment:   in.Comment,
		GivenBy:   in.GivenBy,
		Role:      role,
		CreatedAt: s.Now(),
	}

	analysis := &ai.SentimentResult{Score: 0, Label: ai.LabelNeutral}
	if feedback.NeedsSentiment(fb) && s.Assistant != nil {
		cctx, cancel := s.callCtx(ctx)
		res, err := s.Assistant.Sentiment(cctx, in.Comment)
		cancel()
		if err != nil {
			zap.S().Warnw("sentiment analysis failed, leaving feedback unscored", "issueId", id.Hex(), "error", err)
		} else {
			score := res.Score
			fb.SentimentScore = &score
			fb.SentimentLabel = res.Label
			analysis = &res
		}
	}

	_, err = s.Issues.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$push": bson.M{"feedbacks": fb},
		"$set":  bson.M{"updatedAt": s.Now()},
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}
