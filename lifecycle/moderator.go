package lifecycle

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/civix/civix-api/clients/ai"
	"github.com/civix/civix-api/models"
)

const duplicateReferences = 50

// Analysis asks the assistant to triage an issue. When issueID is set the answer
// is cached on the issue and returned as-is on later calls.
func (s *Service) Analysis(ctx context.Context, issueID *primitive.ObjectID, title, description string) (*models.AIAnalysis, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(description) == "" {
		return nil, validation("Title and Description are required")
	}
	if issueID != nil {
		issue, err := s.load(ctx, *issueID)
		if err != nil {
			return nil, err
		}
		if issue.AIAnalysis != nil {
			return issue.AIAnalysis, nil
		}
	}
	if s.Assistant == nil {
		return nil, upstream("AI Service Unavailable", errors.New("assistant not configured"))
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	res, err := s.Assistant.AnalyzeIssue(cctx, title, description)
	if err != nil {
		return nil, upstream("AI Service Unavailable", err)
	}
	out := &models.AIAnalysis{
		Priority:       res.Priority,
		IsFake:         res.IsFake,
		FakeConfidence: res.FakeConfidence,
		Category:       res.Category,
		Reasoning:      res.Reasoning,
		AnalyzedAt:     s.Now(),
	}

	if issueID != nil {
		_, err := s.Issues.UpdateOne(ctx, bson.M{"_id": *issueID}, bson.M{"$set": bson.M{
			"aiAnalysis": out,
			"category":   out.Category,
			"isAnalyzed": true,
			"updatedAt":  s.Now(),
		}})
		if err != nil {
			zap.S().Warnw("failed to cache issue analysis", "issueId", issueID.Hex(), "error", err)
		}
	}
	return out, nil
}

// SemanticDuplicates asks the assistant whether an issue repeats one of the most
// recent reports. Results are cached like Analysis.
func (s *Service) SemanticDuplicates(ctx context.Context, issueID *primitive.ObjectID, title, description string) (*models.DuplicateAnalysis, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(description) == "" {
		return nil, validation("Title and Description are required")
	}
	exclude := bson.M{}
	if issueID != nil {
		issue, err := s.load(ctx, *issueID)
		if err != nil {
			return nil, err
		}
		if issue.DuplicateAnalysis != nil {
			return issue.DuplicateAnalysis, nil
		}
		exclude["_id"] = bson.M{"$ne": *issueID}
	}
	if s.Assistant == nil {
		return nil, upstream("AI Service Unavailable", errors.New("assistant not configured"))
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(duplicateReferences).
		SetProjection(bson.M{"title": 1, "complaintId": 1})
	recent, err := s.Issues.Find(ctx, exclude, opts)
	if err != nil {
		return nil, err
	}
	refs := make([]ai.Reference, 0, len(recent))
	for _, r := range recent {
		ref := r.ComplaintID
		if ref == "" {
			ref = r.ID.Hex()
		}
		refs = append(refs, ai.Reference{ID: ref, Title: r.Title})
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	res, err := s.Assistant.DetectDuplicates(cctx, title, description, refs)
	if err != nil {
		return nil, upstream("AI Service Unavailable", err)
	}
	out := &models.DuplicateAnalysis{
		IsDuplicate: res.IsDuplicate,
		SimilarID:   res.SimilarID,
		Confidence:  res.Confidence,
		Reasoning:   res.Reasoning,
		AnalyzedAt:  s.Now(),
	}

	if issueID != nil {
		_, err := s.Issues.UpdateOne(ctx, bson.M{"_id": *issueID}, bson.M{"$set": bson.M{"duplicateAnalysis": out, "updatedAt": s.Now()}})
		if err != nil {
			zap.S().Warnw("failed to cache duplicate analysis", "issueId", issueID.Hex(), "error", err)
		}
	}
	return out, nil
}
