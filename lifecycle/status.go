package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/civix/civix-api/gamification"
	"github.com/civix/civix-api/models"
)

// EscalationVotes is the net vote count on a linked post that escalates a Medium issue
const EscalationVotes = 10

// Net issue votes needed to upgrade priority
const (
	upgradeToMediumVotes = 10
	upgradeToHighVotes   = 20
)

// NewComplaintID returns a human readable complaint code, e.g. CIV-1717243200000-1f3a9c2e
func NewComplaintID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("CIV-%d-%s", now.UnixMilli(), suffix)
}

// TrustDelta is the reporter trust change for an issue reaching status
func TrustDelta(status models.IssueStatus) int {
	switch status {
	case models.StatusResolved:
		return 5
	case models.StatusInProgress:
		return 2
	case models.StatusRejected:
		return -5
	}
	return 0
}

// transition moves issue to the given status, writing set and appending e in the
// same update. The write only applies while the stored status still matches the
// one the caller read, so concurrent moves cannot skip the graph.
func (s *Service) transition(ctx context.Context, issue *models.Issue, to models.IssueStatus, e models.TimelineEntry, set bson.M) (*models.Issue, error) {
	if !models.CanTransition(issue.Status, to) {
		return nil, badTransition(fmt.Sprintf("Cannot move issue from %s to %s", issue.Status, to))
	}
	if set == nil {
		set = bson.M{}
	}
	set["status"] = to
	set["updatedAt"] = s.Now()

	after := options.After
	updated, err := s.Issues.FindOneAndUpdate(ctx,
		bson.M{"_id": issue.ID, "status": issue.Status},
		bson.M{"$set": set, "$push": bson.M{"timeline": e}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, badTransition("Issue status changed while updating, reload and try again")
	}
	if err != nil {
		return nil, err
	}
	s.adjustLoad(ctx, issue.AssignedOfficer, issue.Status, to)
	return updated, nil
}

// UpdateStatus is the moderator status change. Side effects after the status
// write are best effort and never undo it.
func (s *Service) UpdateStatus(ctx context.Context, id primitive.ObjectID, status, remarks string) (*models.Issue, error) {
	to, ok := models.ParseIssueStatus(status)
	if !ok {
		return nil, validation(fmt.Sprintf("Unknown status %q", status))
	}
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	set := bson.M{}
	if issue.ComplaintID == "" {
		set["complaintId"] = NewComplaintID(s.Now())
	}
	if to == models.StatusEscalated {
		set["priority"] = models.PriorityHigh
	}
	msg := remarks
	if msg == "" {
		msg = "Status updated to " + string(to)
	}

	updated, err := s.transition(ctx, issue, to, s.entry(issue, to, msg, models.ActorModerator), set)
	if err != nil {
		return nil, err
	}

	if issue.Email != "" {
		// every qualifying update counts, re-applied statuses included
		if delta := TrustDelta(to); delta != 0 {
			if err := s.Users.AdjustTrustScore(ctx, bson.M{"email": issue.Email}, delta); err != nil {
				zap.S().Warnw("failed to update reporter trust score", "issueId", id.Hex(), "delta", delta, "error", err)
			}
		}
		// points are awarded once, on the move into Resolved
		if to == models.StatusResolved && issue.Status != to {
			s.award(ctx, bson.M{"email": issue.Email}, gamification.IssueResolved)
		}
	}
	s.mailStatus(updated, remarks)
	return updated, nil
}

func (s *Service) mailStatus(issue *models.Issue, remarks string) {
	if s.Mailer == nil || !issue.NotifyByEmail || issue.Email == "" {
		return
	}
	if err := s.Mailer.StatusUpdate(issue.Email, issue.Title, issue.ComplaintID, string(issue.Status), remarks); err != nil {
		zap.S().Warnw("failed to send status email", "complaintId", issue.ComplaintID, "error", err)
	}
}

func (s *Service) award(ctx context.Context, filter bson.M, a gamification.Action) {
	if _, err := gamification.Award(ctx, s.Users, filter, a, s.Now()); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		zap.S().Warnw("failed to award points", "action", a, "error", err)
	}
}

// ManualAssign is the moderator override that hands an issue to a specific officer.
// The previous officer's load is released.
func (s *Service) ManualAssign(ctx context.Context, issueID, officerID primitive.ObjectID) (*models.Issue, error) {
	issue, err := s.load(ctx, issueID)
	if err != nil {
		return nil, err
	}
	officer, err := s.Users.FindOne(ctx, bson.M{"_id": officerID, "role": models.RoleOfficer})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("Officer not found", err)
	}
	if err != nil {
		return nil, err
	}

	e := s.entry(issue, models.StatusAssigned, fmt.Sprintf("Manually assigned to Officer %s by Moderator", officer.Name), models.ActorModerator)
	updated, err := s.transition(ctx, issue, models.StatusAssigned, e, bson.M{"assignedOfficer": officer.ID})
	if err != nil {
		return nil, err
	}

	prev := issue.AssignedOfficer
	if prev == nil || *prev != officer.ID {
		if prev != nil && issue.IsOpen() {
			if err := s.Users.AdjustActiveTasks(ctx, *prev, -1); err != nil {
				zap.S().Warnw("failed to release previous officer", "officerId", prev.Hex(), "error", err)
			}
		}
		if err := s.Users.AdjustActiveTasks(ctx, officer.ID, 1); err != nil {
			zap.S().Warnw("failed to increment officer load", "officerId", officer.ID.Hex(), "error", err)
		}
	}

	s.notify(ctx, models.Notification{
		Recipient: officer.ID.Hex(),
		Title:     "New Task Assigned",
		Message:   fmt.Sprintf("Moderator assigned you: %q. Check your dashboard.", issue.Title),
		Type:      models.NotificationInfo,
		RelatedID: &issue.ID,
	})
	return updated, nil
}

// EscalatePriority raises a Medium issue to High once its linked post has enough
// net votes. It reports whether anything changed.
func (s *Service) EscalatePriority(ctx context.Context, issueID primitive.ObjectID, netVotes int) (bool, error) {
	if netVotes < EscalationVotes {
		return false, nil
	}
	issue, err := s.load(ctx, issueID)
	if err != nil {
		return false, err
	}
	if issue.Priority != models.PriorityMedium {
		return false, nil
	}

	e := s.entry(issue, issue.Status, fmt.Sprintf("Priority upgraded to High due to community votes (%d net votes).", netVotes), models.ActorSystem)
	res, err := s.Issues.UpdateOne(ctx,
		bson.M{"_id": issue.ID, "priority": models.PriorityMedium},
		bson.M{
			"$set":  bson.M{"priority": models.PriorityHigh, "updatedAt": s.Now()},
			"$inc":  bson.M{"priorityScore": models.PriorityHigh.Weight() - models.PriorityMedium.Weight()},
			"$push": bson.M{"timeline": e},
		},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// Vote toggles a user's up or down vote on an issue, recomputes the priority
// score and lets enough upvotes raise the priority.
func (s *Service) Vote(ctx context.Context, issueID, userID primitive.ObjectID, up bool) (*models.Issue, error) {
	issue, err := s.load(ctx, issueID)
	if err != nil {
		return nil, err
	}

	mine, other := "upvotes", "downvotes"
	voted := issue.Upvotes
	if !up {
		mine, other = other, mine
		voted = issue.Downvotes
	}
	var update bson.M
	if containsID(voted, userID) {
		update = bson.M{"$pull": bson.M{mine: userID}}
	} else {
		update = bson.M{"$addToSet": bson.M{mine: userID}, "$pull": bson.M{other: userID}}
	}

	after := options.After
	updated, err := s.Issues.FindOneAndUpdate(ctx, bson.M{"_id": issue.ID}, update,
		&options.FindOneAndUpdateOptions{ReturnDocument: &after})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("Issue not found", err)
	}
	if err != nil {
		return nil, err
	}

	net := updated.NetVotes()
	filter := bson.M{"_id": updated.ID}
	set := bson.M{"priorityScore": net + updated.Priority.Weight()}
	next := updated.Priority
	if up {
		switch {
		case net >= upgradeToHighVotes && updated.Priority == models.PriorityMedium:
			next = models.PriorityHigh
		case net >= upgradeToMediumVotes && updated.Priority == models.PriorityLow:
			next = models.PriorityMedium
		}
	}
	change := bson.M{"$set": set}
	if next != updated.Priority {
		filter["priority"] = updated.Priority
		set["priority"] = next
		set["priorityScore"] = net + next.Weight()
		e := s.entry(updated, updated.Status, fmt.Sprintf("Priority upgraded to %s due to community votes (%d net votes).", next, net), models.ActorSystem)
		change["$push"] = bson.M{"timeline": e}
		updated.Timeline = append(updated.Timeline, e)
		updated.Priority = next
	}
	if _, err := s.Issues.UpdateOne(ctx, filter, change); err != nil {
		return nil, err
	}
	updated.PriorityScore = set["priorityScore"].(int)
	return updated, nil
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
