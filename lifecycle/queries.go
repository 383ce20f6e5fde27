package lifecycle

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/civix/civix-api/assignment"
	"github.com/civix/civix-api/clients/mlservice"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

// Get returns one issue
func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	return s.load(ctx, id)
}

// ListFilter narrows List
type ListFilter struct {
	Status   string
	Category string
	Priority string
	Limit    int
	Page     int
}

// List returns issues newest first
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.Issue, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.Priority != "" {
		filter["priority"] = f.Priority
	}
	issues, err := s.Issues.Find(ctx, filter, databases.Paginate(f.Limit, f.Page))
	if err != nil {
		return nil, err
	}
	if issues == nil {
		issues = []models.Issue{}
	}
	return issues, nil
}

// MyIssues lists the issues filed under an email address, ignoring case
func (s *Service) MyIssues(ctx context.Context, email string) ([]models.Issue, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, validation("Email is required")
	}
	filter := bson.M{"email": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(email) + "$", Options: "i"}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	issues, err := s.Issues.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	if issues == nil {
		issues = []models.Issue{}
	}
	return issues, nil
}

// Changes is a partial edit of an issue's descriptive fields
type Changes struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Phone       *string `json:"phone"`
	Location    *string `json:"location"`
	Category    *string `json:"category"`
	IssueType   *string `json:"issueType"`
	IsPrivate   *bool   `json:"isPrivate"`
}

func (c Changes) set() bson.M {
	set := bson.M{}
	add := func(key string, v *string) {
		if v != nil {
			set[key] = *v
		}
	}
	add("title", c.Title)
	add("description", c.Description)
	add("phone", c.Phone)
	add("location", c.Location)
	add("category", c.Category)
	add("issueType", c.IssueType)
	if c.IsPrivate != nil {
		set["isPrivate"] = *c.IsPrivate
	}
	return set
}

// UpdateIssue applies a partial edit and emails the reporter when they asked for updates
func (s *Service) UpdateIssue(ctx context.Context, id primitive.ObjectID, c Changes) (*models.Issue, error) {
	set := c.set()
	if len(set) == 0 {
		return nil, validation("Nothing to update")
	}
	if c.Title != nil && strings.TrimSpace(*c.Title) == "" {
		return nil, validation("Title cannot be empty")
	}
	set["updatedAt"] = s.Now()

	after := options.After
	updated, err := s.Issues.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("Issue not found", err)
	}
	if err != nil {
		return nil, err
	}

	if s.Mailer != nil && updated.NotifyByEmail && updated.Email != "" {
		if err := s.Mailer.IssueUpdated(updated.Email, updated.Title, updated.ComplaintID); err != nil {
			zap.S().Warnw("failed to send issue updated email", "complaintId", updated.ComplaintID, "error", err)
		}
	}
	return updated, nil
}

// DeleteIssue removes an issue and releases its officer's load
func (s *Service) DeleteIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	n, err := s.Issues.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, notFound("Issue not found", nil)
	}
	if issue.IsOpen() {
		s.adjustLoad(ctx, issue.AssignedOfficer, issue.Status, models.StatusClosed)
	}
	return issue, nil
}

// FindDuplicates asks the classifier for issues resembling this one
func (s *Service) FindDuplicates(ctx context.Context, id primitive.ObjectID) ([]mlservice.Duplicate, error) {
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Classifier == nil {
		return nil, upstream("Failed to perform duplicate check", errors.New("classifier not configured"))
	}
	candidates, err := s.duplicateCandidatesFor(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	dups, err := s.Classifier.FindDuplicates(cctx, mlservice.Text{Title: issue.Title, Description: issue.Description}, candidates)
	if err != nil {
		return nil, upstream("Failed to perform duplicate check", err)
	}
	return dups, nil
}

// SuggestOfficers ranks officers for an issue without changing anything
func (s *Service) SuggestOfficers(ctx context.Context, id primitive.ObjectID) ([]assignment.Suggestion, error) {
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	dept := issue.Department
	if dept == "" {
		dept = assignment.Department(issue.Category)
	}
	officers, err := s.Users.Find(ctx, assignment.PoolFilter(dept))
	if err != nil {
		return nil, err
	}
	cross := false
	if len(officers) == 0 {
		cross = true
		officers, err = s.Users.Find(ctx, assignment.PoolFilter(""))
		if err != nil {
			return nil, err
		}
	}
	return assignment.Suggest(officers, cross), nil
}

// OfficersByDepartment lists officers, least loaded first. An empty department lists all.
func (s *Service) OfficersByDepartment(ctx context.Context, department string) ([]models.User, error) {
	filter := bson.M{"role": models.RoleOfficer}
	if department != "" {
		filter["department"] = department
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "activeTasks", Value: 1}}).
		SetProjection(bson.M{"name": 1, "email": 1, "department": 1, "activeTasks": 1, "isAvailable": 1, "trustScore": 1})
	officers, err := s.Users.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	if officers == nil {
		officers = []models.User{}
	}
	return officers, nil
}

// AssignedIssues lists the open issues assigned to the caller. The caller is found
// by identity-provider subject first, then by account id, then by email, in which
// case the subject is linked to the account for next time.
func (s *Service) AssignedIssues(ctx context.Context, subject, email string) ([]models.Issue, error) {
	user, err := s.findCaller(ctx, subject, email)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	issues, err := s.Issues.Find(ctx, bson.M{
		"assignedOfficer": user.ID,
		"status":          bson.M{"$nin": []models.IssueStatus{models.StatusResolved, models.StatusRejected}},
	}, opts)
	if err != nil {
		return nil, err
	}
	if issues == nil {
		issues = []models.Issue{}
	}
	return issues, nil
}

func (s *Service) findCaller(ctx context.Context, subject, email string) (*models.User, error) {
	if subject != "" {
		u, err := s.Users.FindOne(ctx, bson.M{"clerkUserId": subject})
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
		if oid, perr := primitive.ObjectIDFromHex(subject); perr == nil {
			u, err = s.Users.FindOne(ctx, bson.M{"_id": oid})
			if err == nil {
				return u, nil
			}
			if !errors.Is(err, mongo.ErrNoDocuments) {
				return nil, err
			}
		}
	}
	if email != "" {
		u, err := s.Users.FindOne(ctx, bson.M{"email": email})
		if err == nil {
			if subject != "" && u.ClerkUserID == "" {
				if _, err := s.Users.UpdateOne(ctx, bson.M{"_id": u.ID}, bson.M{"$set": bson.M{"clerkUserId": subject}}); err != nil {
					zap.S().Warnw("failed to link identity to user", "userId", u.ID.Hex(), "error", err)
				}
			}
			return u, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
	}
	return nil, notFound("User profile not found. Please contact Admin.", nil)
}
