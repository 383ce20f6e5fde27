package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Timeline actors
const (
	ActorUser      = "User"
	ActorSystem    = "System"
	ActorModerator = "Moderator"
	ActorOfficer   = "Officer"
	ActorCitizen   = "Citizen"
)

// Issue holds the structure for the issues collection in mongo
type Issue struct {
	ID                primitive.ObjectID   `json:"_id" bson:"_id,omitempty"`
	ComplaintID       string               `json:"complaintId" bson:"complaintId"`
	Title             string               `json:"title" bson:"title"`
	Description       string               `json:"description" bson:"description"`
	Phone             string               `json:"phone" bson:"phone"`
	Email             string               `json:"email" bson:"email"`
	FileURL           string               `json:"fileUrl,omitempty" bson:"fileUrl,omitempty"`
	NotifyByEmail     bool                 `json:"notifyByEmail" bson:"notifyByEmail"`
	IssueType         string               `json:"issueType,omitempty" bson:"issueType,omitempty"`
	IsPrivate         bool                 `json:"isPrivate" bson:"isPrivate"`
	Location          string               `json:"location,omitempty" bson:"location,omitempty"`
	Coordinates       *Coordinates         `json:"coordinates,omitempty" bson:"coordinates,omitempty"`
	Category          string               `json:"category" bson:"category"`
	Department        string               `json:"department,omitempty" bson:"department,omitempty"`
	Priority          Priority             `json:"priority" bson:"priority"`
	PriorityScore     int                  `json:"priorityScore" bson:"priorityScore"`
	IsFake            bool                 `json:"isFake" bson:"isFake"`
	FakeConfidence    float64              `json:"fakeConfidence" bson:"fakeConfidence"`
	Tags              []string             `json:"tags,omitempty" bson:"tags,omitempty"`
	Embedding         []float64            `json:"-" bson:"embedding,omitempty"`
	Status            IssueStatus          `json:"status" bson:"status"`
	Timeline          []TimelineEntry      `json:"timeline" bson:"timeline"`
	AssignedOfficer   *primitive.ObjectID  `json:"assignedOfficer,omitempty" bson:"assignedOfficer,omitempty"`
	Reporter          *primitive.ObjectID  `json:"reporter,omitempty" bson:"reporter,omitempty"`
	Upvotes           []primitive.ObjectID `json:"upvotes" bson:"upvotes"`
	Downvotes         []primitive.ObjectID `json:"downvotes" bson:"downvotes"`
	Resolution        *Resolution          `json:"resolution,omitempty" bson:"resolution,omitempty"`
	Feedbacks         []Feedback           `json:"feedbacks" bson:"feedbacks"`
	FeedbackTimeline  FeedbackTimeline     `json:"feedbackTimeline" bson:"feedbackTimeline"`
	AIAnalysis        *AIAnalysis          `json:"aiAnalysis,omitempty" bson:"aiAnalysis,omitempty"`
	DuplicateAnalysis *DuplicateAnalysis   `json:"duplicateAnalysis,omitempty" bson:"duplicateAnalysis,omitempty"`
	IsAnalyzed        bool                 `json:"isAnalyzed" bson:"isAnalyzed"`
	CreatedAt         time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt" bson:"updatedAt"`
}

// Coordinates is a lat/lng pair
type Coordinates struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// TimelineEntry records one status event on an issue
type TimelineEntry struct {
	Status    IssueStatus `json:"status" bson:"status"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
	Message   string      `json:"message" bson:"message"`
	ByUser    string      `json:"byUser" bson:"byUser"`
}

// Resolution holds the officer's proof of work and the review trail around it
type Resolution struct {
	ProofURL            string               `json:"proofUrl,omitempty" bson:"proofUrl,omitempty"`
	OfficerNotes        string               `json:"officerNotes,omitempty" bson:"officerNotes,omitempty"`
	SubmittedAt         *time.Time           `json:"submittedAt,omitempty" bson:"submittedAt,omitempty"`
	ModeratorApproval   *ModeratorApproval   `json:"moderatorApproval,omitempty" bson:"moderatorApproval,omitempty"`
	UserAcknowledgement *UserAcknowledgement `json:"userAcknowledgement,omitempty" bson:"userAcknowledgement,omitempty"`
}

// ModeratorApproval is the moderator's verdict on a submitted resolution
type ModeratorApproval struct {
	IsApproved bool                `json:"isApproved" bson:"isApproved"`
	ReviewedBy *primitive.ObjectID `json:"reviewedBy,omitempty" bson:"reviewedBy,omitempty"`
	ReviewedAt time.Time           `json:"reviewedAt" bson:"reviewedAt"`
	Remarks    string              `json:"remarks,omitempty" bson:"remarks,omitempty"`
}

// Acknowledgement states a citizen can give a resolution
const (
	AcknowledgePending   = "Pending"
	AcknowledgeConfirmed = "Confirmed"
	AcknowledgeDisputed  = "Disputed"
)

// UserAcknowledgement is the reporter's answer to a resolution
type UserAcknowledgement struct {
	Status         string    `json:"status" bson:"status"`
	AcknowledgedAt time.Time `json:"acknowledgedAt" bson:"acknowledgedAt"`
	Remarks        string    `json:"remarks,omitempty" bson:"remarks,omitempty"`
}

// Feedback is a citizen rating left on a resolved issue
type Feedback struct {
	Rating         int                 `json:"rating" bson:"rating"`
	Comment        string              `json:"comment,omitempty" bson:"comment,omitempty"`
	GivenBy        *primitive.ObjectID `json:"givenBy,omitempty" bson:"givenBy,omitempty"`
	Role           string              `json:"role,omitempty" bson:"role,omitempty"`
	SentimentScore *float64            `json:"sentimentScore,omitempty" bson:"sentimentScore,omitempty"`
	SentimentLabel string              `json:"sentimentLabel,omitempty" bson:"sentimentLabel,omitempty"`
	CreatedAt      time.Time           `json:"createdAt" bson:"createdAt"`
}

// FeedbackTimeline tracks which scoring checkpoints have already run
type FeedbackTimeline struct {
	Checks FeedbackChecks `json:"checks" bson:"checks"`
}

// FeedbackChecks has one flag per checkpoint after resolution
type FeedbackChecks struct {
	H24 bool `json:"h24" bson:"h24"`
	D3  bool `json:"d3" bson:"d3"`
	W1  bool `json:"w1" bson:"w1"`
	M1  bool `json:"m1" bson:"m1"`
	M3  bool `json:"m3" bson:"m3"`
}

// AIAnalysis is the stored moderator-facing analysis of an issue
type AIAnalysis struct {
	Priority       string    `json:"priority" bson:"priority"`
	IsFake         bool      `json:"isFake" bson:"isFake"`
	FakeConfidence float64   `json:"fakeConfidence" bson:"fakeConfidence"`
	Category       string    `json:"category" bson:"category"`
	Reasoning      string    `json:"reasoning" bson:"reasoning"`
	AnalyzedAt     time.Time `json:"analyzedAt" bson:"analyzedAt"`
}

// DuplicateAnalysis records the most similar issue found for this one
type DuplicateAnalysis struct {
	IsDuplicate bool      `json:"isDuplicate" bson:"isDuplicate"`
	SimilarID   string    `json:"similarId,omitempty" bson:"similarId,omitempty"`
	Confidence  float64   `json:"confidence" bson:"confidence"`
	Reasoning   string    `json:"reasoning,omitempty" bson:"reasoning,omitempty"`
	AnalyzedAt  time.Time `json:"analyzedAt" bson:"analyzedAt"`
}

// IsOpen reports whether the issue still counts against its officer's load
func (i *Issue) IsOpen() bool {
	return !i.Status.IsTerminal()
}

// NetVotes is upvotes minus downvotes
func (i *Issue) NetVotes() int {
	return len(i.Upvotes) - len(i.Downvotes)
}

// LastTimelineAt returns the timestamp of the newest timeline entry
func (i *Issue) LastTimelineAt() time.Time {
	if len(i.Timeline) == 0 {
		return time.Time{}
	}
	return i.Timeline[len(i.Timeline)-1].Timestamp
}
