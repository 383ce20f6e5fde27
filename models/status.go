package models

// IssueStatus is the lifecycle state of an issue
type IssueStatus string

// Issue statuses
const (
	StatusPending       IssueStatus = "Pending"
	StatusAssigned      IssueStatus = "Assigned"
	StatusInProgress    IssueStatus = "In Progress"
	StatusEscalated     IssueStatus = "Escalated"
	StatusPendingReview IssueStatus = "Pending Review"
	StatusResolved      IssueStatus = "Resolved"
	StatusRejected      IssueStatus = "Rejected"
	StatusClosed        IssueStatus = "Closed"
	StatusDispute       IssueStatus = "Dispute"
	StatusSpam          IssueStatus = "Spam"
)

var transitions = map[IssueStatus][]IssueStatus{
	StatusPending:       {StatusAssigned, StatusInProgress, StatusEscalated, StatusRejected, StatusResolved, StatusSpam},
	StatusAssigned:      {StatusPending, StatusInProgress, StatusEscalated, StatusPendingReview, StatusRejected, StatusResolved, StatusSpam},
	StatusInProgress:    {StatusAssigned, StatusEscalated, StatusPendingReview, StatusResolved, StatusRejected},
	StatusEscalated:     {StatusAssigned, StatusInProgress, StatusPendingReview, StatusResolved, StatusRejected},
	StatusPendingReview: {StatusResolved, StatusInProgress},
	StatusResolved:      {StatusClosed, StatusDispute, StatusInProgress},
	StatusDispute:       {StatusAssigned, StatusInProgress, StatusPendingReview, StatusResolved, StatusClosed},
	StatusRejected:      {StatusPending},
	StatusSpam:          {StatusPending},
	StatusClosed:        {},
}

// ParseIssueStatus returns the status named by s, or false when s is not a known status
func ParseIssueStatus(s string) (IssueStatus, bool) {
	st := IssueStatus(s)
	_, ok := transitions[st]
	return st, ok
}

// IsTerminal reports whether an issue in this status no longer counts against an officer's load
func (s IssueStatus) IsTerminal() bool {
	switch s {
	case StatusResolved, StatusRejected, StatusClosed, StatusSpam:
		return true
	}
	return false
}

// CanTransition reports whether an issue may move from one status to another.
// Re-applying the current status is always allowed so moderators can append remarks.
func CanTransition(from, to IssueStatus) bool {
	if _, ok := transitions[to]; !ok {
		return false
	}
	if from == "" || from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority is the urgency assigned to an issue
type Priority string

// Issue priorities
const (
	PriorityPending Priority = "Pending"
	PriorityLow     Priority = "Low"
	PriorityMedium  Priority = "Medium"
	PriorityHigh    Priority = "High"
)

// ParsePriority normalizes a classifier answer into a Priority
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityPending, PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), true
	}
	return "", false
}

// Weight is the base priority score used when ranking issues by community votes
func (p Priority) Weight() int {
	switch p {
	case PriorityLow:
		return 10
	case PriorityMedium:
		return 30
	case PriorityHigh:
		return 60
	}
	return 0
}

// Role is the flat permission level of a user
type Role string

// User roles
const (
	RoleUser      Role = "user"
	RoleOfficer   Role = "officer"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ParseRole returns the role named by s, or false when s is not a known role
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleOfficer, RoleModerator, RoleAdmin:
		return Role(s), true
	}
	return "", false
}
