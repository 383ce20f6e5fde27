// Package assignment holds the officer selection and suggestion rules.
package assignment

import (
	"math"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/civix/civix-api/models"
)

// DefaultDepartment is used when an issue has no category
const DefaultDepartment = "General"

// Suggestion reasons
const (
	ReasonIdle            = "Currently idle"
	ReasonBalanced        = "Balanced workload"
	ReasonCrossDepartment = "Cross-department backup"
)

// Department maps an issue category onto the department that handles it
func Department(category string) string {
	if category == "" {
		return DefaultDepartment
	}
	return category
}

// PoolFilter is the query for available officers in a department. An empty
// department selects the whole available officer pool.
func PoolFilter(department string) bson.M {
	filter := bson.M{"role": models.RoleOfficer, "isAvailable": true}
	if department != "" {
		filter["department"] = department
	}
	return filter
}

// SelectOfficer returns the least loaded candidate. Ties go to the higher trust
// score, then to the lower id so the choice is stable.
func SelectOfficer(candidates []models.User) (models.User, bool) {
	if len(candidates) == 0 {
		return models.User{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if less(c, best) {
			best = c
		}
	}
	return best, true
}

func less(a, b models.User) bool {
	if a.ActiveTasks != b.ActiveTasks {
		return a.ActiveTasks < b.ActiveTasks
	}
	if a.TrustScore != b.TrustScore {
		return a.TrustScore > b.TrustScore
	}
	return a.ID.Hex() < b.ID.Hex()
}

// Suggestion is one ranked officer for a moderator to pick from
type Suggestion struct {
	ID           primitive.ObjectID `json:"_id"`
	Name         string             `json:"name"`
	Department   string             `json:"department,omitempty"`
	ActiveTasks  int                `json:"activeTasks"`
	TrustScore   int                `json:"trustScore"`
	Score        int                `json:"score"`
	IsOverloaded bool               `json:"isOverloaded"`
	Reason       string             `json:"reason"`
}

// Score rates an officer for a new assignment. Load costs 15 points per open
// task with an extra 50 once over five, trust above 100 adds half its surplus.
func Score(activeTasks, trustScore int) int {
	load := 100 - 15*float64(activeTasks)
	if activeTasks > 5 {
		load -= 50
	}
	bonus := math.Max(0, float64(trustScore-100)/2)
	return int(math.Max(0, math.Ceil(load+bonus)))
}

// Suggest ranks officers by Score, best first. crossDepartment marks every
// entry as a backup from outside the issue's department.
func Suggest(officers []models.User, crossDepartment bool) []Suggestion {
	suggestions := make([]Suggestion, 0, len(officers))
	for _, o := range officers {
		reason := ReasonBalanced
		if o.ActiveTasks == 0 {
			reason = ReasonIdle
		}
		if crossDepartment {
			reason = ReasonCrossDepartment
		}
		suggestions = append(suggestions, Suggestion{
			ID:           o.ID,
			Name:         o.Name,
			Department:   o.Department,
			ActiveTasks:  o.ActiveTasks,
			TrustScore:   o.TrustScore,
			Score:        Score(o.ActiveTasks, o.TrustScore),
			IsOverloaded: o.ActiveTasks >= 5,
			Reason:       reason,
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	return suggestions
}
