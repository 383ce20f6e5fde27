package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

var (
	seedDepartment string
	seedCount      int
	seedDomain     string
)

var seedOfficersCmd = &cobra.Command{
	Use:   "seed-officers",
	Short: "Create officer accounts for a department",
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		created, err := seedOfficers(ctx, app.Users(), seedDepartment, seedDomain, seedCount, time.Now().UTC())
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("\n%s\n", cyan(fmt.Sprintf("=== %s officers ===", seedDepartment)))
		for _, c := range created {
			fmt.Printf("  %s  %s\n", c.email, gray(c.password))
		}
		fmt.Println()
		return err
	},
}

type seededOfficer struct {
	email    string
	password string
}

// seedOfficers inserts count officers and returns the credentials of those created
// before any failure
func seedOfficers(ctx context.Context, users databases.UserDatabase, department, domain string, count int, now time.Time) ([]seededOfficer, error) {
	slug := strings.ToLower(strings.Join(strings.Fields(department), "-"))
	var out []seededOfficer
	for i := 1; i <= count; i++ {
		password := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return out, err
		}
		suffix := uuid.NewString()[:4]
		username := fmt.Sprintf("%s%d%s", strings.ReplaceAll(slug, "-", ""), i, suffix)
		u := models.User{
			ID:                    primitive.NewObjectID(),
			Name:                  fmt.Sprintf("%s Officer %d", department, i),
			Username:              username,
			Email:                 fmt.Sprintf("%s.officer%d.%s@%s", slug, i, suffix, domain),
			Password:              string(hash),
			Role:                  models.RoleOfficer,
			Department:            department,
			TrustScore:            models.DefaultTrustScore,
			IsAvailable:           true,
			ProfileSetupCompleted: true,
			Gamification:          models.Gamification{Level: 1, Badges: []models.Badge{}, CompletedScenarios: []string{}},
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if _, err := users.InsertOne(ctx, u); err != nil {
			return out, fmt.Errorf("failed to create %s: %w", u.Email, err)
		}
		out = append(out, seededOfficer{email: u.Email, password: password})
	}
	return out, nil
}

func init() {
	seedOfficersCmd.Flags().StringVar(&seedDepartment, "department", "General", "department the officers serve")
	seedOfficersCmd.Flags().IntVar(&seedCount, "count", 3, "number of officers to create")
	seedOfficersCmd.Flags().StringVar(&seedDomain, "domain", "civix.local", "email domain for the new accounts")
	rootCmd.AddCommand(seedOfficersCmd)
}
