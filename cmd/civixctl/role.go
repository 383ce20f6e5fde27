package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

var roleDepartment string

var setRoleCmd = &cobra.Command{
	Use:   "set-role <email> <role>",
	Short: "Change the role of an account",
	Long:  `Change the role of an account. Roles: user, officer, moderator, admin.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, ok := models.ParseRole(args[1])
		if !ok {
			return fmt.Errorf("unknown role %q", args[1])
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		u, err := setRole(ctx, app.Users(), args[0], role, roleDepartment)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s is now %s\n", green("✓"), u.Email, green(string(u.Role)))
		if u.Department != "" {
			fmt.Printf("  Department: %s\n", u.Department)
		}
		return nil
	},
}

func setRole(ctx context.Context, users databases.UserDatabase, email string, role models.Role, department string) (*models.User, error) {
	set := bson.M{"role": role, "updatedAt": time.Now().UTC()}
	if department != "" {
		set["department"] = department
	}
	after := options.After
	u, err := users.FindOneAndUpdate(ctx,
		bson.M{"email": strings.ToLower(strings.TrimSpace(email))},
		bson.M{"$set": set},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("no account with email %s", email)
	}
	return u, err
}

func init() {
	setRoleCmd.Flags().StringVar(&roleDepartment, "department", "", "department to assign along with the role")
	rootCmd.AddCommand(setRoleCmd)
}
