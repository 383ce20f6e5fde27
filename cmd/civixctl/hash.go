package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print the bcrypt hash of a password",
	Long:  `Print the bcrypt hash of a password, for repairing an account's password field by hand.`,
	Args:  cobra.ExactArgs(1),
	// needs no database
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		fmt.Printf("Bcrypt Hash: %s\n", hash)
		fmt.Printf("\nTo update in MongoDB, run:\n")
		fmt.Printf("db.users.updateOne({email: \"<email>\"}, {$set: {password: %q}})\n", hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
