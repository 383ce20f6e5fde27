// Command civixctl runs one-off administration tasks against the Civix database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/civix/civix-api/api/handlers"
	"github.com/civix/civix-api/config"
)

const commandTimeout = 2 * time.Minute

var app *handlers.App

var rootCmd = &cobra.Command{
	Use:           "civixctl",
	Short:         "Administer a Civix deployment",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		app = &handlers.App{Config: *config.New()}
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()
		if err := app.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Close(ctx)
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		red := color.New(color.FgRed, color.Bold).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}
