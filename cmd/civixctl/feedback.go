package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var feedbackRunCmd = &cobra.Command{
	Use:   "feedback-run",
	Short: "Run the feedback scoring job once",
	Long:  `Score every due feedback checkpoint owned by this worker (WORKER_ID of TOTAL_WORKERS) and exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		sum, err := app.FeedbackScheduler().RunFeedbackJob(ctx)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("Scanned:   %d\n", sum.Scanned)
		fmt.Printf("Processed: %d\n", sum.Processed)
		fmt.Printf("Updated:   %s\n", green(sum.Updated))
		if sum.Failed > 0 {
			fmt.Printf("Failed:    %s\n", yellow(sum.Failed))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(feedbackRunCmd)
}
