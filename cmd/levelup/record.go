package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/levelup/internal/curriculum"
	"github.com/jonathan/levelup/internal/observability"
	"github.com/jonathan/levelup/internal/progress"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRecordCmd(a *app) *cobra.Command {
	var (
		userID       string
		stageID      int
		task         string
		score        int
		source       string
		submissionID string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a scored attempt without running a review",
		Long: `Record an attempt for a user directly, e.g. to import scores or to correct
a failed review. Experience, unlocks, badges and rank are updated as for a
reviewed submission.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			slot, ok := curriculum.ParseSlot(task)
			if !ok {
				return fmt.Errorf("invalid --task %q (want A or B)", task)
			}
			if submissionID != "" {
				if _, err := uuid.Parse(submissionID); err != nil {
					return fmt.Errorf("invalid --submission: %w", err)
				}
			}

			engine, closeStore, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			result, err := engine.RecordAttempt(cmd.Context(), progress.AttemptRequest{
				User:         progress.UserRef{ID: userID},
				StageID:      stageID,
				Slot:         slot,
				Score:        score,
				SourceRef:    source,
				SubmissionID: submissionID,
			})
			if err != nil {
				return err
			}
			a.logger.Info("attempt recorded",
				zap.String("user_id", userID),
				zap.Int("stage", stageID),
				zap.String("task", string(slot)),
				zap.Int("xp_delta", result.XPDelta),
			)
			observability.NewPrinter(cmd.OutOrStdout()).PrintAttempt(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	cmd.Flags().IntVar(&stageID, "stage", 0, "Stage id (required)")
	cmd.Flags().StringVar(&task, "task", "", "Task slot, A or B (required)")
	cmd.Flags().IntVar(&score, "score", 0, "Score to record")
	cmd.Flags().StringVar(&source, "source", "manual", "Source reference stored with the attempt")
	cmd.Flags().StringVar(&submissionID, "submission", "", "Optional submission UUID; repeats are ignored")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("stage")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
