package main

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/jonathan/levelup/internal/observability"
	"github.com/jonathan/levelup/internal/progress"
	"github.com/jonathan/levelup/internal/types"
	"github.com/spf13/cobra"
)

func newUsersCmd(a *app) *cobra.Command {
	var (
		userID string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users or show one user's progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, closeStore, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			printer := observability.NewPrinter(cmd.OutOrStdout())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if userID != "" {
				state, err := engine.Snapshot(cmd.Context(), userID)
				if err != nil {
					return err
				}
				summary := progress.Summarize(engine.Catalog(), state)
				if asJSON {
					return enc.Encode(types.StateResponse{UserID: userID, State: state, Summary: summary})
				}
				printer.PrintState(userID, summary, state.BadgesEarned)
				return nil
			}

			records, err := engine.AllUsers(cmd.Context())
			if err != nil {
				return err
			}
			slices.SortFunc(records, func(x, y progress.UserRecord) int {
				if c := cmp.Compare(y.State.Experience, x.State.Experience); c != 0 {
					return c
				}
				return cmp.Compare(x.ID, y.ID)
			})
			if asJSON {
				resp := types.UsersResponse{Users: make([]types.UserSummary, 0, len(records)), Count: len(records)}
				for _, r := range records {
					resp.Users = append(resp.Users, types.NewUserSummary(r))
				}
				return enc.Encode(resp)
			}
			printer.PrintUsers(records)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Show a single user by id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
