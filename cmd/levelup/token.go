package main

import (
	"fmt"

	"github.com/jonathan/levelup/internal/config"
	"github.com/jonathan/levelup/internal/server"
	"github.com/jonathan/levelup/internal/types"
	"github.com/spf13/cobra"
)

func newTokenCmd(_ *app) *cobra.Command {
	var id types.Identity

	cmd := &cobra.Command{
		Use:         "token",
		Short:       "Mint a bearer token for AUTH_MODE=jwt",
		Long:        `Sign an HS256 token with JWT_SECRET for local development and scripted clients.`,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			jwtCfg, err := config.NewJWTConfig()
			if err != nil {
				return err
			}
			token, err := server.NewJWTService(jwtCfg).GenerateToken(id)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&id.UserID, "user", "", "User id placed in the token subject (required)")
	cmd.Flags().StringVar(&id.Email, "email", "", "Email claim")
	cmd.Flags().StringVar(&id.DisplayName, "name", "", "Display name claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
