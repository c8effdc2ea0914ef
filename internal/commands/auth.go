// Package commands implements the CLI commands.
package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atlashq/atlas-cli/internal/appctx"
	"github.com/atlashq/atlas-cli/internal/auth"
	"github.com/atlashq/atlas-cli/internal/models"
	"github.com/atlashq/atlas-cli/internal/output"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Manage Atlas authentication including login, logout, and status.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Atlas",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}
			if email == "" || password == "" {
				return output.ErrUsage("Both --email and --password are required")
			}

			resp, err := app.API.Post(cmd.Context(), "/auth/login", models.LoginRequest{
				Email:    email,
				Password: password,
			})
			if err != nil {
				return err
			}

			var pair models.TokenPair
			if err := resp.UnmarshalData(&pair); err != nil {
				return output.ErrAPI(resp.StatusCode, "Malformed login response")
			}
			if pair.AccessToken == "" {
				return output.ErrAPI(resp.StatusCode, "Login response missing access token")
			}

			if err := app.Auth.SaveLogin(pair.AccessToken, pair.RefreshToken); err != nil {
				return err
			}

			return app.Output.OK(map[string]string{"email": email}, "Logged in")
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}
			if err := auth.Clear(app.Store); err != nil {
				return err
			}
			return app.Output.OK(nil, "Logged out")
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			status := map[string]any{"authenticated": false}

			token, err := app.Store.Get(auth.TokenAccess)
			if err != nil && !errors.Is(err, auth.ErrTokenNotFound) {
				return err
			}
			if token != "" {
				status["authenticated"] = true
				if exp, ok := auth.Expiry(token); ok {
					status["expires_at"] = exp.UTC().Format(time.RFC3339)
					status["expired"] = auth.Expired(token, time.Now())
				}
			}
			if _, err := app.Store.Get(auth.TokenRefresh); err == nil {
				status["refreshable"] = true
			}

			return app.Output.OK(status, "")
		},
	}
}
