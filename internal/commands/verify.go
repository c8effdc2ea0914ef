package commands

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/atlashq/atlas-cli/internal/appctx"
	"github.com/atlashq/atlas-cli/internal/models"
	"github.com/atlashq/atlas-cli/internal/output"
	"github.com/atlashq/atlas-cli/internal/urlarg"
)

// NewVerifyCmd creates the verify command group.
func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Manage venue verification submissions",
	}

	cmd.AddCommand(
		newVerifySubmitCmd(),
		newVerifyStatusCmd(),
	)

	return cmd
}

func newVerifySubmitCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "submit <venue-id>",
		Short: "Submit a venue for verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			body := map[string]string{"venue_id": urlarg.ExtractID(args[0])}
			if note != "" {
				body["note"] = note
			}

			resp, err := app.API.Post(cmd.Context(), "/verifications", body)
			if err != nil {
				return err
			}

			var sub models.Submission
			if err := resp.UnmarshalData(&sub); err != nil {
				return output.ErrAPI(resp.StatusCode, "Malformed submission")
			}
			return app.Output.OK(sub, "Submitted for verification: "+sub.ID)
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Note for the reviewer")
	return cmd
}

func newVerifyStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <submission-id>",
		Short: "Show a verification submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			id := urlarg.ExtractID(args[0])
			resp, err := app.API.Get(cmd.Context(), "/verifications/"+url.PathEscape(id))
			if err != nil {
				return err
			}

			var sub models.Submission
			if err := resp.UnmarshalData(&sub); err != nil {
				return output.ErrAPI(resp.StatusCode, "Malformed submission")
			}
			return app.Output.OK(sub, sub.Status)
		},
	}
}
