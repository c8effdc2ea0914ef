package commands

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/atlashq/atlas-cli/internal/api"
	"github.com/atlashq/atlas-cli/internal/appctx"
	"github.com/atlashq/atlas-cli/internal/dateparse"
	"github.com/atlashq/atlas-cli/internal/models"
	"github.com/atlashq/atlas-cli/internal/output"
	"github.com/atlashq/atlas-cli/internal/urlarg"
)

// NewVenuesCmd creates the venues command group.
func NewVenuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "venues",
		Short: "Browse and submit venue listings",
	}

	cmd.AddCommand(
		newVenuesListCmd(),
		newVenuesGetCmd(),
		newVenuesCreateCmd(),
	)

	return cmd
}

func newVenuesListCmd() *cobra.Command {
	var category, query, since string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List venues",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			q := url.Values{}
			if category != "" {
				q.Set("category", category)
			}
			if query != "" {
				q.Set("q", query)
			}
			if since != "" {
				if !dateparse.IsValid(since) {
					return output.ErrUsageHint("Invalid --since value: "+since,
						`Use YYYY-MM-DD or a relative form like "yesterday" or "2 weeks ago"`)
				}
				q.Set("since", dateparse.Parse(since))
			}
			path := "/venues"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := app.API.Get(cmd.Context(), path)
			if err != nil {
				return err
			}

			var venues []models.Venue
			if err := resp.UnmarshalData(&venues); err != nil {
				return output.ErrAPI(resp.StatusCode, "Malformed venue list")
			}
			return app.Output.OK(venues, fmt.Sprintf("%d venues", len(venues)))
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Filter by category")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Search text")
	cmd.Flags().StringVar(&since, "since", "", `Only venues added since a date ("2024-01-15", "yesterday", "2 weeks ago")`)
	return cmd
}

func newVenuesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id-or-url>",
		Short: "Show one venue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			id := urlarg.ExtractID(args[0])
			resp, err := app.API.Get(cmd.Context(), "/venues/"+url.PathEscape(id))
			if err != nil {
				return err
			}

			var venue models.Venue
			if err := resp.UnmarshalData(&venue); err != nil {
				return output.ErrAPI(resp.StatusCode, "Malformed venue")
			}
			return app.Output.OK(venue, venue.Name)
		},
	}
}

func newVenuesCreateCmd() *cobra.Command {
	var name, category, address, photo string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a new venue listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}
			if name == "" {
				return output.ErrUsage("--name is required")
			}

			fields := map[string]string{"name": name}
			if category != "" {
				fields["category"] = category
			}
			if address != "" {
				fields["address"] = address
			}

			var resp *api.Response
			if photo != "" {
				f, err := os.Open(photo) //nolint:gosec // G304: User-supplied upload path
				if err != nil {
					return output.ErrUsageHint("Cannot read photo", err.Error())
				}
				defer f.Close()
				resp, err = app.API.PostMultipart(cmd.Context(), "/venues", fields, "photo", filepath.Base(photo), f)
				if err != nil {
					return err
				}
			} else {
				var err error
				resp, err = app.API.Post(cmd.Context(), "/venues", fields)
				if err != nil {
					return err
				}
			}

			var venue models.Venue
			if err := resp.UnmarshalData(&venue); err != nil {
				return output.ErrAPI(resp.StatusCode, "Malformed venue")
			}
			return app.Output.OK(venue, "Venue submitted: "+venue.ID)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Venue name")
	cmd.Flags().StringVar(&category, "category", "", "Venue category")
	cmd.Flags().StringVar(&address, "address", "", "Street address")
	cmd.Flags().StringVar(&photo, "photo", "", "Path to a photo to attach")
	return cmd
}
