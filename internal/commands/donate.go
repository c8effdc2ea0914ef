package commands

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/atlashq/atlas-cli/internal/appctx"
	"github.com/atlashq/atlas-cli/internal/dateparse"
	"github.com/atlashq/atlas-cli/internal/models"
	"github.com/atlashq/atlas-cli/internal/output"
	"github.com/atlashq/atlas-cli/internal/urlarg"
)

// NewDonateCmd creates the donate command group. Donations go through the
// payments backend, not the general API.
func NewDonateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "donate",
		Short: "Make and list donations",
	}

	cmd.AddCommand(
		newDonateCreateCmd(),
		newDonateListCmd(),
	)

	return cmd
}

func newDonateCreateCmd() *cobra.Command {
	var venueID, currency string
	var amount int64

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Make a donation",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}
			if amount <= 0 {
				return output.ErrUsage("--amount must be a positive number of cents")
			}

			body := models.Donation{
				VenueID:  urlarg.ExtractID(venueID),
				Amount:   amount,
				Currency: currency,
			}
			resp, err := app.Payments.Post(cmd.Context(), "/donations", body)
			if err != nil {
				return err
			}

			var donation models.Donation
			if err := resp.UnmarshalData(&donation); err != nil {
				return output.ErrAPI(resp.StatusCode, "Malformed donation")
			}
			return app.Output.OK(donation, "Donation created: "+donation.ID)
		},
	}

	cmd.Flags().StringVar(&venueID, "venue", "", "Venue to support (optional)")
	cmd.Flags().Int64Var(&amount, "amount", 0, "Amount in minor currency units")
	cmd.Flags().StringVar(&currency, "currency", "USD", "ISO currency code")
	return cmd
}

func newDonateListCmd() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your donations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			path := "/donations"
			if since != "" {
				if !dateparse.IsValid(since) {
					return output.ErrUsageHint("Invalid --since value: "+since,
						`Use YYYY-MM-DD or a relative form like "yesterday" or "2 weeks ago"`)
				}
				path += "?" + url.Values{"since": {dateparse.Parse(since)}}.Encode()
			}

			resp, err := app.Payments.Get(cmd.Context(), path)
			if err != nil {
				return err
			}

			var donations []models.Donation
			if err := resp.UnmarshalData(&donations); err != nil {
				return output.ErrAPI(resp.StatusCode, "Malformed donation list")
			}
			return app.Output.OK(donations, fmt.Sprintf("%d donations", len(donations)))
		},
	}

	cmd.Flags().StringVar(&since, "since", "", `Only donations since a date ("2024-01-15", "yesterday", "2 weeks ago")`)
	return cmd
}
