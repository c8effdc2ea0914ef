// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/atlashq/atlas-cli/internal/api"
	"github.com/atlashq/atlas-cli/internal/auth"
	"github.com/atlashq/atlas-cli/internal/config"
	"github.com/atlashq/atlas-cli/internal/logging"
	"github.com/atlashq/atlas-cli/internal/output"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Store   auth.CredentialStore
	Auth    *auth.Authenticator
	Session *auth.SessionGuard

	// API is the general-purpose client; Payments targets the payments
	// backend. Both share Auth, so a token renewal triggered through one is
	// visible to the other and never duplicated.
	API      *api.Client
	Payments *api.Client

	Output *output.Writer

	Flags GlobalFlags
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	APIBaseURL      string
	PaymentsBaseURL string
	Format          string
	Filter          string
	Verbose         int
}

// NewApp wires the application from a resolved configuration.
func NewApp(cfg *config.Config, flags GlobalFlags) (*App, error) {
	log := logging.New(os.Stderr, cfg.Verbose)

	store := auth.NewStore(config.GlobalConfigDir())
	refresher := auth.NewRefresher(cfg.APIBaseURL+"/auth/refresh", store, log)
	session := auth.NewSessionGuard(store, func(reason error) {
		log.Warn().Err(reason).Msg("signed out; run `atlas auth login` to continue")
	}, log)
	authn := auth.NewAuthenticator(store, refresher, session)

	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	writer, err := output.New(output.Options{Format: format, Filter: flags.Filter})
	if err != nil {
		return nil, err
	}

	return &App{
		Config:   cfg,
		Log:      log,
		Store:    store,
		Auth:     authn,
		Session:  session,
		API:      api.NewClient(cfg.APIBaseURL, authn, log),
		Payments: api.NewPaymentsClient(cfg.PaymentsBaseURL, authn, log),
		Output:   writer,
		Flags:    flags,
	}, nil
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context, or nil.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
