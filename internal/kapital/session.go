package kapital

import (
	"net/http"

	"github.com/rs/zerolog"
)

// SessionOptions configures a client session.
type SessionOptions struct {
	// BaseURL overrides the upstream API root (tests point it at a
	// local server). Empty means DefaultBaseURL.
	BaseURL string
	// HTTPClient overrides the HTTP client. Its transport settings are
	// the backpressure hook for bounding upstream connections.
	HTTPClient *http.Client
	Card       Card
	Prompt     CodePrompt
	// CachePath is the credential cache file.
	CachePath string
	Logger    zerolog.Logger
}

// NewSession validates the card and builds an authenticated client on
// top of the cached credentials. Card format problems fail here, before
// any network call. A missing or unusable cache is not an error; the
// client will negotiate a fresh session on first use.
func NewSession(opts SessionOptions) (*Client, error) {
	if err := opts.Card.Validate(); err != nil {
		return nil, err
	}

	store := NewCredentialStore(opts.CachePath, opts.Logger)
	creds, ok := store.Load()
	if !ok {
		opts.Logger.Info().Msg("no cached session, authentication required")
	}

	neg := NewNegotiator(opts.BaseURL, opts.HTTPClient, opts.Card, opts.Prompt, opts.Logger)
	return NewClient(opts.BaseURL, opts.HTTPClient, neg, store, creds, opts.Logger), nil
}
