package kapital

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Client issues authenticated GET calls against the upstream API. It
// attaches the session headers and, when the upstream rejects the token,
// runs one full re-authentication and retries the call once. Concurrent
// callers hitting an expired token coalesce onto a single negotiation so
// the user is prompted for at most one SMS code.
type Client struct {
	baseURL string
	http    *http.Client
	neg     *Negotiator
	store   *CredentialStore
	log     zerolog.Logger

	mu      sync.Mutex
	creds   Credentials
	authGen uint64
}

// NewClient creates a Client. creds may be zero; EnsureSession will then
// run the negotiation before the first call.
func NewClient(baseURL string, httpClient *http.Client, neg *Negotiator, store *CredentialStore, creds Credentials, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		neg:     neg,
		store:   store,
		log:     log,
		creds:   creds,
	}
}

// Credentials returns the current session credentials.
func (c *Client) Credentials() Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

// EnsureSession authenticates if no usable session is cached.
func (c *Client) EnsureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds.Valid() {
		return nil
	}
	return c.authenticateLocked(ctx)
}

// Get issues an authenticated GET and returns the envelope's data
// payload. An invalid-token response triggers exactly one
// re-authentication and retry; a second rejection surfaces
// ErrSessionExpired.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	creds, gen := c.session()

	data, invalid, err := c.get(ctx, path, params, creds)
	if err != nil {
		return nil, err
	}
	if !invalid {
		return data, nil
	}

	c.log.Warn().Str("endpoint", path).Msg("token rejected, re-authenticating")
	if err := c.reauthenticate(ctx, gen); err != nil {
		return nil, err
	}

	creds, _ = c.session()
	data, invalid, err = c.get(ctx, path, params, creds)
	if err != nil {
		return nil, err
	}
	if invalid {
		return nil, ErrSessionExpired
	}
	return data, nil
}

func (c *Client) session() (Credentials, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds, c.authGen
}

// get performs one GET attempt. invalid reports an invalid-token
// rejection, which is the only error the transport handles itself.
func (c *Client) get(ctx context.Context, path string, params url.Values, creds Credentials) (json.RawMessage, bool, error) {
	endpoint := c.baseURL + "/" + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	setCommonHeaders(req, creds.DeviceID, creds.Token)

	reqID := uuid.NewString()
	c.log.Debug().Str("request_id", reqID).Str("endpoint", path).Msg("GET")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, &TransportError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, &TransportError{Endpoint: path, Err: err}
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, false, &TransportError{Endpoint: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		return nil, false, &TransportError{Endpoint: path, Err: fmt.Errorf("decoding response: %w", err)}
	}

	if isInvalidToken(env.ErrorMessage) {
		return nil, true, nil
	}
	if env.ErrorMessage != "" {
		return nil, false, &UpstreamError{Endpoint: path, Message: env.ErrorMessage}
	}
	return env.Data, false, nil
}

// reauthenticate runs one negotiation unless another caller already
// refreshed the session since this caller read generation gen.
func (c *Client) reauthenticate(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authGen != gen {
		// Someone else re-authenticated while we waited for the lock.
		return nil
	}
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	creds, err := c.neg.Authenticate(ctx, c.creds.DeviceID)
	if err != nil {
		return err
	}
	c.creds = creds
	c.authGen++

	if c.store != nil {
		if err := c.store.Save(creds); err != nil {
			c.log.Warn().Err(err).Msg("failed to persist credentials")
		}
	}
	return nil
}

func isInvalidToken(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "invalid token")
}
