package kapital

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivazin/kapitalbank-uz-export/internal/logger"
)

// countingPrompt counts how many times the user was asked for a code.
type countingPrompt struct {
	calls atomic.Int64
}

func (p *countingPrompt) Code(ctx context.Context, phone string) (string, error) {
	p.calls.Add(1)
	return "123456", nil
}

func newTestClient(t *testing.T, mux *http.ServeMux, prompt CodePrompt, creds Credentials) (*Client, *CredentialStore) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	log := logger.NewWithWriter(os.Stderr)
	store := NewCredentialStore(filepath.Join(t.TempDir(), "kapidata.yaml"), log)
	neg := NewNegotiator(srv.URL, srv.Client(), testCard, prompt, log)
	return NewClient(srv.URL, srv.Client(), neg, store, creds, log), store
}

// tokenGate answers GETs with data only for the given token, and with
// an invalid-token payload otherwise.
func tokenGate(t *testing.T, valid string, data any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("token") != valid {
			writeJSON(t, w, map[string]any{"errorMessage": "Invalid Token"})
			return
		}
		writeJSON(t, w, map[string]any{"data": data})
	}
}

func TestClient_Get_HappyPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /uzcard", tokenGate(t, "tok-0", []any{map[string]any{"id": "c1"}}))

	client, _ := newTestClient(t, mux, &countingPrompt{}, Credentials{DeviceID: "dev", Token: "tok-0", Phone: "998"})

	data, err := client.Get(context.Background(), "uzcard", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"c1"}]`, string(data))
}

func TestClient_Get_ReauthenticatesOnceOnInvalidToken(t *testing.T) {
	prompt := &countingPrompt{}

	mux := authMux(t, nil)
	mux.HandleFunc("GET /uzcard/history", tokenGate(t, "tok-1", []any{map[string]any{"utime": 1}}))

	client, store := newTestClient(t, mux, prompt, Credentials{DeviceID: "dev", Token: "stale", Phone: "998"})

	data, err := client.Get(context.Background(), "uzcard/history", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"utime":1}]`, string(data))
	assert.EqualValues(t, 1, prompt.calls.Load(), "exactly one re-authentication")

	// The refreshed session was persisted.
	saved, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "tok-1", saved.Token)
	assert.Equal(t, "dev", saved.DeviceID, "device identity survives token refresh")
}

func TestClient_Get_SecondInvalidTokenIsFatal(t *testing.T) {
	prompt := &countingPrompt{}

	mux := authMux(t, nil)
	mux.HandleFunc("GET /visa/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"errorMessage": "Invalid Token"})
	})

	client, _ := newTestClient(t, mux, prompt, Credentials{DeviceID: "dev", Token: "stale", Phone: "998"})

	_, err := client.Get(context.Background(), "visa/history", nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.EqualValues(t, 1, prompt.calls.Load(), "no retry loop past the first re-authentication")
}

func TestClient_Get_ConcurrentCallersCoalesceReauth(t *testing.T) {
	prompt := &countingPrompt{}

	mux := authMux(t, nil)
	mux.HandleFunc("GET /wallet/history", tokenGate(t, "tok-1", []any{}))

	client, _ := newTestClient(t, mux, prompt, Credentials{DeviceID: "dev", Token: "stale", Phone: "998"})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Get(context.Background(), "wallet/history", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.EqualValues(t, 1, prompt.calls.Load(), "concurrent callers must share one SMS prompt")
}

func TestClient_Get_UpstreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /deposit", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"errorMessage": "Service unavailable"})
	})

	client, _ := newTestClient(t, mux, &countingPrompt{}, Credentials{DeviceID: "dev", Token: "tok", Phone: "998"})

	_, err := client.Get(context.Background(), "deposit", nil)
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "Service unavailable", uerr.Message)
}

func TestClient_Get_UnparseableBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /account", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	})

	client, _ := newTestClient(t, mux, &countingPrompt{}, Credentials{DeviceID: "dev", Token: "tok", Phone: "998"})

	_, err := client.Get(context.Background(), "account", nil)
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestClient_EnsureSession(t *testing.T) {
	prompt := &countingPrompt{}
	client, store := newTestClient(t, authMux(t, nil), prompt, Credentials{})

	require.NoError(t, client.EnsureSession(context.Background()))
	assert.EqualValues(t, 1, prompt.calls.Load())
	assert.Len(t, client.Credentials().DeviceID, 32)

	// Second call is a no-op with a live session.
	require.NoError(t, client.EnsureSession(context.Background()))
	assert.EqualValues(t, 1, prompt.calls.Load())

	saved, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, client.Credentials(), saved)
}
