package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ivazin/kapitalbank-uz-export/internal/config"
	"github.com/ivazin/kapitalbank-uz-export/internal/fetchlog"
	"github.com/ivazin/kapitalbank-uz-export/internal/kapital"
	"github.com/ivazin/kapitalbank-uz-export/internal/logger"
)

// fakeBank serves product listings and histories for every category.
func fakeBank(t *testing.T) *httptest.Server {
	t.Helper()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}

	listing := func(items ...any) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"data": items})
		}
	}
	history := func(rows any) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"data": rows})
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /account", listing(map[string]any{"id": "acc1"}))
	mux.HandleFunc("GET /deposit", listing(map[string]any{"absId": "dep1"}))
	mux.HandleFunc("GET /uzcard", listing(map[string]any{"id": "uz1"}))
	mux.HandleFunc("GET /humo", listing())
	mux.HandleFunc("GET /visa", listing(map[string]any{"id": "vi1"}))
	mux.HandleFunc("GET /wallet", listing(map[string]any{"id": "wa1"}))

	mux.HandleFunc("GET /account/statement", history([]any{
		map[string]any{"date": 1674000000000, "dateTransact": 1674000000000, "amount": 123456},
	}))
	mux.HandleFunc("GET /deposit/statement", history([]any{
		map[string]any{"valueDate": 1674000000000, "bookingDate": 1674000000000, "docDate": 1674000000000, "amount": 500000},
	}))
	// The nested uzcard payload variant.
	mux.HandleFunc("GET /uzcard/history", history(map[string]any{"data": []any{
		map[string]any{"utime": 1674000000000, "udate": 1674000000000, "amount": "1 234,56"},
	}}))
	mux.HandleFunc("GET /visa/history", history([]any{
		map[string]any{"transDate": 1674000000000, "amount": "99,50"},
	}))
	mux.HandleFunc("GET /wallet/history", history([]any{
		map[string]any{"date": 1674000000000, "amount": 250},
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func exportConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	log := logger.NewWithWriter(os.Stderr)
	cache := filepath.Join(dir, "kapidata.yaml")
	store := kapital.NewCredentialStore(cache, log)
	require.NoError(t, store.Save(kapital.Credentials{DeviceID: "dev", Token: "tok", Phone: "998"}))

	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.Cache = cache
	cfg.Output = filepath.Join(dir, "excel.xlsx")
	cfg.Card = config.CardConfig{Pan: "8600123412341234", Expiry: "0127", AppPassword: "pw"}
	cfg.Range = config.RangeConfig{From: "2023-01-01", To: "2023-02-15"}
	return cfg
}

func TestRunExport_WritesWorkbookAndReport(t *testing.T) {
	srv := fakeBank(t)
	cfg := exportConfig(t, srv.URL)

	require.NoError(t, runExport(context.Background(), cfg, logger.NewWithWriter(os.Stderr)))

	f, err := excelize.OpenFile(cfg.Output)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{
		"account", "accounts_tx",
		"deposit", "deposits_tx",
		"uzcard", "uzcard_tx",
		"humo", "humo_tx",
		"visa", "visa_tx",
		"wallet", "wallets_tx",
	}, f.GetSheetList())

	rows, err := f.GetRows("uzcard_tx")
	require.NoError(t, err)
	require.Len(t, rows, 3, "header + one row per window")

	entries, err := fetchlog.Read(cfg.Output + ".fetch-report.csv")
	require.NoError(t, err)
	// 5 categories with one product each, two windows per product; humo
	// has no products and contributes nothing.
	assert.Len(t, entries, 10)
	for _, e := range entries {
		assert.Equal(t, "ok", e.Status)
	}
}

func TestRunExport_ValidationFailsBeforeNetwork(t *testing.T) {
	cfg := exportConfig(t, "http://127.0.0.1:1")
	cfg.Card.Expiry = "13"

	err := runExport(context.Background(), cfg, logger.NewWithWriter(os.Stderr))
	var verr *kapital.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "expiry", verr.Field)
}

func TestRunExport_PartialUpstreamDegradation(t *testing.T) {
	srv := fakeBank(t)
	cfg := exportConfig(t, srv.URL)

	// A second fake in front: break only the visa history endpoint.
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/visa/history" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
			return
		}
		resp, err := http.Get(srv.URL + r.URL.Path + "?" + r.URL.RawQuery)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		require.NoError(t, json.NewEncoder(w).Encode(decodeBody(t, resp)))
	}))
	t.Cleanup(proxy.Close)
	cfg.BaseURL = proxy.URL

	require.NoError(t, runExport(context.Background(), cfg, logger.NewWithWriter(os.Stderr)), "partial degradation must not fail the export")

	entries, err := fetchlog.Read(cfg.Output + ".fetch-report.csv")
	require.NoError(t, err)

	dropped := 0
	for _, e := range entries {
		if e.Status == "dropped" {
			dropped++
			assert.Equal(t, "visa", e.Category)
		}
	}
	assert.Equal(t, 2, dropped, "both visa windows dropped, everything else exported")
}

func decodeBody(t *testing.T, resp *http.Response) any {
	t.Helper()
	var v any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
