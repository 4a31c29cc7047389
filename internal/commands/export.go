package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ivazin/kapitalbank-uz-export/internal/config"
	"github.com/ivazin/kapitalbank-uz-export/internal/export"
	"github.com/ivazin/kapitalbank-uz-export/internal/fetchlog"
	"github.com/ivazin/kapitalbank-uz-export/internal/kapital"
	"github.com/ivazin/kapitalbank-uz-export/internal/logger"
	"github.com/ivazin/kapitalbank-uz-export/internal/model"
)

func newExportCommand() *cobra.Command {
	var cfgPath string
	var output string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch products and transactions and write the workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Output = output
			}
			return runExport(cmd.Context(), cfg, logger.New(verbose))
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "kapital.yaml", "config file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "workbook path (overrides config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	return cmd
}

func runExport(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	from, err := cfg.FromTime()
	if err != nil {
		return err
	}
	to, err := cfg.ToTime()
	if err != nil {
		return err
	}

	if cfg.Fetch.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	client, err := kapital.NewSession(kapital.SessionOptions{
		BaseURL:    cfg.BaseURL,
		HTTPClient: newHTTPClient(cfg.Fetch.Concurrency),
		Card: kapital.Card{
			Pan:         cfg.Card.Pan,
			Expiry:      cfg.Card.Expiry,
			AppPassword: cfg.Card.AppPassword,
		},
		Prompt:    stdinPrompt(),
		CachePath: cfg.Cache,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	if err := client.EnsureSession(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	enum := kapital.NewEnumerator(client, log)
	fetcher := kapital.NewFetcher(client, cfg.Fetch.ChunkDays, cfg.Fetch.Concurrency, log)

	var sheets []export.Sheet
	var reports []kapital.WindowReport

	for _, cat := range model.Categories {
		products, listing, err := enum.List(ctx, cat)
		if err != nil {
			if !recoverable(err) {
				return err
			}
			// One category degrading should not cost the others their
			// export; its sheets just come out empty.
			log.Warn().Str("category", string(cat)).Err(err).Msg("product listing failed, exporting empty category")
		}

		table, catReports := fetcher.History(ctx, cat, products, from, to)
		reports = append(reports, catReports...)

		sheets = append(sheets,
			export.Sheet{Name: export.ListingSheetName(cat), Table: listing},
			export.Sheet{Name: export.TxSheetName(cat), Table: table},
		)
	}

	if err := export.Workbook(cfg.Output, sheets); err != nil {
		return err
	}

	reportPath := cfg.Output + ".fetch-report.csv"
	if err := fetchlog.Append(reportPath, fetchlog.FromReports(reports, time.Now())); err != nil {
		log.Warn().Err(err).Msg("failed to write fetch report")
	}

	if dropped := countDropped(reports); dropped > 0 {
		log.Warn().Int("dropped_windows", dropped).Str("report", reportPath).
			Msg("export is a partial view, some windows were dropped")
	}

	fmt.Printf("EXPORTED: %s\n", cfg.Output)
	return nil
}

// recoverable reports whether a listing failure is a per-call upstream
// problem rather than a broken session.
func recoverable(err error) bool {
	var transportErr *kapital.TransportError
	var upstreamErr *kapital.UpstreamError
	return errors.As(err, &transportErr) || errors.As(err, &upstreamErr)
}

func countDropped(reports []kapital.WindowReport) int {
	n := 0
	for _, r := range reports {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// newHTTPClient builds the shared HTTP client. MaxConnsPerHost tracks
// the fetch concurrency so the upstream never sees more sockets than
// in-flight requests.
func newHTTPClient(concurrency int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = concurrency
	return &http.Client{Transport: transport}
}

// stdinPrompt reads the SMS one-time code from the terminal.
func stdinPrompt() kapital.CodePrompt {
	return kapital.CodePromptFunc(func(ctx context.Context, phone string) (string, error) {
		fmt.Printf("Enter the SMS code sent to %s: ", phone)
		code, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading sms code: %w", err)
		}
		return strings.TrimSpace(code), nil
	})
}
