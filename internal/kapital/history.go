package kapital

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivazin/kapitalbank-uz-export/internal/model"
	"github.com/ivazin/kapitalbank-uz-export/internal/normalize"
)

// DateWindow is one [From, To) slice of the requested history range.
type DateWindow struct {
	From time.Time
	To   time.Time
}

// FromMillis returns the window start in epoch milliseconds.
func (w DateWindow) FromMillis() int64 { return w.From.UnixMilli() }

// ToMillis returns the window end in epoch milliseconds.
func (w DateWindow) ToMillis() int64 { return w.To.UnixMilli() }

// Windows partitions [from, to) into chunkDays-sized windows plus a
// final partial remainder. Adjacent windows share their boundary
// timestamp, so the union tiles the range with no gap and no overlap.
func Windows(from, to time.Time, chunkDays int) []DateWindow {
	if chunkDays <= 0 || !from.Before(to) {
		return nil
	}

	var windows []DateWindow
	start := from
	end := from.AddDate(0, 0, chunkDays)
	for !end.After(to) {
		windows = append(windows, DateWindow{From: start, To: end})
		start = end
		end = end.AddDate(0, 0, chunkDays)
	}
	if start.Before(to) {
		windows = append(windows, DateWindow{From: start, To: to})
	}
	return windows
}

// WindowReport records the outcome of one window fetch for the fetch
// report. Err is nil for successful windows.
type WindowReport struct {
	Category  model.Category
	ProductID string
	Window    DateWindow
	Rows      int
	Err       error
}

// Fetcher retrieves transaction histories window by window. Windows
// across all products of a category are fetched concurrently; the
// concurrency config bounds in-flight requests (0 = unbounded).
type Fetcher struct {
	client    *Client
	chunkDays int
	sem       chan struct{}
	log       zerolog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(client *Client, chunkDays, concurrency int, log zerolog.Logger) *Fetcher {
	f := &Fetcher{
		client:    client,
		chunkDays: chunkDays,
		log:       log,
	}
	if concurrency > 0 {
		f.sem = make(chan struct{}, concurrency)
	}
	return f
}

type windowJob struct {
	product model.Product
	window  DateWindow
}

// History fetches and normalizes the transactions of every given
// product over [from, to). A failed window is dropped from the table
// and recorded in the returned reports; it never aborts the others, so
// the table may be a partial view when the upstream degrades.
func (f *Fetcher) History(ctx context.Context, cat model.Category, products []model.Product, from, to time.Time) (model.Table, []WindowReport) {
	cs := categoryEndpoints[cat]

	var jobs []windowJob
	for _, p := range products {
		for _, w := range Windows(from, to, f.chunkDays) {
			jobs = append(jobs, windowJob{product: p, window: w})
		}
	}

	// Each goroutine writes only its own slot; rows are merged in job
	// order after all fetches finish.
	results := make([][]map[string]any, len(jobs))
	reports := make([]WindowReport, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job windowJob) {
			defer wg.Done()
			if f.sem != nil {
				select {
				case f.sem <- struct{}{}:
					defer func() { <-f.sem }()
				case <-ctx.Done():
					reports[i] = WindowReport{Category: cat, ProductID: job.product.ID, Window: job.window, Err: ctx.Err()}
					return
				}
			}

			rows, err := f.fetchWindow(ctx, cs, job.product, job.window)
			reports[i] = WindowReport{
				Category:  cat,
				ProductID: job.product.ID,
				Window:    job.window,
				Rows:      len(rows),
				Err:       err,
			}
			if err != nil {
				f.log.Warn().
					Str("category", string(cat)).
					Str("product", job.product.ID).
					Time("from", job.window.From).
					Time("to", job.window.To).
					Err(err).
					Msg("window fetch failed, dropping")
				return
			}
			results[i] = rows
		}(i, job)
	}
	wg.Wait()

	var raw []map[string]any
	for _, rows := range results {
		raw = append(raw, rows...)
	}

	table := normalize.Table(cat, raw)
	f.log.Info().
		Str("category", string(cat)).
		Int("windows", len(jobs)).
		Int("rows", len(table.Rows)).
		Msg("history fetched")
	return table, reports
}

func (f *Fetcher) fetchWindow(ctx context.Context, cs endpoints, p model.Product, w DateWindow) ([]map[string]any, error) {
	params := url.Values{}
	params.Set(cs.idParam, p.ID)
	params.Set(cs.fromParam, strconv.FormatInt(w.FromMillis(), 10))
	params.Set(cs.toParam, strconv.FormatInt(w.ToMillis(), 10))

	data, err := f.client.Get(ctx, cs.historyPath, params)
	if err != nil {
		return nil, err
	}
	return decodeHistory(data, cs.shape)
}

// decodeHistory extracts the row list from a history payload according
// to the category's declared shape.
func decodeHistory(data json.RawMessage, shape payloadShape) ([]map[string]any, error) {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	if shape == shapeNestedOrFlat {
		// One historical uzcard variant nests the rows under a
		// secondary "data" key, the other does not.
		var nested struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &nested); err == nil && len(nested.Data) > 0 {
			return decodeItems(nested.Data)
		}
	}
	return decodeItems(data)
}
