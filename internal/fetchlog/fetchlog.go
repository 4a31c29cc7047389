// Package fetchlog records per-window fetch outcomes in a CSV report
// written next to the exported workbook, so dropped windows are visible
// after a partially degraded run.
package fetchlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ivazin/kapitalbank-uz-export/internal/kapital"
)

// Entry is one row in the fetch report.
type Entry struct {
	Timestamp  time.Time
	Category   string
	ProductID  string
	WindowFrom time.Time
	WindowTo   time.Time
	Status     string // "ok" or "dropped"
	Rows       int
	Error      string
}

// Header is the CSV header for the fetch report.
const Header = "timestamp,category,product_id,window_from,window_to,status,rows,error"

const (
	numFields     = 8
	colTimestamp  = 0
	colCategory   = 1
	colProductID  = 2
	colWindowFrom = 3
	colWindowTo   = 4
	colStatus     = 5
	colRows       = 6
	colError      = 7
)

// FromReports converts fetcher window reports into report entries.
func FromReports(reports []kapital.WindowReport, now time.Time) []Entry {
	entries := make([]Entry, 0, len(reports))
	for _, r := range reports {
		e := Entry{
			Timestamp:  now,
			Category:   string(r.Category),
			ProductID:  r.ProductID,
			WindowFrom: r.Window.From,
			WindowTo:   r.Window.To,
			Status:     "ok",
			Rows:       r.Rows,
		}
		if r.Err != nil {
			e.Status = "dropped"
			e.Rows = 0
			e.Error = r.Err.Error()
		}
		entries = append(entries, e)
	}
	return entries
}

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colCategory] = e.Category
	row[colProductID] = e.ProductID
	row[colWindowFrom] = e.WindowFrom.UTC().Format(time.RFC3339)
	row[colWindowTo] = e.WindowTo.UTC().Format(time.RFC3339)
	row[colStatus] = e.Status
	row[colRows] = strconv.Itoa(e.Rows)
	row[colError] = e.Error
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}
	from, err := time.Parse(time.RFC3339, record[colWindowFrom])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing window_from %q: %w", record[colWindowFrom], err)
	}
	to, err := time.Parse(time.RFC3339, record[colWindowTo])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing window_to %q: %w", record[colWindowTo], err)
	}
	rows, err := strconv.Atoi(record[colRows])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing rows %q: %w", record[colRows], err)
	}

	return Entry{
		Timestamp:  ts,
		Category:   record[colCategory],
		ProductID:  record[colProductID],
		WindowFrom: from,
		WindowTo:   to,
		Status:     record[colStatus],
		Rows:       rows,
		Error:      record[colError],
	}, nil
}

// Append writes entries to the report file, creating it with a header
// if needed.
func Append(path string, entries []Entry) error {
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening fetch report: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}

	return cw.Error()
}

// Read returns all entries from a report file. Returns nil if the file
// does not exist.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening fetch report: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading fetch report CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
