// Package normalize turns the upstream's nested JSON records into flat
// tabular rows with typed date and amount columns.
package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ivazin/kapitalbank-uz-export/internal/model"
)

// amountMode tells how a category reports monetary fields.
type amountMode int

const (
	// amountMinorUnits: integer minor units, divided by 100.
	amountMinorUnits amountMode = iota
	// amountLocaleString: locale-formatted decimal strings with comma
	// decimal separator and non-breaking-space thousands separator.
	amountLocaleString
)

// traits describes one category's normalization rules: the canonical
// sort field, the epoch-ms fields that get derived datetime columns,
// and how monetary fields are encoded.
type traits struct {
	sortField    string // "" = table is left unsorted
	deriveFields []string
	amountFields []string
	mode         amountMode
}

var categoryTraits = map[model.Category]traits{
	model.CategoryUzcard: {
		sortField:    "utime",
		deriveFields: []string{"utime", "udate"},
		amountFields: []string{"amount"},
		mode:         amountLocaleString,
	},
	// Humo history rows are exported as-is apart from amount parsing;
	// the payload carries no stable timestamp field to sort on.
	model.CategoryHumo: {
		amountFields: []string{"amount"},
		mode:         amountLocaleString,
	},
	model.CategoryVisa: {
		sortField:    "transDate",
		deriveFields: []string{"transDate"},
		amountFields: []string{"amount"},
		mode:         amountLocaleString,
	},
	model.CategoryWallet: {
		sortField:    "date",
		deriveFields: []string{"date"},
		amountFields: []string{"amount"},
		mode:         amountMinorUnits,
	},
	model.CategoryAccount: {
		sortField:    "date",
		deriveFields: []string{"date", "dateTransact"},
		amountFields: []string{"amount"},
		mode:         amountMinorUnits,
	},
	model.CategoryDeposit: {
		sortField:    "valueDate",
		deriveFields: []string{"bookingDate", "docDate", "valueDate"},
		amountFields: []string{"amount"},
		mode:         amountMinorUnits,
	},
}

const datetimeLayout = "2006-01-02 15:04:05"

// Flatten collapses nested objects into dotted column names. Arrays and
// scalars are kept as-is.
func Flatten(item map[string]any) model.Row {
	row := make(model.Row, len(item))
	flattenInto(row, "", item)
	return row
}

func flattenInto(row model.Row, prefix string, item map[string]any) {
	for k, v := range item {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(row, key, nested)
			continue
		}
		row[key] = v
	}
}

// Table flattens raw records into a sorted table for one category.
// Empty input yields an empty table; derivation and sorting are skipped.
func Table(cat model.Category, items []map[string]any) model.Table {
	table := model.Table{Category: cat}
	for _, item := range items {
		table.Append(Flatten(item))
	}
	if table.Empty() {
		return table
	}

	tr := categoryTraits[cat]
	for _, row := range table.Rows {
		deriveDatetimes(row, tr.deriveFields)
		convertAmounts(row, tr.amountFields, tr.mode)
	}
	if tr.sortField != "" {
		sortDescending(table.Rows, tr.sortField)
	}
	table.ResetColumns()
	return table
}

// deriveDatetimes adds a human-readable "<field>_datetime" column next
// to each epoch-millisecond field.
func deriveDatetimes(row model.Row, fields []string) {
	for _, f := range fields {
		ms, ok := epochMillis(row[f])
		if !ok {
			continue
		}
		row[f+"_datetime"] = time.UnixMilli(ms).UTC().Format(datetimeLayout)
	}
}

// convertAmounts rewrites monetary fields as decimals in major units.
func convertAmounts(row model.Row, fields []string, mode amountMode) {
	for _, f := range fields {
		v, ok := row[f]
		if !ok || v == nil {
			continue
		}
		d, err := parseAmount(v, mode)
		if err != nil {
			// Leave the raw value in place rather than dropping data.
			continue
		}
		row[f] = d
	}
}

func parseAmount(v any, mode amountMode) (decimal.Decimal, error) {
	switch mode {
	case amountMinorUnits:
		d, err := toDecimal(v)
		if err != nil {
			return decimal.Zero, err
		}
		return d.Div(decimal.NewFromInt(100)), nil
	case amountLocaleString:
		if s, ok := v.(string); ok {
			return ParseLocaleDecimal(s)
		}
		// Some API versions already report card amounts numerically.
		return toDecimal(v)
	}
	return decimal.Zero, fmt.Errorf("unknown amount mode %d", mode)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(n)
	case float64:
		return decimal.NewFromFloat(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	default:
		return decimal.Zero, fmt.Errorf("not a number: %T", v)
	}
}

// ParseLocaleDecimal parses a locale-formatted decimal string such as
// "1 234,56" (non-breaking-space thousands separator, comma decimal
// separator) into a decimal value.
func ParseLocaleDecimal(s string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer(" ", "", " ", "", ",", ".").Replace(strings.TrimSpace(s))
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d, nil
}

// sortDescending orders rows newest-first by an epoch-ms field. Rows
// missing the field sink to the end.
func sortDescending(rows []model.Row, field string) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, aok := epochMillis(rows[i][field])
		b, bok := epochMillis(rows[j][field])
		if aok != bok {
			return aok
		}
		return a > b
	})
}

func epochMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		ms, err := n.Int64()
		return ms, err == nil
	case float64:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
