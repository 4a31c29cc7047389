// Package export renders normalized tables as an xlsx workbook, one
// sheet per table with the header row frozen.
package export

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/ivazin/kapitalbank-uz-export/internal/model"
)

// Sheet pairs a sheet name with its table.
type Sheet struct {
	Name  string
	Table model.Table
}

// txSheetNames are the transaction sheet names per category; listing
// sheets use the category name itself.
var txSheetNames = map[model.Category]string{
	model.CategoryUzcard:  "uzcard_tx",
	model.CategoryHumo:    "humo_tx",
	model.CategoryVisa:    "visa_tx",
	model.CategoryWallet:  "wallets_tx",
	model.CategoryAccount: "accounts_tx",
	model.CategoryDeposit: "deposits_tx",
}

// ListingSheetName returns the sheet name for a category's product
// listing table.
func ListingSheetName(cat model.Category) string { return string(cat) }

// TxSheetName returns the sheet name for a category's transaction table.
func TxSheetName(cat model.Category) string { return txSheetNames[cat] }

// Workbook writes the sheets to an xlsx file at path. Every sheet gets
// its header row frozen. Sheets appear in the given order.
func Workbook(path string, sheets []Sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	for _, sheet := range sheets {
		if _, err := f.NewSheet(sheet.Name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", sheet.Name, err)
		}
		if err := writeTable(f, sheet.Name, sheet.Table); err != nil {
			return fmt.Errorf("writing sheet %s: %w", sheet.Name, err)
		}
		if err := freezeHeader(f, sheet.Name); err != nil {
			return fmt.Errorf("freezing header of %s: %w", sheet.Name, err)
		}
	}

	// Drop the workbook's default sheet; only our tables remain.
	if len(sheets) > 0 {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return fmt.Errorf("removing default sheet: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func writeTable(f *excelize.File, name string, table model.Table) error {
	header := make([]any, len(table.Columns))
	for i, col := range table.Columns {
		header[i] = col
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, row := range table.Rows {
		cells := make([]any, len(table.Columns))
		for j, col := range table.Columns {
			cells[j] = cellValue(row[col])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(name, cell, &cells); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	return nil
}

func freezeHeader(f *excelize.File, name string) error {
	return f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// cellValue maps row values onto types excelize can write natively.
func cellValue(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
	case decimal.Decimal:
		fv, _ := val.Float64()
		return fv
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if fv, err := val.Float64(); err == nil {
			return fv
		}
		return val.String()
	case string, bool, int, int64, float64:
		return val
	default:
		// Arrays and other composites are preserved as JSON text.
		if data, err := json.Marshal(val); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", val)
	}
}
