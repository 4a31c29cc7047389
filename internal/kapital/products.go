package kapital

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ivazin/kapitalbank-uz-export/internal/model"
	"github.com/ivazin/kapitalbank-uz-export/internal/normalize"
)

// payloadShape tags how a category's history payload carries its rows.
type payloadShape int

const (
	// shapeFlat: the envelope's data is the row list itself.
	shapeFlat payloadShape = iota
	// shapeNestedOrFlat: the rows sit under a secondary "data" key in
	// one historical API version and directly in another. Both shapes
	// are accepted.
	shapeNestedOrFlat
)

// endpoints describes one product category's upstream paths and
// parameter naming.
type endpoints struct {
	listPath    string
	historyPath string
	idField     string // attribute holding the history identifier
	idParam     string
	fromParam   string
	toParam     string
	shape       payloadShape
}

var categoryEndpoints = map[model.Category]endpoints{
	model.CategoryUzcard: {
		listPath:    "uzcard",
		historyPath: "uzcard/history",
		idField:     "id",
		idParam:     "cardId",
		fromParam:   "dateFrom",
		toParam:     "dateTo",
		shape:       shapeNestedOrFlat,
	},
	model.CategoryHumo: {
		listPath:    "humo",
		historyPath: "humo/history",
		idField:     "id",
		idParam:     "cardId",
		fromParam:   "dateFrom",
		toParam:     "dateTo",
		shape:       shapeFlat,
	},
	model.CategoryVisa: {
		listPath:    "visa",
		historyPath: "visa/history",
		idField:     "id",
		idParam:     "cardId",
		fromParam:   "dateFrom",
		toParam:     "dateTo",
		shape:       shapeFlat,
	},
	model.CategoryWallet: {
		listPath:    "wallet",
		historyPath: "wallet/history",
		idField:     "id",
		idParam:     "id",
		fromParam:   "startDate",
		toParam:     "endDate",
		shape:       shapeFlat,
	},
	model.CategoryAccount: {
		listPath:    "account",
		historyPath: "account/statement",
		idField:     "id",
		idParam:     "id",
		fromParam:   "startDate",
		toParam:     "endDate",
		shape:       shapeFlat,
	},
	model.CategoryDeposit: {
		listPath:    "deposit",
		historyPath: "deposit/statement",
		idField:     "absId",
		idParam:     "absId",
		fromParam:   "startDate",
		toParam:     "endDate",
		shape:       shapeFlat,
	},
}

// Enumerator lists the user's products per category.
type Enumerator struct {
	client *Client
	log    zerolog.Logger
}

// NewEnumerator creates an Enumerator on top of an authenticated client.
func NewEnumerator(client *Client, log zerolog.Logger) *Enumerator {
	return &Enumerator{client: client, log: log}
}

// List enumerates one category. A user with no products of the category
// gets an empty set and an empty table, not an error. The returned
// table is the raw product listing, used for the category's listing
// sheet in the workbook.
func (e *Enumerator) List(ctx context.Context, cat model.Category) ([]model.Product, model.Table, error) {
	cs, ok := categoryEndpoints[cat]
	if !ok {
		return nil, model.Table{}, fmt.Errorf("unknown category %q", cat)
	}

	table := model.Table{Category: cat}

	data, err := e.client.Get(ctx, cs.listPath, nil)
	if err != nil {
		return nil, table, fmt.Errorf("listing %s products: %w", cat, err)
	}

	items, err := decodeItems(data)
	if err != nil {
		return nil, table, fmt.Errorf("parsing %s product list: %w", cat, err)
	}

	var products []model.Product
	for _, item := range items {
		row := normalize.Flatten(item)
		table.Append(row)

		id := stringifyID(item[cs.idField])
		if id == "" {
			e.log.Warn().Str("category", string(cat)).Msgf("product without %s attribute, skipping", cs.idField)
			continue
		}
		products = append(products, model.Product{ID: id, Category: cat, Raw: row})
	}
	table.ResetColumns()

	e.log.Info().Str("category", string(cat)).Int("products", len(products)).Msg("enumerated products")
	return products, table, nil
}

// decodeItems parses a JSON array of objects, preserving numeric
// precision via json.Number. A null or absent payload is an empty list.
func decodeItems(data json.RawMessage) ([]map[string]any, error) {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var items []map[string]any
	if err := dec.Decode(&items); err == nil {
		return items, nil
	}

	// Some endpoints return a single object instead of a one-element list.
	dec = json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var single map[string]any
	if err := dec.Decode(&single); err != nil {
		return nil, fmt.Errorf("unexpected payload shape: %w", err)
	}
	return []map[string]any{single}, nil
}

func stringifyID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
