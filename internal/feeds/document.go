// internal/feeds/document.go

// Package feeds batches queued feed requests into marketplace feed documents
// and submits them.
package feeds

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/javajoker/marketsync/internal/models"
)

// Columns of each feed type, in document order.
var columns = map[models.FeedType][]string{
	models.FeedTypeUpdateStock:      {"sku", "quantity"},
	models.FeedTypeUpdateStockPrice: {"sku", "price", "currency", "quantity", "handling-time"},
	models.FeedTypeAddProducts: {
		"sku", "product-id", "product-id-type", "price", "item-condition",
		"quantity", "add-delete", "handling-time",
	},
}

// BuildDocument renders requests of one feed type as a tab separated document
// with a header line. For stock and price feeds a later request for the same
// SKU replaces the earlier row.
func BuildDocument(feedType models.FeedType, requests []models.FeedRequest) ([]byte, error) {
	cols, ok := columns[feedType]
	if !ok {
		return nil, fmt.Errorf("unknown feed type %q", feedType)
	}

	var (
		rows  [][]string
		index = make(map[string]int)
	)
	for _, req := range requests {
		if req.Type != feedType {
			return nil, fmt.Errorf("feed request %s is %s, not %s", req.ID, req.Type, feedType)
		}
		row := make([]string, len(cols))
		for i, c := range cols {
			if v, ok := req.Payload[c]; ok && v != nil {
				row[i] = fmt.Sprint(v)
			}
		}

		if feedType == models.FeedTypeAddProducts {
			rows = append(rows, row)
			continue
		}
		if i, seen := index[row[0]]; seen {
			rows[i] = row
			continue
		}
		index[row[0]] = len(rows)
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	if err := w.Write(cols); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to write %s document: %w", feedType, err)
	}
	return buf.Bytes(), nil
}
