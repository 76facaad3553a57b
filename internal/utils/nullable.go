// internal/utils/nullable.go
package utils

import (
	"github.com/shopspring/decimal"
)

// NullableDecimal tells an absent JSON field apart from an explicit null, so a
// request body can clear a setting.
type NullableDecimal struct {
	Present bool
	Value   decimal.NullDecimal
}

func (n *NullableDecimal) UnmarshalJSON(b []byte) error {
	n.Present = true
	return n.Value.UnmarshalJSON(b)
}

// Ptr returns nil when the field was absent.
func (n NullableDecimal) Ptr() *decimal.NullDecimal {
	if !n.Present {
		return nil
	}
	v := n.Value
	return &v
}
