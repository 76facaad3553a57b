// internal/pricing/errors.go
package pricing

import (
	"fmt"

	"github.com/google/uuid"
)

// MissingCostError means no cost basis could be derived for a product: no
// purchase history, no usable supplier and nothing computable from its BoM.
type MissingCostError struct {
	ProductID uuid.UUID
}

func (e *MissingCostError) Error() string {
	if e.ProductID == uuid.Nil {
		return "missing cost basis"
	}
	return fmt.Sprintf("missing cost basis for product %s", e.ProductID)
}

// ShippingConfigMissingError means a marketplace has no default shipping
// template or the template has no usable carrier rate.
type ShippingConfigMissingError struct {
	Marketplace string
	Template    string
}

func (e *ShippingConfigMissingError) Error() string {
	if e.Template == "" {
		return fmt.Sprintf("no default shipping template for marketplace %s", e.Marketplace)
	}
	return fmt.Sprintf("shipping template %q on marketplace %s has no carrier rate", e.Template, e.Marketplace)
}
