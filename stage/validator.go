package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidemark/orderflow/order"
)

// Validator checks that an order is well-formed before any side-effecting
// stage runs. Pure: no store access, no external calls. Malformed input is
// a permanent failure — retrying cannot fix a bad order.
type Validator struct{}

// NewValidator creates the validation stage worker.
func NewValidator() *Validator { return &Validator{} }

// Name implements Worker.
func (v *Validator) Name() string { return Validate }

// Execute implements Worker.
func (v *Validator) Execute(_ context.Context, o *order.Order) Result {
	var problems []string

	if len(o.Items) == 0 {
		problems = append(problems, "order has no items")
	}
	for i, it := range o.Items {
		if it.ProductID == "" {
			problems = append(problems, fmt.Sprintf("item %d missing product id", i))
		}
		if it.Quantity <= 0 {
			problems = append(problems, fmt.Sprintf("item %d quantity must be positive", i))
		}
		if it.UnitPrice < 0 {
			problems = append(problems, fmt.Sprintf("item %d unit price must be non-negative", i))
		}
	}

	if o.Customer.ID == "" {
		problems = append(problems, "missing customer id")
	}
	if o.Customer.Email == "" {
		problems = append(problems, "missing customer email")
	}
	if o.ShippingAddress.Line1 == "" {
		problems = append(problems, "missing shipping address line1")
	}
	if o.ShippingAddress.City == "" {
		problems = append(problems, "missing shipping city")
	}
	if o.ShippingAddress.Country == "" {
		problems = append(problems, "missing shipping country")
	}
	if o.Payment.Method == "" {
		problems = append(problems, "missing payment method")
	}

	if len(problems) > 0 {
		return Permanent("validation failed: " + strings.Join(problems, "; "))
	}
	return OK("order validated", "")
}
