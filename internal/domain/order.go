package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// moneyScale is the number of decimal places compared when checking
// subtotal and total invariants.
const moneyScale = 6

var validate = validator.New()

// OrderItem is one line of an order.
type OrderItem struct {
	UUID        string  `json:"uuid" validate:"required,uuid"`
	ProductID   string  `json:"product_id" validate:"required"`
	ProductName string  `json:"product_name" validate:"required"`
	Price       float64 `json:"price" validate:"gt=0"`
	Quantity    int     `json:"quantity" validate:"gte=1"`
	Subtotal    float64 `json:"subtotal"`
}

// Order is the authoritative aggregate snapshot held by the primary store.
type Order struct {
	UUID       string      `json:"uuid" validate:"required,uuid"`
	CustomerID string      `json:"customer_id" validate:"required"`
	Status     Status      `json:"status" validate:"required"`
	Total      float64     `json:"total"`
	CreatedAt  time.Time   `json:"created_at" validate:"required"`
	UpdatedAt  time.Time   `json:"updated_at" validate:"required"`
	Items      []OrderItem `json:"items" validate:"dive"`
}

// ItemInput describes a line to add to a new order.
type ItemInput struct {
	ProductID   string  `json:"product_id" validate:"required"`
	ProductName string  `json:"product_name" validate:"required"`
	Price       float64 `json:"price" validate:"gt=0"`
	Quantity    int     `json:"quantity" validate:"gte=1"`
}

// NewOrder builds a PENDING order with fresh identities and computed
// subtotals and total.
func NewOrder(customerID string, items []ItemInput, now time.Time) (Order, error) {
	if len(items) == 0 {
		return Order{}, NewValidationError("order requires at least one item", nil)
	}
	for i, in := range items {
		if err := validate.Struct(in); err != nil {
			return Order{}, validationErrorFrom(fmt.Sprintf("item %d is invalid", i), err)
		}
	}

	now = now.UTC()
	order := Order{
		UUID:       uuid.NewString(),
		CustomerID: customerID,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Items:      make([]OrderItem, 0, len(items)),
	}
	for _, in := range items {
		subtotal := lineSubtotal(in.Price, in.Quantity)
		order.Items = append(order.Items, OrderItem{
			UUID:        uuid.NewString(),
			ProductID:   in.ProductID,
			ProductName: in.ProductName,
			Price:       in.Price,
			Quantity:    in.Quantity,
			Subtotal:    subtotal.InexactFloat64(),
		})
	}
	order.Total = order.ComputeTotal()

	if err := order.Validate(); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Validate checks the structural invariants of the snapshot:
// subtotal == price * quantity for every item and total == sum of subtotals.
func (o Order) Validate() error {
	if err := validate.Struct(o); err != nil {
		return validationErrorFrom("order snapshot is invalid", err)
	}
	if !o.Status.Valid() {
		return NewValidationError(fmt.Sprintf("unknown status %q", o.Status), map[string]any{"status": string(o.Status)})
	}

	for _, item := range o.Items {
		want := lineSubtotal(item.Price, item.Quantity)
		got := decimal.NewFromFloat(item.Subtotal)
		if !want.Round(moneyScale).Equal(got.Round(moneyScale)) {
			return NewValidationError("item subtotal does not equal price x quantity", map[string]any{
				"item_uuid": item.UUID,
				"expected":  want.String(),
				"actual":    got.String(),
			})
		}
	}

	sum := o.subtotalSum()

	total := decimal.NewFromFloat(o.Total)
	if !sum.Round(moneyScale).Equal(total.Round(moneyScale)) {
		return NewValidationError("order total does not equal sum of item subtotals", map[string]any{
			"order_uuid": o.UUID,
			"expected":   sum.String(),
			"actual":     total.String(),
		})
	}
	return nil
}

// ComputeTotal returns the sum of item subtotals.
func (o Order) ComputeTotal() float64 {
	return o.subtotalSum().InexactFloat64()
}

func (o Order) subtotalSum() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(decimal.NewFromFloat(item.Subtotal))
	}
	return sum
}

// Clone returns a deep copy so callers can hand snapshots to asynchronous
// handlers without sharing the items slice.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		copy(c.Items, o.Items)
	}
	return c
}

// IsValidOrderID reports whether id is a well-formed order identity.
func IsValidOrderID(id string) bool {
	return uuid.Validate(id) == nil
}

func lineSubtotal(price float64, quantity int) decimal.Decimal {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(quantity)))
}

func validationErrorFrom(msg string, err error) *Error {
	details := map[string]any{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Namespace()] = fe.Tag()
		}
	} else {
		details["error"] = err.Error()
	}
	verr := NewValidationError(msg, details)
	verr.Err = err
	return verr
}
