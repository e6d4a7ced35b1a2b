package domain

import "time"

// CartItem is one product line in a session cart.
type CartItem struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
	Product   *Product  `json:"product,omitempty"`
}

// LineTotal returns the sale price multiplied by quantity, or 0 when the
// product details are not loaded.
func (c CartItem) LineTotal() float64 {
	if c.Product == nil {
		return 0
	}
	return c.Product.SalePrice * float64(c.Quantity)
}

// CartSummary aggregates a cart.
type CartSummary struct {
	TotalItems int     `json:"totalItems"`
	TotalPrice float64 `json:"totalPrice"`
}

// Summarize computes totals over items.
func Summarize(items []CartItem) CartSummary {
	var s CartSummary
	for _, it := range items {
		s.TotalItems += it.Quantity
		s.TotalPrice += it.LineTotal()
	}
	return s
}
