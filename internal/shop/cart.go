// Package shop implements the grocery operations behind the shopping tools:
// cart management, product search and recipe ingredient extraction.
package shop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/smartrecall/internal/domain"
	"github.com/ashureev/smartrecall/internal/store"
)

// CartService manages session carts on top of the store.
type CartService struct {
	carts store.CartStore
}

// NewCartService creates a cart service.
func NewCartService(carts store.CartStore) *CartService {
	return &CartService{carts: carts}
}

// AddResult reports the outcome of a bulk add.
type AddResult struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message,omitempty"`
	Error      string             `json:"error,omitempty"`
	AddedItems []domain.CartItem  `json:"addedItems"`
	Failed     []string           `json:"failedProductIds,omitempty"`
	Summary    domain.CartSummary `json:"cartSummary"`
}

// CartView is a cart with its totals.
type CartView struct {
	Items   []domain.CartItem  `json:"items"`
	Summary domain.CartSummary `json:"summary"`
}

// AddItems adds each product with the matching quantity (default 1).
// Unknown products are skipped; the call fails only when nothing was added.
func (s *CartService) AddItems(ctx context.Context, sessionID string, productIDs []string, quantities []int) (*AddResult, error) {
	res := &AddResult{AddedItems: []domain.CartItem{}}
	for i, id := range productIDs {
		qty := 1
		if i < len(quantities) && quantities[i] > 0 {
			qty = quantities[i]
		}
		item, err := s.carts.AddToCart(ctx, sessionID, id, qty)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidQuantity) {
				slog.Warn("Skipping cart item", "session_id", sessionID, "product_id", id, "error", err)
				res.Failed = append(res.Failed, id)
				continue
			}
			return nil, fmt.Errorf("add %s to cart: %w", id, err)
		}
		res.AddedItems = append(res.AddedItems, item)
	}

	if len(res.AddedItems) == 0 {
		res.Error = "Could not add any items to cart. Please check product IDs."
		return res, nil
	}

	view, err := s.View(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res.Success = true
	res.Summary = view.Summary
	res.Message = fmt.Sprintf("Successfully added %d item(s) to your cart!", len(res.AddedItems))
	return res, nil
}

// View returns the cart with totals.
func (s *CartService) View(ctx context.Context, sessionID string) (*CartView, error) {
	items, err := s.carts.GetCart(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return &CartView{Items: items, Summary: domain.Summarize(items)}, nil
}

// Remove deletes one product line.
func (s *CartService) Remove(ctx context.Context, sessionID, productID string) error {
	return s.carts.RemoveFromCart(ctx, sessionID, productID)
}

// Clear empties the cart and returns the number of removed lines.
func (s *CartService) Clear(ctx context.Context, sessionID string) (int64, error) {
	return s.carts.ClearCart(ctx, sessionID)
}
