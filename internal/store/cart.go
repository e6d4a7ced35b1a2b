package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/smartrecall/internal/domain"
)

// AddToCart adds quantity units of productID, incrementing an existing line.
func (s *SQLiteStore) AddToCart(ctx context.Context, sessionID, productID string, quantity int) (domain.CartItem, error) {
	if quantity <= 0 {
		return domain.CartItem{}, ErrInvalidQuantity
	}
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return domain.CartItem{}, err
	}

	item := domain.CartItem{ProductID: productID, Product: product}
	err = s.writeSession(ctx, sessionID, func(tx *sql.Tx) error {
		now := s.now()
		if err := ensureSession(ctx, tx, sessionID, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (session_id, product_id, quantity, added_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id, product_id) DO UPDATE SET quantity = quantity + excluded.quantity`,
			sessionID, productID, quantity, now.UnixMilli()); err != nil {
			return fmt.Errorf("upsert cart item: %w", err)
		}
		var addedAt int64
		row := tx.QueryRowContext(ctx, `SELECT quantity, added_at FROM cart_items WHERE session_id = ? AND product_id = ?`, sessionID, productID)
		if err := row.Scan(&item.Quantity, &addedAt); err != nil {
			return fmt.Errorf("read cart item: %w", err)
		}
		item.AddedAt = time.UnixMilli(addedAt)
		return touchSession(ctx, tx, sessionID, now)
	})
	if err != nil {
		return domain.CartItem{}, fmt.Errorf("failed to add %s to cart: %w", productID, err)
	}
	return item, nil
}

// GetCart returns the cart lines in insertion order with product details attached.
func (s *SQLiteStore) GetCart(ctx context.Context, sessionID string) ([]domain.CartItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.product_id, c.quantity, c.added_at,
			p.id, p.name, p.brand, p.category, p.description, p.sale_price, p.market_price, p.rating, p.is_on_sale
		FROM cart_items c LEFT JOIN products p ON p.id = c.product_id
		WHERE c.session_id = ? ORDER BY c.added_at, c.product_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := []domain.CartItem{}
	for rows.Next() {
		var (
			it      domain.CartItem
			addedAt int64
			id      sql.NullString
			p       domain.Product
			brand   sql.NullString
			cat     sql.NullString
			desc    sql.NullString
			name    sql.NullString
			sale    sql.NullFloat64
			market  sql.NullFloat64
			rating  sql.NullFloat64
			onSale  sql.NullBool
		)
		if err := rows.Scan(&it.ProductID, &it.Quantity, &addedAt,
			&id, &name, &brand, &cat, &desc, &sale, &market, &rating, &onSale); err != nil {
			return nil, fmt.Errorf("scan cart row: %w", err)
		}
		it.AddedAt = time.UnixMilli(addedAt)
		if id.Valid {
			p = domain.Product{
				ID:          id.String,
				Name:        name.String,
				Brand:       brand.String,
				Category:    cat.String,
				Description: desc.String,
				SalePrice:   sale.Float64,
				MarketPrice: market.Float64,
				Rating:      rating.Float64,
				IsOnSale:    onSale.Bool,
			}
			it.Product = &p
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart: %w", err)
	}
	return items, nil
}

// RemoveFromCart deletes one product line.
func (s *SQLiteStore) RemoveFromCart(ctx context.Context, sessionID, productID string) error {
	var removed int64
	err := s.writeSession(ctx, sessionID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE session_id = ? AND product_id = ?`, sessionID, productID)
		if err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if removed == 0 {
			return nil
		}
		return touchSession(ctx, tx, sessionID, s.now())
	})
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearCart empties the session cart.
func (s *SQLiteStore) ClearCart(ctx context.Context, sessionID string) (int64, error) {
	var removed int64
	err := s.writeSession(ctx, sessionID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return touchSession(ctx, tx, sessionID, s.now())
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
