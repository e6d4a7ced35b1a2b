// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/smartrecall/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidQuantity is returned for non-positive cart quantities.
	ErrInvalidQuantity = errors.New("store: quantity must be positive")
)

// Repository defines the interface for persisting sessions, transcripts,
// carts and the product catalog.
type Repository interface {
	ConversationStore
	CartStore
	Catalog

	// GetSession loads the whole session document.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ExpireIdleSessions deletes sessions not updated within ttl and returns their ids.
	ExpireIdleSessions(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// ConversationStore holds per-session chat transcripts.
//
// Contract:
// - Concurrency: safe for concurrent use; writes to one session are serialised.
// - Ordering: messages of a chat are returned in append order.
type ConversationStore interface {
	// GetOrCreateHistory returns the chat transcript, creating empty session
	// and chat records when absent.
	GetOrCreateHistory(ctx context.Context, sessionID, chatID string) ([]domain.Message, error)

	// AppendMessage appends one message to a chat and bumps the session's updated_at.
	AppendMessage(ctx context.Context, sessionID, chatID string, msg domain.Message) error

	// AppendTurn appends a user message and its assistant reply atomically.
	AppendTurn(ctx context.Context, sessionID, chatID string, user, assistant domain.Message) error

	// DeleteSession removes the session with its chats and cart. It returns
	// the number of sessions removed (0 or 1).
	DeleteSession(ctx context.Context, sessionID string) (int64, error)
}

// CartStore holds the per-session cart.
type CartStore interface {
	// AddToCart adds quantity of a product, incrementing an existing line.
	AddToCart(ctx context.Context, sessionID, productID string, quantity int) (domain.CartItem, error)

	// GetCart returns cart lines with product details attached.
	GetCart(ctx context.Context, sessionID string) ([]domain.CartItem, error)

	// RemoveFromCart deletes one product line; ErrNotFound when absent.
	RemoveFromCart(ctx context.Context, sessionID, productID string) error

	// ClearCart empties the cart and returns the number of removed lines.
	ClearCart(ctx context.Context, sessionID string) (int64, error)
}

// Catalog is the read-mostly product catalog.
type Catalog interface {
	UpsertProducts(ctx context.Context, products []domain.Product) error
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	SearchProducts(ctx context.Context, criteria domain.ProductCriteria) ([]domain.Product, error)
}
