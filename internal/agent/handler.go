package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/smartrecall/internal/api"
	"github.com/ashureev/smartrecall/internal/domain"
	"github.com/ashureev/smartrecall/internal/identity"
	"github.com/ashureev/smartrecall/internal/shop"
	"github.com/ashureev/smartrecall/internal/store"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// HandlerConfig tunes the HTTP surface.
type HandlerConfig struct {
	MaxRequestBodySize int64
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	// AllowedOrigins are websocket origin patterns; empty accepts same-origin only.
	AllowedOrigins []string
}

// HandlerDeps are the collaborators behind the HTTP routes.
type HandlerDeps struct {
	Service  *Service
	Cart     *shop.CartService
	Products *shop.ProductSearch
	Catalog  store.Catalog
}

// Handler serves the chat, session, cart and product routes.
type Handler struct {
	agent       *Service
	cart        *shop.CartService
	products    *shop.ProductSearch
	catalog     store.Catalog
	rateLimiter *RateLimiter
	maxBody     int64
	origins     []string
}

// NewHandler creates the handler and its rate limiter. Call Close to stop it.
func NewHandler(deps HandlerDeps, cfg HandlerConfig) *Handler {
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		agent:       deps.Service,
		cart:        deps.Cart,
		products:    deps.Products,
		catalog:     deps.Catalog,
		rateLimiter: NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		maxBody:     cfg.MaxRequestBodySize,
		origins:     cfg.AllowedOrigins,
	}
}

// RegisterRoutes registers the API and websocket routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/chat/{chatId}", h.HandleHistory)
		r.Delete("/sessions/{sessionId}", h.HandleEndSession)

		if h.cart != nil {
			r.Route("/cart", func(r chi.Router) {
				r.Post("/add", h.HandleCartAdd)
				r.Get("/{sessionId}", h.HandleCartView)
				r.Delete("/{sessionId}/{productId}", h.HandleCartRemove)
				r.Delete("/{sessionId}", h.HandleCartClear)
			})
		}
		if h.products != nil {
			r.Get("/products", h.HandleProductSearch)
		}
		if h.catalog != nil {
			r.Get("/products/{productId}", h.HandleProduct)
		}
	})
	r.Get("/ws/chat", h.HandleWebSocket)
}

// Close stops the rate limiter.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// HandleChat handles POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var body ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := body.turnRequest(identity.SessionIDFromContext(r.Context()))
	if strings.TrimSpace(req.Message) == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if !h.rateLimiter.Allow(req.SessionID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	slog.Info("Chat request",
		"session_id", req.SessionID,
		"chat_id", req.ChatID,
		"profile", req.Profile,
		"use_smart_recall", req.UseSmartRecall,
		"message_length", len(req.Message),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	resp, status, msg := h.turn(r.Context(), req)
	if status != http.StatusOK {
		if status > 0 {
			api.Error(w, status, msg)
		}
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// turn runs one turn and maps failures to an HTTP status. A zero status
// means the caller went away and nothing should be written.
func (h *Handler) turn(ctx context.Context, req TurnRequest) (ChatResponse, int, string) {
	if req.ChatID == "" {
		req.ChatID = domain.DefaultChatID
	}
	res, err := h.agent.HandleTurn(ctx, req)
	switch {
	case err == nil:
		return newChatResponse(req, res), http.StatusOK, ""
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnknownProfile):
		return ChatResponse{}, http.StatusBadRequest, err.Error()
	case errors.Is(err, context.Canceled):
		slog.Debug("Chat request abandoned by client", "session_id", req.SessionID)
		return ChatResponse{}, 0, ""
	default:
		slog.Error("Chat turn failed", "session_id", req.SessionID, "chat_id", req.ChatID, "error", err)
		return ChatResponse{}, http.StatusInternalServerError, "failed to process message"
	}
}

// HistoryResponse is the body of GET /api/chat/{chatId}.
type HistoryResponse struct {
	SessionID string           `json:"sessionId"`
	ChatID    string           `json:"chatId"`
	Messages  []domain.Message `json:"messages"`
}

// HandleHistory handles GET /api/chat/{chatId}.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	chatID := chi.URLParam(r, "chatId")
	if sessionID == "" {
		api.Error(w, http.StatusBadRequest, "session id is required")
		return
	}

	msgs, err := h.agent.History(r.Context(), sessionID, chatID)
	if err != nil {
		slog.Error("Failed to load chat history", "session_id", sessionID, "chat_id", chatID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}
	api.JSON(w, http.StatusOK, HistoryResponse{SessionID: sessionID, ChatID: chatID, Messages: msgs})
}

// HandleEndSession handles DELETE /api/sessions/{sessionId}.
func (h *Handler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.agent.EndSession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			api.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Failed to end session", "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	api.JSON(w, http.StatusOK, res)
}

type cartAddRequest struct {
	SessionID  string   `json:"sessionId"`
	ProductID  string   `json:"productId"`
	Quantity   int      `json:"quantity"`
	ProductIDs []string `json:"productIds"`
	Quantities []int    `json:"quantities"`
}

// HandleCartAdd handles POST /api/cart/add with either a single productId
// or a productIds list.
func (h *Handler) HandleCartAdd(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var body cartAddRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = identity.SessionIDFromContext(r.Context())
	}
	ids, qtys := body.ProductIDs, body.Quantities
	if body.ProductID != "" {
		ids, qtys = []string{body.ProductID}, []int{body.Quantity}
	}
	if sessionID == "" || len(ids) == 0 {
		api.Error(w, http.StatusBadRequest, "missing sessionId or productId")
		return
	}

	res, err := h.cart.AddItems(r.Context(), sessionID, ids, qtys)
	if err != nil {
		slog.Error("Failed to add to cart", "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to add item to cart")
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusNotFound
	}
	api.JSON(w, status, res)
}

// HandleCartView handles GET /api/cart/{sessionId}.
func (h *Handler) HandleCartView(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	view, err := h.cart.View(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to get cart", "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to get cart contents")
		return
	}
	api.JSON(w, http.StatusOK, view)
}

// HandleCartRemove handles DELETE /api/cart/{sessionId}/{productId}.
func (h *Handler) HandleCartRemove(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	productID := chi.URLParam(r, "productId")
	if err := h.cart.Remove(r.Context(), sessionID, productID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.Error(w, http.StatusNotFound, "item not in cart")
			return
		}
		slog.Error("Failed to remove from cart", "session_id", sessionID, "product_id", productID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to remove item from cart")
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"success": true, "productId": productID})
}

// HandleCartClear handles DELETE /api/cart/{sessionId}.
func (h *Handler) HandleCartClear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	n, err := h.cart.Clear(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to clear cart", "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to clear cart")
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"success": true, "removedItems": n})
}

// HandleProductSearch handles GET /api/products?q=&category=&maxPrice=&minRating=&limit=.
func (h *Handler) HandleProductSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria := domain.ProductCriteria{
		Query:    strings.TrimSpace(q.Get("q")),
		Category: strings.TrimSpace(q.Get("category")),
	}
	var err error
	if criteria.MaxPrice, err = floatParam(q.Get("maxPrice")); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid maxPrice")
		return
	}
	if criteria.MinRating, err = floatParam(q.Get("minRating")); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid minRating")
		return
	}
	if v := q.Get("limit"); v != "" {
		if criteria.Limit, err = strconv.Atoi(v); err != nil || criteria.Limit < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	products, err := h.products.Search(r.Context(), criteria)
	if err != nil {
		slog.Error("Product search failed", "query", criteria.Query, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to search products")
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"success": true, "count": len(products), "products": products})
}

// HandleProduct handles GET /api/products/{productId}.
func (h *Handler) HandleProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.Error(w, http.StatusNotFound, "product not found")
			return
		}
		slog.Error("Failed to get product", "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to get product details")
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"success": true, "product": p})
}

func floatParam(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, errors.New("invalid number")
	}
	return f, nil
}
