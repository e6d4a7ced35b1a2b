package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/smartrecall/internal/domain"
	"github.com/ashureev/smartrecall/internal/llm"
	"github.com/ashureev/smartrecall/internal/search"
	"github.com/ashureev/smartrecall/internal/shop"
	"github.com/ashureev/smartrecall/internal/store"
)

// DirectAnswerPrefix is prepended to questions answered from model knowledge.
const DirectAnswerPrefix = "Answer this directly from your knowledge: "

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }

func num(desc string) map[string]any { return map[string]any{"type": "number", "description": desc} }

// WebSearch searches the web and returns a one-line summary.
func WebSearch(s search.Searcher) Tool {
	return New(llm.ToolSpec{
		Name:        NameWebSearch,
		Description: "Search the web for current information, news, weather, stock prices, or any real-time data.",
		Parameters:  object(map[string]any{"query": str("The search query")}, "query"),
	}, func(ctx context.Context, _ Invocation, a WebSearchArgs) (string, error) {
		resp, err := s.Search(ctx, a.Query)
		if err != nil {
			return "", fmt.Errorf("web search: %w", err)
		}
		return search.Summarize(resp), nil
	})
}

// DirectAnswer answers from the model's own knowledge. systemPrompt may be empty.
func DirectAnswer(model llm.Model, systemPrompt string, temperature float64) Tool {
	return New(llm.ToolSpec{
		Name: NameDirectAnswer,
		Description: "Answer questions using your existing knowledge. This is for general knowledge questions, " +
			"explanations, definitions, or any question that doesn't require real-time information.",
		Parameters: object(map[string]any{"question": str("The question to answer")}, "question"),
	}, func(ctx context.Context, _ Invocation, a DirectAnswerArgs) (string, error) {
		var msgs []llm.Message
		if systemPrompt != "" {
			msgs = append(msgs, llm.System(systemPrompt))
		}
		msgs = append(msgs, llm.User(DirectAnswerPrefix+a.Question))
		resp, err := model.Chat(ctx, llm.Request{Messages: msgs, Temperature: llm.Float(temperature)})
		if err != nil {
			return "", fmt.Errorf("direct answer: %w", err)
		}
		return resp.Message.Content, nil
	})
}

// ProductSearchResult is the JSON shape of search_products.
type ProductSearchResult struct {
	Type     string           `json:"type"`
	Success  bool             `json:"success"`
	Count    int              `json:"count"`
	Products []domain.Product `json:"products"`
}

// SearchProducts searches the catalog.
func SearchProducts(ps *shop.ProductSearch) Tool {
	return New(llm.ToolSpec{
		Name:        NameSearchProducts,
		Description: "Find specific grocery products, or show more options and brands for an ingredient.",
		Parameters: object(map[string]any{
			"query":     str("What to search for"),
			"category":  str("Optional category filter"),
			"maxPrice":  num("Optional maximum sale price"),
			"minRating": num("Optional minimum rating"),
			"limit":     map[string]any{"type": "integer", "description": "Maximum number of products (default 10)"},
		}, "query"),
	}, func(ctx context.Context, _ Invocation, a SearchProductsArgs) (string, error) {
		products, err := ps.Search(ctx, domain.ProductCriteria{
			Query:     a.Query,
			Category:  a.Category,
			MaxPrice:  a.MaxPrice,
			MinRating: a.MinRating,
			Limit:     a.Limit,
		})
		if err != nil {
			return "", err
		}
		return marshal(ProductSearchResult{Type: TypeProductSearch, Success: true, Count: len(products), Products: products})
	})
}

// RecipeResult is the JSON shape of recipe_ingredients.
type RecipeResult struct {
	Type               string                   `json:"type"`
	Success            bool                     `json:"success"`
	Recipe             string                   `json:"recipe,omitempty"`
	IngredientProducts []shop.IngredientProduct `json:"ingredientProducts,omitempty"`
	Error              string                   `json:"error,omitempty"`
}

// RecipeIngredients lists a recipe's essential ingredients with one product each.
func RecipeIngredients(rs *shop.RecipeShopper) Tool {
	return New(llm.ToolSpec{
		Name: NameRecipeIngredients,
		Description: "Get the essential ingredients for a recipe with one suggested product each. " +
			"Use this first for recipe or ingredient questions.",
		Parameters: object(map[string]any{"recipe": str("The dish to cook")}, "recipe"),
	}, func(ctx context.Context, _ Invocation, a RecipeIngredientsArgs) (string, error) {
		out, err := rs.Lookup(ctx, a.Recipe)
		if errors.Is(err, shop.ErrRecipeParse) {
			return marshal(RecipeResult{Type: TypeRecipeIngredients, Error: shop.RecipeParseMessage})
		}
		if err != nil {
			return "", err
		}
		return marshal(RecipeResult{
			Type:               TypeRecipeIngredients,
			Success:            true,
			Recipe:             out.Recipe,
			IngredientProducts: out.IngredientProducts,
		})
	})
}

// CartResult is the JSON shape of every cart tool.
type CartResult struct {
	Type    string              `json:"type"`
	Action  string              `json:"action"`
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
	Items   []domain.CartItem   `json:"items,omitempty"`
	Summary *domain.CartSummary `json:"cartSummary,omitempty"`
}

// AddToCart adds products to the caller's session cart.
func AddToCart(cs *shop.CartService) Tool {
	return New(llm.ToolSpec{
		Name:        NameAddToCart,
		Description: "Add products to the shopping cart by product ID.",
		Parameters: object(map[string]any{
			"productIds": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Product IDs to add"},
			"quantities": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}, "description": "Quantity per product, default 1"},
		}, "productIds"),
	}, func(ctx context.Context, inv Invocation, a AddToCartArgs) (string, error) {
		res, err := cs.AddItems(ctx, inv.SessionID, a.ProductIDs, a.Quantities)
		if err != nil {
			return "", err
		}
		out := CartResult{Type: TypeCart, Action: "add", Success: res.Success, Message: res.Message, Error: res.Error}
		if res.Success {
			out.Items = res.AddedItems
			out.Summary = &res.Summary
		}
		return marshal(out)
	})
}

// ViewCart shows the caller's cart with totals.
func ViewCart(cs *shop.CartService) Tool {
	return New(llm.ToolSpec{
		Name:        NameViewCart,
		Description: "Show the current shopping cart with totals.",
		Parameters:  object(map[string]any{}),
	}, func(ctx context.Context, inv Invocation, _ ViewCartArgs) (string, error) {
		view, err := cs.View(ctx, inv.SessionID)
		if err != nil {
			return "", err
		}
		msg := "Your cart is empty."
		if len(view.Items) > 0 {
			msg = fmt.Sprintf("Your cart has %d item(s).", view.Summary.TotalItems)
		}
		return marshal(CartResult{Type: TypeCart, Action: "view", Success: true, Message: msg, Items: view.Items, Summary: &view.Summary})
	})
}

// RemoveFromCart removes one product line from the caller's cart.
func RemoveFromCart(cs *shop.CartService) Tool {
	return New(llm.ToolSpec{
		Name:        NameRemoveFromCart,
		Description: "Remove a product from the shopping cart.",
		Parameters:  object(map[string]any{"productId": str("Product ID to remove")}, "productId"),
	}, func(ctx context.Context, inv Invocation, a RemoveFromCartArgs) (string, error) {
		err := cs.Remove(ctx, inv.SessionID, a.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return marshal(CartResult{Type: TypeCart, Action: "remove", Error: "That product is not in your cart."})
		}
		if err != nil {
			return "", err
		}
		return marshal(CartResult{Type: TypeCart, Action: "remove", Success: true, Message: "Removed item from your cart."})
	})
}

// ClearCart empties the caller's cart.
func ClearCart(cs *shop.CartService) Tool {
	return New(llm.ToolSpec{
		Name:        NameClearCart,
		Description: "Remove every item from the shopping cart.",
		Parameters:  object(map[string]any{}),
	}, func(ctx context.Context, inv Invocation, _ ClearCartArgs) (string, error) {
		n, err := cs.Clear(ctx, inv.SessionID)
		if err != nil {
			return "", err
		}
		return marshal(CartResult{Type: TypeCart, Action: "clear", Success: true, Message: fmt.Sprintf("Cleared %d item(s) from your cart.", n)})
	})
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(b), nil
}
