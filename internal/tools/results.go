package tools

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ashureev/smartrecall/internal/domain"
)

// Result types carried in the "type" field of structured tool output.
const (
	TypeProductSearch     = "product_search"
	TypeRecipeIngredients = "recipe_ingredients"
	TypeCart              = "cart"
	TypeError             = "error"
)

type productEnvelope struct {
	Type               string           `json:"type"`
	Products           []domain.Product `json:"products"`
	IngredientProducts []struct {
		SuggestedProduct *domain.Product `json:"suggestedProduct"`
	} `json:"ingredientProducts"`
}

// FoundProducts extracts the products surfaced by a tool result. ok is false
// when the result carries no product list; non-JSON content is logged and
// treated as carrying nothing.
func FoundProducts(toolName, content string) (products []domain.Product, ok bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var env productEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		slog.Warn("Could not parse tool result as JSON", "tool", toolName, "error", err)
		return nil, false
	}
	switch env.Type {
	case TypeProductSearch:
		if env.Products == nil {
			return nil, false
		}
		return env.Products, true
	case TypeRecipeIngredients:
		if env.IngredientProducts == nil {
			return nil, false
		}
		out := []domain.Product{}
		for _, ip := range env.IngredientProducts {
			if ip.SuggestedProduct != nil {
				out = append(out, *ip.SuggestedProduct)
			}
		}
		return out, true
	}
	return nil, false
}
