package shop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/smartrecall/internal/domain"
	"github.com/ashureev/smartrecall/internal/llm"
	"github.com/ashureev/smartrecall/internal/resilience"
)

const (
	maxEssentialIngredients = 6
	defaultExtractTimeout   = 10 * time.Second
)

// ErrRecipeParse is returned when the model reply is not a usable ingredient list.
var ErrRecipeParse = errors.New("shop: could not parse recipe ingredients")

// RecipeParseMessage is the user-facing text for ErrRecipeParse.
const RecipeParseMessage = "Could not parse recipe ingredients. Please try rephrasing your recipe request."

const extractionPrompt = `Extract essential ingredients for this recipe. Return ONLY valid JSON:

{
  "recipe": "recipe name",
  "ingredients": [
    { "name": "simple ingredient name", "quantity": "amount", "essential": true }
  ]
}

Rules:
- Max 6 ingredients marked essential: true
- Use simple names: "chicken", "onions", "tomatoes"
- Skip salt, water, oil unless special
- Be concise and fast`

// RecipeExtractor asks a model for a recipe's ingredients.
type RecipeExtractor struct {
	model   llm.Model
	modelID string
	timeout *resilience.Timeout
}

// NewRecipeExtractor creates an extractor. modelID overrides the model's
// default when non-empty; timeout defaults to 10s.
func NewRecipeExtractor(model llm.Model, modelID string, timeout time.Duration) *RecipeExtractor {
	if timeout <= 0 {
		timeout = defaultExtractTimeout
	}
	return &RecipeExtractor{model: model, modelID: modelID, timeout: resilience.NewTimeout(timeout)}
}

// Extract returns the structured ingredient list for recipe.
func (e *RecipeExtractor) Extract(ctx context.Context, recipe string) (*domain.RecipeIngredients, error) {
	resp, err := resilience.Do(ctx, e.timeout, func(ctx context.Context) (*llm.Response, error) {
		return e.model.Chat(ctx, llm.Request{
			Messages:    []llm.Message{llm.System(extractionPrompt), llm.User("Ingredients for " + recipe)},
			Temperature: llm.Float(0.1),
			JSON:        true,
			Model:       e.modelID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("extract ingredients: %w", err)
	}

	var out domain.RecipeIngredients
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Message.Content)), &out); err != nil {
		slog.Warn("Recipe extraction returned invalid JSON", "recipe", recipe, "error", err)
		return nil, ErrRecipeParse
	}
	if len(out.Ingredients) == 0 {
		return nil, ErrRecipeParse
	}
	if out.Recipe == "" {
		out.Recipe = recipe
	}
	out.Ingredients = capEssential(out.Ingredients)
	return &out, nil
}

// capEssential keeps at most six essential ingredients, preserving order.
func capEssential(in []domain.Ingredient) []domain.Ingredient {
	out := make([]domain.Ingredient, 0, len(in))
	essential := 0
	for _, ing := range in {
		if strings.TrimSpace(ing.Name) == "" {
			continue
		}
		if ing.Essential {
			if essential >= maxEssentialIngredients {
				ing.Essential = false
			} else {
				essential++
			}
		}
		out = append(out, ing)
	}
	return out
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// IngredientProduct pairs an ingredient with one suggested catalog product.
type IngredientProduct struct {
	Ingredient       domain.Ingredient `json:"ingredient"`
	SuggestedProduct *domain.Product   `json:"suggestedProduct,omitempty"`
}

// RecipeProducts is the result of a recipe lookup.
type RecipeProducts struct {
	Recipe             string              `json:"recipe"`
	IngredientProducts []IngredientProduct `json:"ingredientProducts"`
}

// RecipeShopper combines extraction with one product suggestion per essential ingredient.
type RecipeShopper struct {
	extractor *RecipeExtractor
	products  *ProductSearch
}

// NewRecipeShopper creates a recipe shopper.
func NewRecipeShopper(extractor *RecipeExtractor, products *ProductSearch) *RecipeShopper {
	return &RecipeShopper{extractor: extractor, products: products}
}

// Lookup extracts ingredients for recipe and suggests a product for each essential one.
func (r *RecipeShopper) Lookup(ctx context.Context, recipe string) (*RecipeProducts, error) {
	ingredients, err := r.extractor.Extract(ctx, recipe)
	if err != nil {
		return nil, err
	}

	out := &RecipeProducts{Recipe: ingredients.Recipe, IngredientProducts: []IngredientProduct{}}
	for _, ing := range ingredients.Ingredients {
		if !ing.Essential {
			continue
		}
		ip := IngredientProduct{Ingredient: ing}
		found, err := r.products.Search(ctx, domain.ProductCriteria{Query: ing.Name, Limit: 1})
		if err != nil {
			slog.Warn("Product lookup for ingredient failed", "ingredient", ing.Name, "error", err)
		} else if len(found) > 0 {
			p := found[0]
			ip.SuggestedProduct = &p
		}
		out.IngredientProducts = append(out.IngredientProducts, ip)
	}
	return out, nil
}
