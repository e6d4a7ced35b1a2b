package tools

import (
	"errors"
	"fmt"
	"strings"
)

// Tool names.
const (
	NameWebSearch         = "web_search"
	NameDirectAnswer      = "direct_answer"
	NameSearchProducts    = "search_products"
	NameRecipeIngredients = "recipe_ingredients"
	NameAddToCart         = "add_to_cart"
	NameViewCart          = "view_cart"
	NameRemoveFromCart    = "remove_from_cart"
	NameClearCart         = "clear_cart"
)

// Args is the tagged union of tool arguments. Each tool decodes the model's
// JSON into its own concrete type.
type Args interface {
	ToolName() string
	Validate() error
}

// WebSearchArgs are the arguments of web_search.
type WebSearchArgs struct {
	Query string `json:"query"`
}

func (WebSearchArgs) ToolName() string { return NameWebSearch }

func (a WebSearchArgs) Validate() error {
	return required("query", a.Query)
}

// DirectAnswerArgs are the arguments of direct_answer.
type DirectAnswerArgs struct {
	Question string `json:"question"`
}

func (DirectAnswerArgs) ToolName() string { return NameDirectAnswer }

func (a DirectAnswerArgs) Validate() error {
	return required("question", a.Question)
}

// SearchProductsArgs are the arguments of search_products.
type SearchProductsArgs struct {
	Query     string  `json:"query"`
	Category  string  `json:"category,omitempty"`
	MaxPrice  float64 `json:"maxPrice,omitempty"`
	MinRating float64 `json:"minRating,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

func (SearchProductsArgs) ToolName() string { return NameSearchProducts }

func (a SearchProductsArgs) Validate() error {
	if strings.TrimSpace(a.Query) == "" && strings.TrimSpace(a.Category) == "" {
		return errors.New("query or category is required")
	}
	if a.MaxPrice < 0 || a.MinRating < 0 || a.Limit < 0 {
		return errors.New("maxPrice, minRating and limit must not be negative")
	}
	if a.Limit > 50 {
		return fmt.Errorf("limit %d exceeds 50", a.Limit)
	}
	return nil
}

// RecipeIngredientsArgs are the arguments of recipe_ingredients.
type RecipeIngredientsArgs struct {
	Recipe string `json:"recipe"`
}

func (RecipeIngredientsArgs) ToolName() string { return NameRecipeIngredients }

func (a RecipeIngredientsArgs) Validate() error {
	return required("recipe", a.Recipe)
}

// AddToCartArgs are the arguments of add_to_cart.
type AddToCartArgs struct {
	ProductIDs []string `json:"productIds"`
	Quantities []int    `json:"quantities,omitempty"`
}

func (AddToCartArgs) ToolName() string { return NameAddToCart }

func (a AddToCartArgs) Validate() error {
	if len(a.ProductIDs) == 0 {
		return errors.New("productIds must not be empty")
	}
	for _, q := range a.Quantities {
		if q < 0 {
			return fmt.Errorf("quantity %d must not be negative", q)
		}
	}
	return nil
}

// ViewCartArgs are the (empty) arguments of view_cart.
type ViewCartArgs struct{}

func (ViewCartArgs) ToolName() string { return NameViewCart }
func (ViewCartArgs) Validate() error  { return nil }

// RemoveFromCartArgs are the arguments of remove_from_cart.
type RemoveFromCartArgs struct {
	ProductID string `json:"productId"`
}

func (RemoveFromCartArgs) ToolName() string { return NameRemoveFromCart }

func (a RemoveFromCartArgs) Validate() error {
	return required("productId", a.ProductID)
}

// ClearCartArgs are the (empty) arguments of clear_cart.
type ClearCartArgs struct{}

func (ClearCartArgs) ToolName() string { return NameClearCart }
func (ClearCartArgs) Validate() error  { return nil }

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}
