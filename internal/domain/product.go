package domain

// Product is a catalog entry.
type Product struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Brand       string  `json:"brand" yaml:"brand"`
	Category    string  `json:"category" yaml:"category"`
	Description string  `json:"description,omitempty" yaml:"description"`
	SalePrice   float64 `json:"salePrice" yaml:"sale_price"`
	MarketPrice float64 `json:"marketPrice" yaml:"market_price"`
	Rating      float64 `json:"rating" yaml:"rating"`
	IsOnSale    bool    `json:"isOnSale" yaml:"is_on_sale"`
}

// ProductCriteria filters a catalog search. Zero values disable a filter.
type ProductCriteria struct {
	Query     string  `json:"query"`
	Category  string  `json:"category,omitempty"`
	MaxPrice  float64 `json:"maxPrice,omitempty"`
	MinRating float64 `json:"minRating,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

// Ingredient is one item of a recipe ingredient list.
type Ingredient struct {
	Name      string `json:"name"`
	Quantity  string `json:"quantity"`
	Essential bool   `json:"essential"`
}

// RecipeIngredients is the structured ingredient list for a recipe.
type RecipeIngredients struct {
	Recipe      string       `json:"recipe"`
	Ingredients []Ingredient `json:"ingredients"`
}
