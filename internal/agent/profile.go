package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/smartrecall/internal/llm"
	"github.com/ashureev/smartrecall/internal/policy"
	"github.com/ashureev/smartrecall/internal/search"
	"github.com/ashureev/smartrecall/internal/shop"
	"github.com/ashureev/smartrecall/internal/tools"
)

const (
	generalFallback = "I apologize, but I'm having trouble processing your request."
	groceryFallback = "I apologize, but I'm having trouble with your grocery request right now. " +
		"Please try asking about recipe ingredients, searching for products, or managing your cart!"

	agentTemperature         = 0.1
	generalAnswerTemperature = 0.1
	groceryAnswerTemperature = 0.2
)

const generalSystemPrompt = `You are a helpful assistant with two tools.

web_search: for anything current or real-time such as weather, news, stock prices or the time in a place.
direct_answer: for general knowledge, explanations and definitions that do not change over time.

Pick the single most appropriate tool, then answer the user concisely using its result.`

const groceryKnowledgePrompt = `You are a knowledgeable grocery shopping and cooking assistant. Answer questions about:
- Cooking methods and techniques
- Food storage and preparation tips
- Nutritional information and health benefits
- Spices, seasonings, and flavor combinations
- Grocery shopping advice and tips
- Indian cuisine and cooking techniques

Provide helpful, accurate information based on your knowledge. Keep responses concise and practical.
Do not mention specific product prices or brands - focus on general knowledge and advice.`

const grocerySystemPrompt = `You are a helpful grocery shopping assistant. Your tools return JSON data.

recipe_ingredients: for recipe or ingredient questions ("ingredients for butter chicken", "what do I need to make dal").
Returns the essential ingredients with one suggested product each. Use it first for recipes.
After showing ingredients, offer: "Want more options for any ingredient? Just ask!"

search_products: for specific product searches and follow-ups such as "more options" or "more brands".

add_to_cart, view_cart, remove_from_cart, clear_cart: cart management by product id.

direct_answer: general cooking and food knowledge (tips, techniques, nutrition, storage), not recipe ingredients.

Formatting rules:
1. Parse every JSON tool response before presenting it.
2. Show products as: **Product Name** by Brand - ₹Price (ID: 12345)
3. Always include product ids as plain numbers, never as markdown links.
4. Keep answers short and easy to act on.

Session ID: %s
Make responses helpful, fast, and easy to interact with!`

// Profile binds a tool set, a cache policy table and prompts into one agent persona.
type Profile struct {
	Name     string
	Model    llm.Model
	Policies *policy.Table
	Tools    *tools.Registry
	// Fallback is the reply used when the dispatch loop fails.
	Fallback string

	prompt func(sessionID string) string
}

// SystemPrompt renders the system prompt for a session.
func (p *Profile) SystemPrompt(sessionID string) string {
	if p.prompt == nil {
		return ""
	}
	return p.prompt(sessionID)
}

// ToolDeps are the collaborators profile tools are built from.
type ToolDeps struct {
	Model       llm.Model
	Searcher    search.Searcher
	Products    *shop.ProductSearch
	Recipes     *shop.RecipeShopper
	Cart        *shop.CartService
	ToolTimeout time.Duration
}

// NewGeneralProfile builds the open-domain profile. A nil table selects policy.General().
func NewGeneralProfile(deps ToolDeps, table *policy.Table) (*Profile, error) {
	if deps.Model == nil {
		return nil, errors.New("agent: general profile requires a model")
	}
	if deps.Searcher == nil {
		return nil, errors.New("agent: general profile requires a searcher")
	}
	if table == nil {
		table = policy.General()
	}
	reg, err := tools.NewRegistry(deps.ToolTimeout,
		tools.WebSearch(deps.Searcher),
		tools.DirectAnswer(deps.Model, "", generalAnswerTemperature),
	)
	if err != nil {
		return nil, fmt.Errorf("general tools: %w", err)
	}
	return &Profile{
		Name:     ProfileGeneral,
		Model:    deps.Model,
		Policies: table,
		Tools:    reg,
		Fallback: generalFallback,
		prompt:   func(string) string { return generalSystemPrompt },
	}, nil
}

// NewGroceryProfile builds the shopping assistant profile. A nil table selects policy.Grocery().
func NewGroceryProfile(deps ToolDeps, table *policy.Table) (*Profile, error) {
	if deps.Model == nil {
		return nil, errors.New("agent: grocery profile requires a model")
	}
	if deps.Products == nil || deps.Recipes == nil || deps.Cart == nil {
		return nil, errors.New("agent: grocery profile requires products, recipes and cart")
	}
	if table == nil {
		table = policy.Grocery()
	}
	reg, err := tools.NewRegistry(deps.ToolTimeout,
		tools.RecipeIngredients(deps.Recipes),
		tools.SearchProducts(deps.Products),
		tools.AddToCart(deps.Cart),
		tools.ViewCart(deps.Cart),
		tools.RemoveFromCart(deps.Cart),
		tools.ClearCart(deps.Cart),
		tools.DirectAnswer(deps.Model, groceryKnowledgePrompt, groceryAnswerTemperature),
	)
	if err != nil {
		return nil, fmt.Errorf("grocery tools: %w", err)
	}
	return &Profile{
		Name:     ProfileGrocery,
		Model:    deps.Model,
		Policies: table,
		Tools:    reg,
		Fallback: groceryFallback,
		prompt: func(sessionID string) string {
			return fmt.Sprintf(grocerySystemPrompt, sessionID)
		},
	}, nil
}
