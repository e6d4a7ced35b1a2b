package shop

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/smartrecall/internal/domain"
	"github.com/ashureev/smartrecall/internal/embedding"
	"github.com/ashureev/smartrecall/internal/llm"
	"github.com/ashureev/smartrecall/internal/resilience"
	"github.com/ashureev/smartrecall/internal/store"
)

var catalog = []domain.Product{
	{ID: "101", Name: "Chicken Breast", Brand: "FreshFarm", Category: "Meat", SalePrice: 250, Rating: 4.5},
	{ID: "102", Name: "Red Onions", Brand: "Greens", Category: "Vegetables", SalePrice: 40, Rating: 4.1},
	{ID: "103", Name: "Tomatoes", Brand: "Greens", Category: "Vegetables", SalePrice: 30, Rating: 4.3},
	{ID: "104", Name: "Unsalted Butter", Brand: "Amul", Category: "Dairy", SalePrice: 55, Rating: 4.8},
	{ID: "105", Name: "Garam Masala", Brand: "MDH", Category: "Spices", SalePrice: 80, Rating: 4.6},
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "shop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.UpsertProducts(context.Background(), catalog))
	return s
}

type stubModel struct {
	reply string
	err   error
	delay time.Duration
	last  llm.Request
}

func (m *stubModel) Name() string { return "stub" }

func (m *stubModel) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.last = req
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{Message: llm.Assistant(m.reply)}, nil
}

func TestCartServiceAddItems(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	svc := NewCartService(s)
	ctx := context.Background()

	res, err := svc.AddItems(ctx, "s1", []string{"101", "999", "104"}, []int{2})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Successfully added 2 item(s) to your cart!", res.Message)
	assert.Equal(t, []string{"999"}, res.Failed)
	assert.Equal(t, 3, res.Summary.TotalItems)
	assert.InDelta(t, 2*250+55, res.Summary.TotalPrice, 1e-9)

	res, err = svc.AddItems(ctx, "s1", []string{"999"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Could not add any items to cart. Please check product IDs.", res.Error)

	view, err := svc.View(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)

	require.NoError(t, svc.Remove(ctx, "s1", "101"))
	n, err := svc.Clear(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProductSearchSemanticThenKeyword(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	withEmbedder := NewProductSearch(s, embedding.NewLexicalEmbedder(0))
	got, err := withEmbedder.Search(ctx, domain.ProductCriteria{Query: "tomatoes", Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "103", got[0].ID)
	assert.LessOrEqual(t, len(got), 3)

	keywordOnly := NewProductSearch(s, nil)
	got, err = keywordOnly.Search(ctx, domain.ProductCriteria{Category: "vegetables", MaxPrice: 35})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "103", got[0].ID)

	got, err = keywordOnly.Search(ctx, domain.ProductCriteria{Query: "caviar"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRecipeExtractor(t *testing.T) {
	t.Parallel()

	model := &stubModel{reply: "```json\n" + `{"recipe":"butter chicken","ingredients":[
		{"name":"chicken","quantity":"500g","essential":true},
		{"name":"butter","quantity":"50g","essential":true},
		{"name":"tomatoes","quantity":"3","essential":true},
		{"name":"onions","quantity":"2","essential":true},
		{"name":"garam masala","quantity":"1 tsp","essential":true},
		{"name":"cream","quantity":"100ml","essential":true},
		{"name":"kasuri methi","quantity":"1 tsp","essential":true}]}` + "\n```"}
	ex := NewRecipeExtractor(model, "mini", 0)

	got, err := ex.Extract(context.Background(), "butter chicken")
	require.NoError(t, err)
	assert.Equal(t, "butter chicken", got.Recipe)
	require.Len(t, got.Ingredients, 7)
	essential := 0
	for _, ing := range got.Ingredients {
		if ing.Essential {
			essential++
		}
	}
	assert.Equal(t, 6, essential)
	assert.False(t, got.Ingredients[6].Essential)

	assert.True(t, model.last.JSON)
	assert.Equal(t, "mini", model.last.Model)
	assert.Equal(t, "Ingredients for butter chicken", model.last.Messages[1].Content)
}

func TestRecipeExtractorErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := NewRecipeExtractor(&stubModel{reply: "sorry, no idea"}, "", 0).Extract(ctx, "x")
	require.ErrorIs(t, err, ErrRecipeParse)

	_, err = NewRecipeExtractor(&stubModel{reply: `{"recipe":"x","ingredients":[]}`}, "", 0).Extract(ctx, "x")
	require.ErrorIs(t, err, ErrRecipeParse)

	boom := errors.New("boom")
	_, err = NewRecipeExtractor(&stubModel{err: boom}, "", 0).Extract(ctx, "x")
	require.ErrorIs(t, err, boom)

	_, err = NewRecipeExtractor(&stubModel{delay: time.Second}, "", 20*time.Millisecond).Extract(ctx, "x")
	require.ErrorIs(t, err, resilience.ErrTimeout)
}

func TestRecipeShopperLookup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	model := &stubModel{reply: `{"recipe":"butter chicken","ingredients":[
		{"name":"chicken","quantity":"500g","essential":true},
		{"name":"butter","quantity":"50g","essential":true},
		{"name":"saffron","quantity":"pinch","essential":true},
		{"name":"salt","quantity":"to taste","essential":false}]}`}
	shopper := NewRecipeShopper(NewRecipeExtractor(model, "", 0), NewProductSearch(s, nil))

	got, err := shopper.Lookup(context.Background(), "butter chicken")
	require.NoError(t, err)
	require.Len(t, got.IngredientProducts, 3)
	require.NotNil(t, got.IngredientProducts[0].SuggestedProduct)
	assert.Equal(t, "101", got.IngredientProducts[0].SuggestedProduct.ID)
	require.NotNil(t, got.IngredientProducts[1].SuggestedProduct)
	assert.Equal(t, "104", got.IngredientProducts[1].SuggestedProduct.ID)
	assert.Nil(t, got.IngredientProducts[2].SuggestedProduct)
}
