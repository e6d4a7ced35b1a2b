package shop

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ashureev/smartrecall/internal/domain"
	"github.com/ashureev/smartrecall/internal/embedding"
	"github.com/ashureev/smartrecall/internal/store"
)

const (
	defaultProductLimit = 10
	// minKeywordSupplement is the result count below which semantic results
	// are topped up with keyword matches.
	minKeywordSupplement = 3
	// candidatePool bounds how many filtered products are scored semantically.
	candidatePool    = 200
	minSemanticScore = 0.2
)

// ProductSearch ranks catalog products for a free-text query.
type ProductSearch struct {
	catalog  store.Catalog
	embedder embedding.Embedder
}

// NewProductSearch creates a product search. A nil embedder disables
// semantic ranking and leaves keyword search only.
func NewProductSearch(catalog store.Catalog, embedder embedding.Embedder) *ProductSearch {
	return &ProductSearch{catalog: catalog, embedder: embedder}
}

// Search returns products matching c: semantic matches first, topped up
// with keyword matches when fewer than three were found.
func (s *ProductSearch) Search(ctx context.Context, c domain.ProductCriteria) ([]domain.Product, error) {
	limit := c.Limit
	if limit <= 0 {
		limit = defaultProductLimit
	}

	var results []domain.Product
	if s.embedder != nil && strings.TrimSpace(c.Query) != "" {
		semantic, err := s.semantic(ctx, c, limit)
		if err != nil {
			slog.Warn("Semantic product search failed, using keyword search", "query", c.Query, "error", err)
		} else {
			results = semantic
		}
	}

	if len(results) < minKeywordSupplement {
		kc := c
		kc.Limit = limit
		keyword, err := s.catalog.SearchProducts(ctx, kc)
		if err != nil {
			return nil, fmt.Errorf("keyword product search: %w", err)
		}
		results = mergeProducts(results, keyword, limit)
	}
	if results == nil {
		results = []domain.Product{}
	}
	return results, nil
}

func (s *ProductSearch) semantic(ctx context.Context, c domain.ProductCriteria, limit int) ([]domain.Product, error) {
	filters := c
	filters.Query = ""
	filters.Limit = candidatePool
	candidates, err := s.catalog.SearchProducts(ctx, filters)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	qv, err := s.embedder.Embed(ctx, c.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	type scored struct {
		p     domain.Product
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, p := range candidates {
		pv, err := s.embedder.Embed(ctx, productText(p))
		if err != nil {
			return nil, fmt.Errorf("embed product %s: %w", p.ID, err)
		}
		score := embedding.CosineSimilarity(qv, pv)
		if score >= minSemanticScore {
			ranked = append(ranked, scored{p: p, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]domain.Product, len(ranked))
	for i, r := range ranked {
		out[i] = r.p
	}
	return out, nil
}

func productText(p domain.Product) string {
	return strings.Join([]string{p.Name, p.Brand, p.Category, p.Description}, " ")
}

func mergeProducts(primary, extra []domain.Product, limit int) []domain.Product {
	seen := make(map[string]bool, len(primary))
	out := append([]domain.Product(nil), primary...)
	for _, p := range primary {
		seen[p.ID] = true
	}
	for _, p := range extra {
		if len(out) >= limit {
			break
		}
		if !seen[p.ID] {
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out
}
