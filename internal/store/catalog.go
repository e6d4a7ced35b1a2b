package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/smartrecall/internal/domain"
)

const defaultSearchLimit = 10

// UpsertProducts inserts or replaces catalog entries.
func (s *SQLiteStore) UpsertProducts(ctx context.Context, products []domain.Product) error {
	return s.retry.Execute(ctx, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO products (id, name, brand, category, description, sale_price, market_price, rating, is_on_sale)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					brand = excluded.brand,
					category = excluded.category,
					description = excluded.description,
					sale_price = excluded.sale_price,
					market_price = excluded.market_price,
					rating = excluded.rating,
					is_on_sale = excluded.is_on_sale`)
			if err != nil {
				return fmt.Errorf("prepare product upsert: %w", err)
			}
			defer func() { _ = stmt.Close() }()

			for _, p := range products {
				if p.ID == "" || p.Name == "" {
					return fmt.Errorf("product requires id and name: %+v", p)
				}
				if _, err := stmt.ExecContext(ctx, p.ID, p.Name, p.Brand, p.Category, p.Description,
					p.SalePrice, p.MarketPrice, p.Rating, p.IsOnSale); err != nil {
					return fmt.Errorf("upsert product %s: %w", p.ID, err)
				}
			}
			return nil
		})
	})
}

const productColumns = `id, name, brand, category, description, sale_price, market_price, rating, is_on_sale`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(r rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := r.Scan(&p.ID, &p.Name, &p.Brand, &p.Category, &p.Description,
		&p.SalePrice, &p.MarketPrice, &p.Rating, &p.IsOnSale); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProduct returns one catalog entry or ErrNotFound.
func (s *SQLiteStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, productID)
	p, err := scanProduct(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan product row: %w", err)
	}
	return p, nil
}

// SearchProducts performs a keyword search over name, brand, category and
// description. Results are ranked by the number of matched query terms,
// then by rating.
func (s *SQLiteStore) SearchProducts(ctx context.Context, c domain.ProductCriteria) ([]domain.Product, error) {
	limit := c.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var (
		where []string
		args  []any
	)
	terms := searchTerms(c.Query)
	if len(terms) > 0 {
		var ors []string
		for _, t := range terms {
			like := "%" + t + "%"
			ors = append(ors, `(lower(name) LIKE ? OR lower(brand) LIKE ? OR lower(category) LIKE ? OR lower(description) LIKE ?)`)
			args = append(args, like, like, like, like)
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	if c.Category != "" {
		where = append(where, `lower(category) LIKE ?`)
		args = append(args, "%"+strings.ToLower(c.Category)+"%")
	}
	if c.MaxPrice > 0 {
		where = append(where, `sale_price <= ?`)
		args = append(args, c.MaxPrice)
	}
	if c.MinRating > 0 {
		where = append(where, `rating >= ?`)
		args = append(args, c.MinRating)
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		p     domain.Product
		score int
	}
	var found []scored
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		found = append(found, scored{p: *p, score: termHits(*p, terms)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].score != found[j].score {
			return found[i].score > found[j].score
		}
		if found[i].p.Rating != found[j].p.Rating {
			return found[i].p.Rating > found[j].p.Rating
		}
		return found[i].p.ID < found[j].p.ID
	})

	if len(found) > limit {
		found = found[:limit]
	}
	out := make([]domain.Product, len(found))
	for i, f := range found {
		out[i] = f.p
	}
	return out, nil
}

func searchTerms(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

func termHits(p domain.Product, terms []string) int {
	text := strings.ToLower(p.Name + " " + p.Brand + " " + p.Category + " " + p.Description)
	n := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			n++
		}
	}
	return n
}

type catalogFile struct {
	Products []domain.Product `yaml:"products"`
}

// SeedCatalogFile loads products from a YAML file and upserts them.
// It returns the number of products loaded.
func SeedCatalogFile(ctx context.Context, c Catalog, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog seed: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse catalog seed %s: %w", path, err)
	}
	if err := c.UpsertProducts(ctx, f.Products); err != nil {
		return 0, err
	}
	return len(f.Products), nil
}
