package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomshop/loomshop/internal/models"
)

var ErrProductNotFound = errors.New("product not found")

// ProductStore reads the canonical catalog. The core never writes products;
// catalog management is a separate concern feeding this table.
type ProductStore struct {
	pool *pgxpool.Pool
}

func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

const productColumns = `id, slug, title, image, price_cents, presale_price_cents, discounted_price_cents, mrp_cents`

// GetByKey resolves a candidate key against both the document id and the
// slug field, the two identities a catalog record answers to.
func (s *ProductStore) GetByKey(ctx context.Context, key string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 OR slug = $1 LIMIT 1`
	return s.scanOne(s.pool.QueryRow(ctx, query, key))
}

func (s *ProductStore) List(ctx context.Context, limit int) ([]*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY title LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		product, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *ProductStore) scanOne(row pgx.Row) (*models.Product, error) {
	var product models.Product
	err := row.Scan(&product.ID, &product.Slug, &product.Title, &product.Image,
		&product.PriceCents, &product.PresalePriceCents, &product.DiscountedPriceCents, &product.MRPCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}
