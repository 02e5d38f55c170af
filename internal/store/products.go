package store

import (
	"context"

	"orderly/internal/models"

	"github.com/google/uuid"
)

const productColumns = "id, name, description, price, stock, is_active, created_at, updated_at"

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "Product with id %s not found", id)
	}
	return &product, nil
}

// CreateProduct inserts a catalog entry. Catalog management lives elsewhere;
// this exists for seeding and tests.
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `
		INSERT INTO products (id, name, description, price, stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.IsActive).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}
