package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// CatalogRepository reads the product catalog owned by the catalogue service.
type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// MissingProducts returns the ids that have no catalog row, in input order.
func (r *CatalogRepository) MissingProducts(ctx context.Context, productIDs []string) ([]string, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id FROM products WHERE id = ANY($1)`, pq.Array(productIDs))
	if err != nil {
		return nil, fmt.Errorf("catalog lookup error: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(productIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("catalog scan error: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog lookup error: %w", err)
	}

	var missing []string
	for _, id := range productIDs {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
