package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IndexRepository stores finished transcripts as searchable documents.
type IndexRepository struct {
	pool *pgxpool.Pool
}

// NewIndexRepository constructs a repository.
func NewIndexRepository(pool *pgxpool.Pool) *IndexRepository {
	return &IndexRepository{pool: pool}
}

// Integrate inserts the transcript into the search table and returns the new
// document id.
func (r *IndexRepository) Integrate(ctx context.Context, tenant, title, text string) (string, error) {
	id := uuid.NewString()
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO search_documents (id, tenant, title, body, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, id, tenant, title, text, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("insert search document: %w", err)
	}
	return id, nil
}
