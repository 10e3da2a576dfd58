// Package sources holds the external source adapters the collection agent
// polls. Each adapter is independent: one failing adapter never aborts a
// collection run.
package sources

import (
	"context"
	"time"

	"fundingai-pipeline/internal/models"
)

type Adapter interface {
	Name() string
	FetchRaw(ctx context.Context, since time.Time) ([]models.RawPosting, error)
}
