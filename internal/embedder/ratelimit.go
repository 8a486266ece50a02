package embedder

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/acervolabs/acervo/internal/rag"
)

// RateLimited wraps an embedder with a token-bucket request limit so
// concurrent indexing workers cannot overwhelm the embedding backend.
type RateLimited struct {
	inner   rag.Embedder
	limiter *rate.Limiter
}

// NewRateLimited allows rps embed requests per second with a burst of one.
func NewRateLimited(inner rag.Embedder, rps float64) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Embed blocks until the limiter grants a slot, then delegates. One slot is
// consumed per call regardless of batch size — the backends accept batched
// input, so requests are the scarce resource, not texts.
func (r *RateLimited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limited embedder: %w", err)
	}
	return r.inner.Embed(ctx, texts)
}
