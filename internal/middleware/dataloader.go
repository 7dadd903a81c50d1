package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/csvmodels/internal/countloader"
	"github.com/rpattn/csvmodels/internal/repository"
)

type ctxKey string

const countLoaderKey ctxKey = "countLoader"

// DataLoaderMiddleware attaches a per-request row count loader to the context
func DataLoaderMiddleware(repo repository.RecordRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := countloader.NewCountLoader(repo)
			ctx := context.WithValue(r.Context(), countLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CountLoaderFromContext retrieves the count loader from context
func CountLoaderFromContext(ctx context.Context) *countloader.CountLoader {
	if l, ok := ctx.Value(countLoaderKey).(*countloader.CountLoader); ok {
		return l
	}
	return nil
}
