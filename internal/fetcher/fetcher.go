// Package fetcher defines the HTTP fetch contract shared by the plain and
// headless implementations.
package fetcher

import (
	"context"
	"net/http"
	"time"
)

// Request describes a single page or document retrieval.
type Request struct {
	URL     string
	Headers http.Header
}

// Response carries the outcome of one fetch.
type Response struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher retrieves a single URL. Implementations must honor ctx.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}
