package fetch

import (
	"context"
	"fmt"
	"net/url"
)

// Router dispatches a fetch to a Fetcher by URL scheme.
type Router struct {
	fallback Fetcher
	schemes  map[string]Fetcher
}

// NewRouter returns a Router that uses fallback for unregistered schemes.
func NewRouter(fallback Fetcher) *Router {
	return &Router{fallback: fallback, schemes: make(map[string]Fetcher)}
}

// Handle registers f for scheme, e.g. "gs".
func (r *Router) Handle(scheme string, f Fetcher) {
	r.schemes[scheme] = f
}

func (r *Router) Fetch(ctx context.Context, src Source, token string) ([]byte, error) {
	target, err := src.Resolve()
	if err != nil {
		return nil, &Error{Kind: ErrTransport, DocumentID: src.DocumentID, Err: err}
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, DocumentID: src.DocumentID, Err: err}
	}
	if f, ok := r.schemes[u.Scheme]; ok {
		return f.Fetch(ctx, src, token)
	}
	if r.fallback == nil {
		return nil, &Error{Kind: ErrTransport, DocumentID: src.DocumentID, Err: fmt.Errorf("no fetcher for scheme %q", u.Scheme)}
	}
	return r.fallback.Fetch(ctx, src, token)
}
