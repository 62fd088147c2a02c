package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"
)

// MediaTypePDF is the media type accepted by default.
const MediaTypePDF = "application/pdf"

// DefaultMaxBytes is the largest payload read when no limit is configured.
const DefaultMaxBytes int64 = 100 << 20

// Fetcher retrieves document bytes from a remote source.
type Fetcher interface {
	Fetch(ctx context.Context, src Source, token string) ([]byte, error)
}

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	Client        *http.Client
	AcceptedTypes []string      // defaults to application/pdf
	MaxAttempts   int           // transport failures are retried up to this many attempts
	Backoff       time.Duration // initial delay between attempts, doubled each retry
	MaxBytes      int64         // payload limit, defaults to DefaultMaxBytes
	Logger        *slog.Logger
}

// HTTPFetcher fetches documents over HTTP(S) with a bearer token.
type HTTPFetcher struct {
	client      *http.Client
	accepted    map[string]bool
	acceptValue string
	maxAttempts int
	backoff     time.Duration
	maxBytes    int64
	logger      *slog.Logger
}

// NewHTTPFetcher creates an HTTPFetcher from cfg, filling in defaults.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	types := cfg.AcceptedTypes
	if len(types) == 0 {
		types = []string{MediaTypePDF}
	}
	accepted := make(map[string]bool, len(types))
	for _, t := range types {
		accepted[t] = true
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		client:      client,
		accepted:    accepted,
		acceptValue: types[0],
		maxAttempts: attempts,
		backoff:     backoff,
		maxBytes:    maxBytes,
		logger:      logger.With("component", "http_fetcher"),
	}
}

// Fetch retrieves src with token attached as an Authorization header.
// Only transport failures are retried.
func (f *HTTPFetcher) Fetch(ctx context.Context, src Source, token string) ([]byte, error) {
	target, err := src.Resolve()
	if err != nil {
		return nil, &Error{Kind: ErrTransport, DocumentID: src.DocumentID, Err: err}
	}

	backoff := f.backoff
	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		data, err := f.fetchOnce(ctx, src.DocumentID, target, token)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == f.maxAttempts {
			break
		}
		f.logger.Warn("fetch failed, will retry",
			"documentId", src.DocumentID,
			"attempt", attempt,
			"maxAttempts", f.maxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, &Error{Kind: ErrCancelled, DocumentID: src.DocumentID, Err: ctx.Err()}
		}
	}
	return nil, lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, docID, target, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, DocumentID: docID, Err: err}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", f.acceptValue)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.transportErr(ctx, docID, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{Kind: ErrTransport, DocumentID: docID, Status: resp.StatusCode}
	}

	declared := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || !f.accepted[mediaType] {
		return nil, &Error{Kind: ErrUnexpectedContentType, DocumentID: docID, ContentType: declared}
	}

	if resp.ContentLength > f.maxBytes {
		return nil, &Error{Kind: ErrPayloadTooLarge, DocumentID: docID, Status: resp.StatusCode}
	}
	data, err := readLimited(resp.Body, f.maxBytes)
	if errors.Is(err, ErrPayloadTooLarge) {
		return nil, &Error{Kind: ErrPayloadTooLarge, DocumentID: docID, Status: resp.StatusCode}
	}
	if err != nil {
		return nil, f.transportErr(ctx, docID, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if len(data) == 0 {
		return nil, &Error{Kind: ErrEmptyPayload, DocumentID: docID, Status: resp.StatusCode}
	}
	return data, nil
}

// readLimited reads r to the end, failing with ErrPayloadTooLarge once more
// than limit bytes arrive.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrPayloadTooLarge
	}
	return data, nil
}

// transportErr separates a caller cancellation from a genuine failure.
// A deadline is a timeout, not a cancellation.
func (f *HTTPFetcher) transportErr(ctx context.Context, docID string, status int, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Kind: ErrCancelled, DocumentID: docID, Err: ctx.Err()}
	}
	return &Error{Kind: ErrTransport, DocumentID: docID, Status: status, Err: err}
}
