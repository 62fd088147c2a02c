package fetch

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSFetcher reads documents addressed as gs://bucket/object. The storage
// client carries its own credentials, so the bearer token is not used.
type GCSFetcher struct {
	client   *storage.Client
	maxBytes int64
}

// NewGCSFetcher creates a GCSFetcher. maxBytes <= 0 means DefaultMaxBytes.
func NewGCSFetcher(client *storage.Client, maxBytes int64) *GCSFetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &GCSFetcher{client: client, maxBytes: maxBytes}
}

func (f *GCSFetcher) Fetch(ctx context.Context, src Source, _ string) ([]byte, error) {
	target, err := src.Resolve()
	if err != nil {
		return nil, &Error{Kind: ErrTransport, DocumentID: src.DocumentID, Err: err}
	}
	bucket, object, err := parseGCSURL(target)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, DocumentID: src.DocumentID, Err: err}
	}

	reader, err := f.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, gcsErr(ctx, src.DocumentID, err)
	}
	defer reader.Close()

	declared := reader.Attrs.ContentType
	if mediaType, _, err := mime.ParseMediaType(declared); err != nil || mediaType != MediaTypePDF {
		return nil, &Error{Kind: ErrUnexpectedContentType, DocumentID: src.DocumentID, ContentType: declared}
	}

	if reader.Attrs.Size > f.maxBytes {
		return nil, &Error{Kind: ErrPayloadTooLarge, DocumentID: src.DocumentID}
	}
	data, err := readLimited(reader, f.maxBytes)
	if errors.Is(err, ErrPayloadTooLarge) {
		return nil, &Error{Kind: ErrPayloadTooLarge, DocumentID: src.DocumentID}
	}
	if err != nil {
		return nil, gcsErr(ctx, src.DocumentID, fmt.Errorf("read gs://%s/%s: %w", bucket, object, err))
	}
	if len(data) == 0 {
		return nil, &Error{Kind: ErrEmptyPayload, DocumentID: src.DocumentID}
	}
	return data, nil
}

func gcsErr(ctx context.Context, docID string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Kind: ErrCancelled, DocumentID: docID, Err: ctx.Err()}
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &Error{Kind: ErrTransport, DocumentID: docID, Status: http.StatusNotFound, Err: err}
	}
	return &Error{Kind: ErrTransport, DocumentID: docID, Err: err}
}

func parseGCSURL(raw string) (bucket, object string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("not a gs:// url: %q", raw)
	}
	object = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || object == "" {
		return "", "", fmt.Errorf("gs url %q needs a bucket and an object", raw)
	}
	return u.Host, object, nil
}
