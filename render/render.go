// Package render adapts a PDF engine to the viewer: it decodes a payload into
// a page count and produces one page at a time for display.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	// ErrDecode means the payload could not be parsed as a document.
	ErrDecode = errors.New("document could not be decoded")
	// ErrPageRender means a single page could not be produced from a decoded document.
	ErrPageRender = errors.New("page could not be rendered")
)

// Engine decodes document payloads.
type Engine interface {
	Decode(ctx context.Context, data []byte) (Document, error)
}

// Document is a decoded, multi-page document.
type Document interface {
	PageCount() int
	// Page returns page n (1-based) as a standalone single-page PDF.
	Page(ctx context.Context, n int) ([]byte, error)
}

var disableConfigDir sync.Once

// PDFEngine decodes PDFs with pdfcpu.
type PDFEngine struct{}

func NewPDFEngine() *PDFEngine {
	// pdfcpu otherwise creates a config directory under the user's home.
	disableConfigDir.Do(func() { model.ConfigPath = "disable" })
	return &PDFEngine{}
}

func newConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (e *PDFEngine) Decode(ctx context.Context, data []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	count, err := api.PageCount(bytes.NewReader(data), newConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if count < 1 {
		return nil, fmt.Errorf("%w: document has no pages", ErrDecode)
	}
	return &pdfDocument{data: data, pages: count}, nil
}

type pdfDocument struct {
	data  []byte
	pages int
}

func (d *pdfDocument) PageCount() int { return d.pages }

func (d *pdfDocument) Page(ctx context.Context, n int) ([]byte, error) {
	if n < 1 || n > d.pages {
		return nil, fmt.Errorf("%w: page %d out of range [1, %d]", ErrPageRender, n, d.pages)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := api.Trim(bytes.NewReader(d.data), &buf, []string{strconv.Itoa(n)}, newConfig()); err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrPageRender, n, err)
	}
	return buf.Bytes(), nil
}
