// Package render overlays certificate text onto a PDF template.
//
// The template page is imported as a form XObject and the name and
// registration number are drawn on top of it with core fonts at fixed
// positions. Text is never wrapped or truncated, so a long name can run past
// the printable area of the template.
package render

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-pdf/fpdf"
	gocache "github.com/patrickmn/go-cache"
)

const mediaBox = "/MediaBox"

// epoch pins document dates when the overlay carries no issuance time.
var epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Template is an immutable single-page PDF.
type Template struct {
	Name string
	Data []byte
	// Width and Height are informational; the renderer reads the size from
	// the imported page itself.
	Width  float64
	Height float64
}

// Overlay is the variable content of one certificate.
type Overlay struct {
	Name     string
	Reg      string
	IssuedAt time.Time
}

// Renderer draws overlays with a fixed layout and is safe for concurrent use.
//
// Each template is imported once into a base document. Certificates are that
// base plus an appended update carrying the overlay, so identical inputs give
// identical bytes for as long as the renderer lives.
type Renderer struct {
	layout Layout
	footer bool
	tr     func(string) string

	mu    sync.Mutex
	bases *gocache.Cache
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithFooter draws "Issued on <date>" below the name when enabled.
func WithFooter(on bool) Option {
	return func(r *Renderer) { r.footer = on }
}

// New returns a renderer using layout.
func New(layout Layout, opts ...Option) *Renderer {
	r := &Renderer{
		layout: layout,
		tr:     fpdf.New("P", "pt", "A4", "").UnicodeTranslatorFromDescriptor(""),
		bases:  gocache.New(gocache.NoExpiration, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Layout returns the layout the renderer draws with.
func (r *Renderer) Layout() Layout { return r.layout }

// Render returns a new PDF: the first page of tpl with the overlay drawn on it.
func (r *Renderer) Render(ctx context.Context, tpl Template, ov Overlay) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tpl.Data) == 0 {
		return nil, fmt.Errorf("template %q is empty", tpl.Name)
	}
	b, err := r.base(tpl)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", tpl.Name, err)
	}

	stamp := ov.IssuedAt
	if stamp.IsZero() {
		stamp = epoch
	}
	texts := []placedText{
		{r.layout.Name, r.layout.NameStyle, r.tr(ov.Name)},
		{r.layout.Reg, r.layout.RegStyle, r.tr(RegLabel + ov.Reg)},
	}
	if r.footer && !ov.IssuedAt.IsZero() {
		texts = append(texts, placedText{r.layout.Footer, r.layout.FooterStyle, "Issued on " + ov.IssuedAt.Format("2006-01-02")})
	}
	out, err := b.stamp(texts, stamp)
	if err != nil {
		return nil, fmt.Errorf("serialize certificate: %w", err)
	}
	return out, nil
}

// base returns the imported document for tpl, building it on first use or
// when the bytes behind the template name change.
func (r *Renderer) base(tpl Template) (*baseDoc, error) {
	sum := sha256.Sum256(tpl.Data)
	if b, ok := r.cachedBase(tpl.Name, sum); ok {
		return b, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.cachedBase(tpl.Name, sum); ok {
		return b, nil
	}
	b, err := buildBase(tpl.Data)
	if err != nil {
		return nil, err
	}
	b.sum = sum
	r.bases.Set(tpl.Name, b, gocache.NoExpiration)
	return b, nil
}

func (r *Renderer) cachedBase(name string, sum [sha256.Size]byte) (*baseDoc, bool) {
	v, ok := r.bases.Get(name)
	if !ok {
		return nil, false
	}
	b := v.(*baseDoc)
	return b, b.sum == sum
}

func pageSize(sizes map[int]map[string]map[string]float64) (float64, float64, error) {
	page, ok := sizes[1]
	if !ok {
		return 0, 0, errors.New("no first page")
	}
	box, ok := page[mediaBox]
	if !ok || box["w"] <= 0 || box["h"] <= 0 {
		return 0, 0, errors.New("first page has no usable media box")
	}
	return box["w"], box["h"], nil
}
