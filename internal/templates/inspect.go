package templates

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"

	"certify/internal/render"
)

// ErrCorrupt is returned for template bytes that do not parse as a PDF with a
// usable first page.
var ErrCorrupt = errors.New("template is not a usable pdf")

// Inspect parses data, checks that it has a first page with a media box and
// returns it as a render.Template carrying the page size.
func Inspect(name string, data []byte) (tpl render.Template, err error) {
	// The reader panics on malformed objects.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s: %v", ErrCorrupt, name, rec)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return render.Template{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	if r.NumPage() < 1 {
		return render.Template{}, fmt.Errorf("%w: %s has no pages", ErrCorrupt, name)
	}
	page := r.Page(1)
	if page.V.IsNull() {
		return render.Template{}, fmt.Errorf("%w: %s has no first page", ErrCorrupt, name)
	}

	box := inheritedKey(page.V, "MediaBox")
	if box.Len() != 4 {
		return render.Template{}, fmt.Errorf("%w: %s has no media box", ErrCorrupt, name)
	}
	w := box.Index(2).Float64() - box.Index(0).Float64()
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return render.Template{}, fmt.Errorf("%w: %s media box is empty", ErrCorrupt, name)
	}

	return render.Template{Name: name, Data: data, Width: w, Height: h}, nil
}

// inheritedKey walks up the page tree; MediaBox is commonly set on /Pages.
func inheritedKey(v pdf.Value, key string) pdf.Value {
	for ; !v.IsNull(); v = v.Key("Parent") {
		if r := v.Key(key); !r.IsNull() {
			return r
		}
	}
	return pdf.Value{}
}
