package render

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/go-pdf/fpdf/contrib/gofpdi"
)

// Object numbers fpdf always uses for the resource dictionary and the first
// page.
const (
	resourcesObj = 2
	pageObj      = 3
)

var (
	startxrefRe = regexp.MustCompile(`startxref\n(\d+)\n%%EOF\n?$`)
	trailerRe   = regexp.MustCompile(`trailer\n<<\n/Size (\d+)\n/Root (\d+) 0 R\n/Info (\d+) 0 R\n`)
	contentsRe  = regexp.MustCompile(`/Contents \d+ 0 R`)

	pdfEscaper = strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`, "\r", `\r`)
)

// baseDoc is a single-page fpdf document holding the imported template
// objects and an empty page. Certificates are appended to it as incremental
// updates, so it is never modified after construction.
type baseDoc struct {
	sum [sha256.Size]byte

	doc       []byte
	prevXref  int
	size      int
	root      int
	info      int
	resources string
	page      string

	// draw paints the imported template over the whole page.
	draw   string
	height float64
}

// placedText is one run of overlay text.
type placedText struct {
	at    Anchor
	style Style
	text  string
}

// xobjectCall records where gofpdi places an imported page instead of
// drawing it, so the draw operator can go into the appended content stream.
type xobjectCall struct {
	name           string
	sx, sy, tx, ty float64
}

func (c *xobjectCall) ImportObjects(map[string][]byte)        {}
func (c *xobjectCall) ImportObjPos(map[string]map[int]string) {}
func (c *xobjectCall) ImportTemplates(map[string]string)      {}
func (c *xobjectCall) SetError(error)                          {}
func (c *xobjectCall) UseImportedTemplate(name string, sx, sy, tx, ty float64) {
	c.name, c.sx, c.sy, c.tx, c.ty = name, sx, sy, tx, ty
}

func buildBase(data []byte) (b *baseDoc, err error) {
	// gofpdi panics on malformed input instead of returning errors.
	defer func() {
		if rec := recover(); rec != nil {
			b = nil
			err = fmt.Errorf("%v", rec)
		}
	}()

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(epoch)
	pdf.SetModificationDate(epoch)

	imp := gofpdi.NewImporter()
	var rs io.ReadSeeker = bytes.NewReader(data)
	tplID := imp.ImportPageFromStream(pdf, &rs, 1, mediaBox)

	width, height, err := pageSize(imp.GetPageSizes())
	if err != nil {
		return nil, err
	}

	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPageFormat("P", fpdf.SizeType{Wd: width, Ht: height})

	var call xobjectCall
	imp.UseImportedTemplate(&call, tplID, 0, 0, width, height)
	if call.name == "" {
		return nil, errors.New("template page was not imported")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	b, err = parseBase(buf.Bytes())
	if err != nil {
		return nil, err
	}
	b.height = height
	// Same operator fpdf emits for an imported template, with k = 1.
	b.draw = fmt.Sprintf("q 0 J 1 w 0 j 0 G 0 g q %.4f 0 0 %.4f %.4f %.4f cm %s Do Q Q\n",
		call.sx, call.sy, call.tx, call.ty+height, call.name)
	return b, nil
}

// parseBase reads the trailer, cross-reference table and the two objects the
// update replaces out of an fpdf document.
func parseBase(doc []byte) (*baseDoc, error) {
	m := startxrefRe.FindSubmatch(doc)
	if m == nil {
		return nil, errors.New("base document has no startxref")
	}
	xref, _ := strconv.Atoi(string(m[1]))
	if xref <= 0 || xref >= len(doc) {
		return nil, fmt.Errorf("startxref %d out of range", xref)
	}
	tail := doc[xref:]
	t := trailerRe.FindSubmatch(tail)
	if t == nil {
		return nil, errors.New("base document trailer not understood")
	}
	b := &baseDoc{doc: doc, prevXref: xref}
	b.size, _ = strconv.Atoi(string(t[1]))
	b.root, _ = strconv.Atoi(string(t[2]))
	b.info, _ = strconv.Atoi(string(t[3]))

	header := fmt.Sprintf("xref\n0 %d\n", b.size)
	if !bytes.HasPrefix(tail, []byte(header)) {
		return nil, errors.New("base document xref not understood")
	}
	entries := tail[len(header):]
	object := func(n int) (string, error) {
		at := 20 * n
		if at+20 > len(entries) {
			return "", fmt.Errorf("object %d missing from xref", n)
		}
		off, err := strconv.Atoi(string(entries[at : at+10]))
		if err != nil || off <= 0 || off >= len(doc) {
			return "", fmt.Errorf("object %d has a bad offset", n)
		}
		prefix := fmt.Sprintf("%d 0 obj\n", n)
		body := doc[off:]
		if !bytes.HasPrefix(body, []byte(prefix)) {
			return "", fmt.Errorf("object %d not at its offset", n)
		}
		body = body[len(prefix):]
		end := bytes.Index(body, []byte("\nendobj"))
		if end < 0 {
			return "", fmt.Errorf("object %d is not terminated", n)
		}
		return string(body[:end]), nil
	}

	var err error
	if b.resources, err = object(resourcesObj); err != nil {
		return nil, err
	}
	if !strings.Contains(b.resources, "/Font <<\n") {
		return nil, errors.New("resource dictionary has no font entry")
	}
	if b.page, err = object(pageObj); err != nil {
		return nil, err
	}
	if !contentsRe.MatchString(b.page) {
		return nil, errors.New("page has no content stream")
	}
	return b, nil
}

// stamp appends an incremental update that adds the fonts, replaces the page
// content with the template plus texts, and pins the document dates. The
// output depends only on the base and the arguments.
func (b *baseDoc) stamp(texts []placedText, date time.Time) ([]byte, error) {
	var fonts []string
	fontRes := make(map[string]string)
	for _, t := range texts {
		name, err := coreFontName(t.style)
		if err != nil {
			return nil, err
		}
		if _, ok := fontRes[name]; !ok {
			fonts = append(fonts, name)
			fontRes[name] = "/F" + strconv.Itoa(len(fonts))
		}
	}

	var content strings.Builder
	content.WriteString(b.draw)
	for _, t := range texts {
		name, _ := coreFontName(t.style)
		p := t.at.Baseline(b.height)
		fmt.Fprintf(&content, "BT %s %.2f Tf %.2f %.2f Td (%s) Tj ET\n",
			fontRes[name], t.style.Size, p.X, p.Y, pdfEscaper.Replace(t.text))
	}

	var out bytes.Buffer
	out.Grow(len(b.doc) + content.Len() + 1024)
	out.Write(b.doc)
	offsets := make(map[int]int)
	put := func(n int, body string) {
		offsets[n] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", n, body)
	}

	next := b.size
	var fontEntries strings.Builder
	for _, name := range fonts {
		put(next, "<</Type /Font\n/BaseFont /"+name+"\n/Subtype /Type1\n/Encoding /WinAnsiEncoding\n>>")
		fmt.Fprintf(&fontEntries, "%s %d 0 R\n", fontRes[name], next)
		next++
	}
	contentObj := next
	next++
	put(contentObj, fmt.Sprintf("<</Length %d>>\nstream\n%s\nendstream", content.Len(), content.String()))

	put(resourcesObj, strings.Replace(b.resources, "/Font <<\n", "/Font <<\n"+fontEntries.String(), 1))
	put(pageObj, contentsRe.ReplaceAllString(b.page, fmt.Sprintf("/Contents %d 0 R", contentObj)))
	stamp := "D:" + date.UTC().Format("20060102150405")
	put(b.info, fmt.Sprintf("<<\n/Producer (certify)\n/CreationDate (%s)\n/ModDate (%s)\n>>", stamp, stamp))

	nums := make([]int, 0, len(offsets))
	for n := range offsets {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	xref := out.Len()
	out.WriteString("xref\n")
	for _, n := range nums {
		fmt.Fprintf(&out, "%d 1\n%010d 00000 n \n", n, offsets[n])
	}
	fmt.Fprintf(&out, "trailer\n<<\n/Size %d\n/Root %d 0 R\n/Info %d 0 R\n/Prev %d\n>>\nstartxref\n%d\n%%%%EOF\n",
		next, b.root, b.info, b.prevXref, xref)
	return out.Bytes(), nil
}

// coreFontName maps a style to one of the standard PDF base fonts.
func coreFontName(st Style) (string, error) {
	variants := map[string][4]string{
		"helvetica": {"Helvetica", "Helvetica-Bold", "Helvetica-Oblique", "Helvetica-BoldOblique"},
		"arial":     {"Helvetica", "Helvetica-Bold", "Helvetica-Oblique", "Helvetica-BoldOblique"},
		"times":     {"Times-Roman", "Times-Bold", "Times-Italic", "Times-BoldItalic"},
		"courier":   {"Courier", "Courier-Bold", "Courier-Oblique", "Courier-BoldOblique"},
	}
	v, ok := variants[strings.ToLower(st.Family)]
	if !ok {
		return "", fmt.Errorf("font family %q is not a core font", st.Family)
	}
	switch strings.ToUpper(st.Style) {
	case "":
		return v[0], nil
	case "B":
		return v[1], nil
	case "I":
		return v[2], nil
	case "BI", "IB":
		return v[3], nil
	}
	return "", fmt.Errorf("font style %q not supported", st.Style)
}
