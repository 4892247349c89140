// Package pdftest builds certificate templates and reads rendered text back
// for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/ledongthuc/pdf"
)

// Landscape A4 in points, the size of the shipped templates.
const (
	Width  = 841.89
	Height = 595.28
)

// Template returns a one-page PDF of the given size with some decoration of
// its own, standing in for a designed certificate.
func Template(tb testing.TB, width, height float64) []byte {
	tb.Helper()
	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: width, Ht: height},
	})
	doc.SetCatalogSort(true)
	doc.AddPage()
	doc.SetLineWidth(4)
	doc.Rect(20, 20, width-40, height-40, "D")
	doc.SetFont("Times", "B", 40)
	doc.Text(180, 140, "Certificate of Completion")

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		tb.Fatalf("build template: %v", err)
	}
	return buf.Bytes()
}

// Line is a run of glyphs drawn with one font at one baseline.
type Line struct {
	Text string
	Font string
	Size float64
	X, Y float64
}

// Lines returns the text drawn directly on the first page of doc. Content
// inside imported form XObjects is not included.
func Lines(doc []byte) (lines []Line, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("read pdf: %v", rec)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return nil, err
	}
	page := r.Page(1)
	if page.V.IsNull() {
		return nil, fmt.Errorf("no first page")
	}
	var cur *Line
	for _, g := range page.Content().Text {
		if cur != nil && cur.Font == g.Font && cur.Size == g.FontSize && cur.Y == g.Y {
			cur.Text += g.S
			continue
		}
		lines = append(lines, Line{Text: g.S, Font: g.Font, Size: g.FontSize, X: g.X, Y: g.Y})
		cur = &lines[len(lines)-1]
	}
	return lines, nil
}

// Find returns the first line whose text equals s.
func Find(lines []Line, s string) (Line, bool) {
	for _, l := range lines {
		if l.Text == s {
			return l, true
		}
	}
	return Line{}, false
}

// PageSize reads the first page's MediaBox.
func PageSize(doc []byte) (w, h float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("read pdf: %v", rec)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return 0, 0, err
	}
	box := r.Page(1).V.Key("MediaBox")
	if box.Len() != 4 {
		box = r.Page(1).V.Key("Parent").Key("MediaBox")
	}
	if box.Len() != 4 {
		return 0, 0, fmt.Errorf("no media box")
	}
	return box.Index(2).Float64() - box.Index(0).Float64(), box.Index(3).Float64() - box.Index(1).Float64(), nil
}
