package render

// RegLabel prefixes the registration number on the certificate.
const RegLabel = "Registration No: "

// Anchor is a text origin measured from the page's left and top edges.
type Anchor struct {
	X       float64
	FromTop float64
}

// Point is a position in PDF user space (origin bottom-left, points).
type Point struct {
	X, Y float64
}

// Baseline converts a top-origin anchor to PDF user space.
func (a Anchor) Baseline(pageHeight float64) Point {
	return Point{X: a.X, Y: pageHeight - a.FromTop}
}

// Style selects a core font.
type Style struct {
	Family string
	Style  string // "" regular, "B" bold
	Size   float64
}

// Layout fixes where and how each overlay field is drawn.
type Layout struct {
	Name      Anchor
	NameStyle Style

	Reg      Anchor
	RegStyle Style

	Footer      Anchor
	FooterStyle Style
}

// DefaultLayout matches the reserved regions of the shipped templates.
func DefaultLayout() Layout {
	return Layout{
		Name:      Anchor{X: 200, FromTop: 280},
		NameStyle: Style{Family: "Helvetica", Style: "B", Size: 32},

		Reg:      Anchor{X: 450, FromTop: 280},
		RegStyle: Style{Family: "Helvetica", Size: 14},

		Footer:      Anchor{X: 200, FromTop: 330},
		FooterStyle: Style{Family: "Helvetica", Size: 10},
	}
}
