package issuance

import (
	"fmt"
	"strings"
	"time"
)

// Track is the program variant a certificate is issued for.
type Track string

const (
	TrackFrontend Track = "Frontend"
	TrackBackend  Track = "Backend"

	// DefaultTrack is used whenever a request carries a missing or unknown track.
	DefaultTrack = TrackFrontend
)

// Tracks lists every recognized track.
var Tracks = []Track{TrackFrontend, TrackBackend}

// Valid reports whether t is one of the recognized tracks.
func (t Track) Valid() bool {
	return t == TrackFrontend || t == TrackBackend
}

func (t Track) String() string { return string(t) }

// ParseTrack maps request input to a track. Only the exact value "Backend"
// selects the back-end track; anything else, including an empty value,
// falls back to DefaultTrack rather than being rejected.
func ParseTrack(s string) Track {
	if Track(s) == TrackBackend {
		return TrackBackend
	}
	return DefaultTrack
}

// ParseTrackStrict is used by import paths, where an unknown track is an error.
func ParseTrackStrict(s string) (Track, error) {
	t := Track(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown track %q", s)
	}
	return t, nil
}

// NormalizeReg trims and upper-cases a registration number. Every lookup and
// every stored record goes through it.
func NormalizeReg(reg string) string {
	return strings.ToUpper(strings.TrimSpace(reg))
}

// AttendanceRecord is an eligibility entry keyed by (Reg, Track).
type AttendanceRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Reg       string    `json:"reg"`
	Track     Track     `json:"track"`
	Attended  bool      `json:"attended"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IssuanceRecord is one entry of the append-only issuance log.
type IssuanceRecord struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Reg      string    `json:"reg"`
	Track    Track     `json:"track"`
	IssuedAt time.Time `json:"issued_at"`
}

// Request is a validated, normalized issuance request.
type Request struct {
	// Name is what the caller typed. It is never printed on the certificate.
	Name  string
	Reg   string
	Track Track
}

// ParseRequest validates raw input and returns a normalized Request.
func ParseRequest(name, reg, track string) (Request, error) {
	norm := NormalizeReg(reg)
	if norm == "" {
		return Request{}, fmt.Errorf("%w: registration number required", ErrInvalidPayload)
	}
	return Request{
		Name:  strings.TrimSpace(name),
		Reg:   norm,
		Track: ParseTrack(track),
	}, nil
}

// Certificate is the result of a successful issuance.
type Certificate struct {
	Filename string
	PDF      []byte
	Record   IssuanceRecord
	// Logged is false when the audit write failed and the certificate was
	// produced anyway.
	Logged bool
}

// Filename builds the download name: Certificate-<track>-<name>.pdf with
// every whitespace run in the name replaced by an underscore.
func Filename(track Track, name string) string {
	safe := strings.Join(strings.Fields(name), "_")
	return fmt.Sprintf("Certificate-%s-%s.pdf", track, safe)
}

// IssuanceFilter selects issuance records for the admin listing. Zero values
// match everything.
type IssuanceFilter struct {
	Reg    string
	Track  Track
	Limit  int
	Offset int
}

// Normalize applies the listing defaults: reg is normalized, limit falls in
// [1, 500] with a default of 50 and offset is never negative.
func (f IssuanceFilter) Normalize() IssuanceFilter {
	f.Reg = NormalizeReg(f.Reg)
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
