// Package roster reads attendee rosters used to seed the registry.
package roster

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"certify/internal/issuance"
)

// Entry is one attendee as written in a roster file. Attended defaults to
// true when omitted.
type Entry struct {
	Name     string `yaml:"name"`
	Reg      string `yaml:"reg"`
	Track    string `yaml:"track"`
	Attended *bool  `yaml:"attended"`
}

// File is the roster document.
type File struct {
	Attendees []Entry `yaml:"attendees"`
}

// Sample is the roster used when no file is given.
func Sample() []issuance.AttendanceRecord {
	return []issuance.AttendanceRecord{
		{Name: "Nishant Singh", Reg: "FE123", Track: issuance.TrackFrontend, Attended: true},
		{Name: "Jane Doe", Reg: "BE987", Track: issuance.TrackBackend, Attended: true},
	}
}

// Parse decodes a YAML roster. Tracks must be spelled exactly; registration
// numbers are normalized.
func Parse(r io.Reader) ([]issuance.AttendanceRecord, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("roster is empty")
		}
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	out := make([]issuance.AttendanceRecord, 0, len(f.Attendees))
	for i, e := range f.Attendees {
		track, err := issuance.ParseTrackStrict(e.Track)
		if err != nil {
			return nil, fmt.Errorf("attendee %d (%s): %w", i+1, e.Reg, err)
		}
		reg := issuance.NormalizeReg(e.Reg)
		if reg == "" {
			return nil, fmt.Errorf("attendee %d: registration number required", i+1)
		}
		attended := true
		if e.Attended != nil {
			attended = *e.Attended
		}
		out = append(out, issuance.AttendanceRecord{Name: e.Name, Reg: reg, Track: track, Attended: attended})
	}
	return out, nil
}

// LoadFile parses the roster at path.
func LoadFile(path string) ([]issuance.AttendanceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}
