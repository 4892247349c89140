package issuance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps attendees and the issuance log in process. It backs
// STORE_BACKEND=memory and offline runs.
type MemoryStore struct {
	mu        sync.RWMutex
	attendees []AttendanceRecord
	issued    []IssuanceRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Ready(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) FindAttendee(ctx context.Context, reg string, track Track) (*AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg = NormalizeReg(reg)
	for _, rec := range m.attendees {
		if rec.Reg == reg && rec.Track == track {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) AppendIssuance(ctx context.Context, rec IssuanceRecord) (IssuanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.issued = append(m.issued, rec)
	m.mu.Unlock()
	return rec, nil
}

func (m *MemoryStore) ListIssuances(ctx context.Context, f IssuanceFilter) ([]IssuanceRecord, error) {
	f = f.Normalize()
	m.mu.RLock()
	matched := make([]IssuanceRecord, 0, len(m.issued))
	for _, rec := range m.issued {
		if f.Reg != "" && rec.Reg != f.Reg {
			continue
		}
		if f.Track != "" && rec.Track != f.Track {
			continue
		}
		matched = append(matched, rec)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].IssuedAt.After(matched[j].IssuedAt)
	})
	if f.Offset >= len(matched) {
		return []IssuanceRecord{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *MemoryStore) InsertAttendees(ctx context.Context, recs []AttendanceRecord) (int, error) {
	prepared, err := prepareAttendees(recs)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.attendees = append(m.attendees, prepared...)
	m.mu.Unlock()
	return len(prepared), nil
}

func (m *MemoryStore) DeleteAttendees(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.attendees))
	m.attendees = nil
	return n, nil
}

func (m *MemoryStore) ReplaceAttendees(ctx context.Context, recs []AttendanceRecord) (int64, int, error) {
	prepared, err := prepareAttendees(recs)
	if err != nil {
		return 0, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := int64(len(m.attendees))
	m.attendees = prepared
	return removed, len(prepared), nil
}

func prepareAttendees(recs []AttendanceRecord) ([]AttendanceRecord, error) {
	now := time.Now().UTC()
	prepared := make([]AttendanceRecord, 0, len(recs))
	for i, rec := range recs {
		rec, err := prepareAttendee(rec, now)
		if err != nil {
			return nil, fmt.Errorf("attendee %d: %w", i, err)
		}
		prepared = append(prepared, rec)
	}
	return prepared, nil
}
