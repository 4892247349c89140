package issuance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendees and the issuance log in Postgres or SQLite.
type Repository struct {
	db     *sql.DB
	sqlite bool
}

// NewRepository creates a repo. driver is the database/sql driver name the
// handle was opened with; "sqlite3" switches placeholder syntax.
func NewRepository(db *sql.DB, driver string) *Repository {
	return &Repository{db: db, sqlite: driver == "sqlite3"}
}

// Ready pings the database.
func (r *Repository) Ready(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("database not configured")
	}
	return r.db.PingContext(ctx)
}

// FindAttendee returns the oldest attendee matching the normalized pair, or
// nil when there is none.
func (r *Repository) FindAttendee(ctx context.Context, reg string, track Track) (*AttendanceRecord, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT id, name, reg, track, attended, created_at, updated_at
		FROM attendees
		WHERE reg = $1 AND track = $2
		ORDER BY created_at ASC
		LIMIT 1
	`), NormalizeReg(reg), string(track))
	var rec AttendanceRecord
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Reg, &rec.Track, &rec.Attended, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// AppendIssuance writes one issuance record. Duplicates are allowed.
func (r *Repository) AppendIssuance(ctx context.Context, rec IssuanceRecord) (IssuanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO certificates (id, name, reg, track, issued_at)
		VALUES ($1, $2, $3, $4, $5)
	`), rec.ID, rec.Name, rec.Reg, string(rec.Track), rec.IssuedAt)
	if err != nil {
		return IssuanceRecord{}, err
	}
	return rec, nil
}

// ListIssuances returns issuance records newest first.
func (r *Repository) ListIssuances(ctx context.Context, f IssuanceFilter) ([]IssuanceRecord, error) {
	f = f.Normalize()
	query := `SELECT id, name, reg, track, issued_at FROM certificates`
	args := []any{}
	clauses := []string{}
	if f.Reg != "" {
		clauses = append(clauses, "reg = $"+itoa(len(args)+1))
		args = append(args, f.Reg)
	}
	if f.Track != "" {
		clauses = append(clauses, "track = $"+itoa(len(args)+1))
		args = append(args, string(f.Track))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY issued_at DESC, id LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []IssuanceRecord{}
	for rows.Next() {
		var rec IssuanceRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Reg, &rec.Track, &rec.IssuedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// InsertAttendees adds records in one transaction. Registration numbers are
// normalized and tracks must be valid.
func (r *Repository) InsertAttendees(ctx context.Context, recs []AttendanceRecord) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.insertAttendees(ctx, tx, recs); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// DeleteAttendees removes every attendee and returns how many were removed.
func (r *Repository) DeleteAttendees(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendees`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceAttendees deletes every attendee and inserts recs in the same
// transaction. On any error the previous roster is kept.
func (r *Repository) ReplaceAttendees(ctx context.Context, recs []AttendanceRecord) (int64, int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM attendees`)
	if err != nil {
		return 0, 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	if err := r.insertAttendees(ctx, tx, recs); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return removed, len(recs), nil
}

func (r *Repository) insertAttendees(ctx context.Context, tx *sql.Tx, recs []AttendanceRecord) error {
	now := time.Now().UTC()
	for i, rec := range recs {
		rec, err := prepareAttendee(rec, now)
		if err != nil {
			return fmt.Errorf("attendee %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, r.rebind(`
			INSERT INTO attendees (id, name, reg, track, attended, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`), rec.ID, rec.Name, rec.Reg, string(rec.Track), rec.Attended, rec.CreatedAt, rec.UpdatedAt); err != nil {
			return fmt.Errorf("attendee %s/%s: %w", rec.Reg, rec.Track, err)
		}
	}
	return nil
}

func prepareAttendee(rec AttendanceRecord, now time.Time) (AttendanceRecord, error) {
	rec.Reg = NormalizeReg(rec.Reg)
	if rec.Reg == "" {
		return AttendanceRecord{}, errors.New("registration number required")
	}
	if !rec.Track.Valid() {
		return AttendanceRecord{}, fmt.Errorf("unknown track %q", rec.Track)
	}
	rec.Name = strings.TrimSpace(rec.Name)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	return rec, nil
}

// rebind turns $n placeholders into SQLite's ?n form.
func (r *Repository) rebind(query string) string {
	if !r.sqlite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
