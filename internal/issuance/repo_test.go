package issuance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certify/internal/render"
	"certify/internal/store"
)

func newSQLiteRepo(t *testing.T) *Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "certify.db")
	_, err := store.Migrate(store.DriverSQLite, path)
	require.NoError(t, err)
	db, err := store.NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db.Client, db.Driver)
}

func TestRepository_FindAttendee(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Ready(ctx))

	n, err := repo.InsertAttendees(ctx, []AttendanceRecord{
		{Name: "Nishant Singh", Reg: " fe123 ", Track: TrackFrontend, Attended: true},
		{Name: "Jane Doe", Reg: "BE987", Track: TrackBackend, Attended: true},
		{Name: "Sam", Reg: "FE404", Track: TrackFrontend, Attended: false},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := repo.FindAttendee(ctx, "fe123", TrackFrontend)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Nishant Singh", got.Name)
	assert.Equal(t, "FE123", got.Reg, "stored normalized")
	assert.True(t, got.Attended)
	assert.False(t, got.CreatedAt.IsZero())

	absent, err := repo.FindAttendee(ctx, "FE123", TrackBackend)
	require.NoError(t, err)
	assert.Nil(t, absent)

	sam, err := repo.FindAttendee(ctx, "FE404", TrackFrontend)
	require.NoError(t, err)
	require.NotNil(t, sam)
	assert.False(t, sam.Attended)
}

func TestRepository_InsertAttendeesIsAtomic(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	_, err := repo.InsertAttendees(ctx, []AttendanceRecord{
		{Name: "Ok", Reg: "A1", Track: TrackFrontend, Attended: true},
		{Name: "Bad", Reg: "A2", Track: Track("Design"), Attended: true},
	})
	require.Error(t, err)

	got, err := repo.FindAttendee(ctx, "A1", TrackFrontend)
	require.NoError(t, err)
	assert.Nil(t, got, "first row rolled back")
}

func TestRepository_DeleteAttendees(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	_, err := repo.InsertAttendees(ctx, []AttendanceRecord{
		{Name: "A", Reg: "A1", Track: TrackFrontend, Attended: true},
		{Name: "B", Reg: "B1", Track: TrackBackend, Attended: true},
	})
	require.NoError(t, err)

	n, err := repo.DeleteAttendees(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := repo.FindAttendee(ctx, "A1", TrackFrontend)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_ReplaceAttendees(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	_, err := repo.InsertAttendees(ctx, []AttendanceRecord{
		{Name: "A", Reg: "A1", Track: TrackFrontend, Attended: true},
		{Name: "B", Reg: "B1", Track: TrackBackend, Attended: true},
	})
	require.NoError(t, err)

	removed, inserted, err := repo.ReplaceAttendees(ctx, []AttendanceRecord{
		{Name: "C", Reg: "c1", Track: TrackBackend, Attended: true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, 1, inserted)

	got, err := repo.FindAttendee(ctx, "A1", TrackFrontend)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = repo.FindAttendee(ctx, "C1", TrackBackend)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "C", got.Name)
}

func TestRepository_ReplaceAttendeesKeepsRosterOnError(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	_, err := repo.InsertAttendees(ctx, []AttendanceRecord{
		{Name: "A", Reg: "A1", Track: TrackFrontend, Attended: true},
	})
	require.NoError(t, err)

	_, _, err = repo.ReplaceAttendees(ctx, []AttendanceRecord{
		{Name: "C", Reg: "C1", Track: TrackBackend, Attended: true},
		{Name: "Bad", Reg: "  ", Track: TrackBackend, Attended: true},
	})
	require.Error(t, err)

	got, err := repo.FindAttendee(ctx, "A1", TrackFrontend)
	require.NoError(t, err)
	require.NotNil(t, got, "delete rolled back with the failed insert")
	none, err := repo.FindAttendee(ctx, "C1", TrackBackend)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryStore_ReplaceAttendees(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	_, err := mem.InsertAttendees(ctx, []AttendanceRecord{
		{Name: "A", Reg: "A1", Track: TrackFrontend, Attended: true},
		{Name: "B", Reg: "B1", Track: TrackBackend, Attended: true},
	})
	require.NoError(t, err)

	_, _, err = mem.ReplaceAttendees(ctx, []AttendanceRecord{{Name: "Bad", Reg: "X1", Track: Track("Design")}})
	require.Error(t, err)
	got, err := mem.FindAttendee(ctx, "A1", TrackFrontend)
	require.NoError(t, err)
	require.NotNil(t, got, "roster untouched after a rejected replace")

	removed, inserted, err := mem.ReplaceAttendees(ctx, []AttendanceRecord{{Name: "C", Reg: "C1", Track: TrackBackend, Attended: true}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, 1, inserted)
	got, err = mem.FindAttendee(ctx, "A1", TrackFrontend)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_IssuanceLog(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, rec := range []IssuanceRecord{
		{Name: "Nishant Singh", Reg: "FE123", Track: TrackFrontend, IssuedAt: base},
		{Name: "Nishant Singh", Reg: "FE123", Track: TrackFrontend, IssuedAt: base.Add(time.Minute)},
		{Name: "Jane Doe", Reg: "BE987", Track: TrackBackend, IssuedAt: base.Add(2 * time.Minute)},
	} {
		stored, err := repo.AppendIssuance(ctx, rec)
		require.NoError(t, err, "record %d", i)
		assert.NotEmpty(t, stored.ID)
	}

	all, err := repo.ListIssuances(ctx, IssuanceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3, "duplicates are kept")
	assert.Equal(t, "BE987", all[0].Reg, "newest first")
	assert.True(t, all[0].IssuedAt.Equal(base.Add(2*time.Minute)))

	fe, err := repo.ListIssuances(ctx, IssuanceFilter{Reg: "fe123", Track: TrackFrontend})
	require.NoError(t, err)
	assert.Len(t, fe, 2)

	page, err := repo.ListIssuances(ctx, IssuanceFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].IssuedAt.Equal(base.Add(time.Minute)))

	none, err := repo.ListIssuances(ctx, IssuanceFilter{Reg: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestRepository_ServiceEndToEnd(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	_, err := repo.InsertAttendees(ctx, []AttendanceRecord{{Name: "Jane Doe", Reg: "BE987", Track: TrackBackend, Attended: true}})
	require.NoError(t, err)

	f := newFixture(t)
	svc := NewService(repo, f.templates, renderFunc(func(context.Context, render.Template, render.Overlay) ([]byte, error) {
		return []byte("%PDF-1.4"), nil
	}))

	cert, err := svc.Issue(ctx, Request{Reg: "be987", Track: TrackBackend})
	require.NoError(t, err)
	assert.True(t, cert.Logged)

	logged, err := repo.ListIssuances(ctx, IssuanceFilter{Reg: "BE987"})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, cert.Record.ID, logged[0].ID)
}

func TestRebind(t *testing.T) {
	sqlite := &Repository{sqlite: true}
	assert.Equal(t, "a = ?1 AND b = ?12 AND c = '$'", sqlite.rebind("a = $1 AND b = $12 AND c = '$'"))
	pg := &Repository{}
	assert.Equal(t, "a = $1", pg.rebind("a = $1"))
}
