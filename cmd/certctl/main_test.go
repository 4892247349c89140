package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certify/internal/auth"
	"certify/internal/config"
	"certify/internal/issuance"
	"certify/internal/render/pdftest"
	"certify/internal/store"
)

func testConfig(t *testing.T) config.App {
	t.Helper()
	dir := t.TempDir()
	tpl := pdftest.Template(t, pdftest.Width, pdftest.Height)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Front-end.pdf"), tpl, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Back-end.pdf"), tpl, 0o600))
	return config.App{
		Env:              "test",
		StoreBackend:     "sqlite",
		SQLitePath:       filepath.Join(t.TempDir(), "certify.db"),
		QueueBackend:     "none",
		TemplateDir:      dir,
		TemplateFrontend: "Front-end.pdf",
		TemplateBackend:  "Back-end.pdf",
		JWTIssuer:        "certify",
		JWTSigningKey:    "secret",
		AdminTokenTTL:    time.Hour,
		RateLimitPerMin:  60,
		RateLimitBackend: "memory",
	}
}

func run(t *testing.T, cfg config.App, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd(func() config.App { return cfg })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateSeedIssue(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "schema at version 1\n", out)

	out, err = run(t, cfg, "seed")
	require.NoError(t, err)
	assert.Equal(t, "inserted 2 attendees\n", out)

	pdfPath := filepath.Join(t.TempDir(), "out", "fe.pdf")
	out, err = run(t, cfg, "issue", "--reg", " fe123 ", "--track", "Frontend", "--out", pdfPath)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+pdfPath)

	data, err := os.ReadFile(pdfPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	lines, err := pdftest.Lines(data)
	require.NoError(t, err)
	_, ok := pdftest.Find(lines, "Nishant Singh")
	assert.True(t, ok, "name drawn on the certificate")
}

func TestSeed_ReplaceFromFile(t *testing.T) {
	cfg := testConfig(t)
	_, err := run(t, cfg, "migrate")
	require.NoError(t, err)
	_, err = run(t, cfg, "seed")
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`attendees:
  - name: Ada Lovelace
    reg: AL001
    track: Backend
`), 0o600))

	out, err := run(t, cfg, "seed", "--file", file, "--replace")
	require.NoError(t, err)
	assert.Equal(t, "removed 2 attendees\ninserted 1 attendees\n", out)

	_, err = run(t, cfg, "issue", "--reg", "FE123", "--out", filepath.Join(t.TempDir(), "x.pdf"))
	require.Error(t, err, "replaced roster no longer holds FE123")
}

func TestSeed_FailedReplaceKeepsRoster(t *testing.T) {
	cfg := testConfig(t)
	_, err := run(t, cfg, "migrate")
	require.NoError(t, err)
	_, err = run(t, cfg, "seed")
	require.NoError(t, err)

	driver, dsn, err := cfg.SQLDSN()
	require.NoError(t, err)
	db, err := store.Open(driver, dsn)
	require.NoError(t, err)
	defer db.Close()

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)
	// Same primary key twice: the insert fails after the delete ran.
	recs := []issuance.AttendanceRecord{
		{ID: "dup", Name: "Ada Lovelace", Reg: "AL001", Track: issuance.TrackBackend, Attended: true},
		{ID: "dup", Name: "Alan Turing", Reg: "AT002", Track: issuance.TrackBackend, Attended: true},
	}
	err = seed(cmd, issuance.NewRepository(db.Client, db.Driver), recs, true)
	require.Error(t, err)
	assert.Empty(t, out.String())

	_, err = run(t, cfg, "issue", "--reg", "FE123", "--out", filepath.Join(t.TempDir(), "x.pdf"))
	require.NoError(t, err, "original roster still in place")
}

func TestSeed_NeedsSQLBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreBackend = "memory"
	_, err := run(t, cfg, "seed")
	require.Error(t, err)
}

func TestIssue_RequiresReg(t *testing.T) {
	_, err := run(t, testConfig(t), "issue")
	require.Error(t, err)

	_, err = run(t, testConfig(t), "issue", "--reg", "   ")
	require.Error(t, err)
}

func TestToken(t *testing.T) {
	cfg := testConfig(t)
	out, err := run(t, cfg, "token", "--subject", "ops", "--ttl", "5m")
	require.NoError(t, err)

	claims, err := auth.Parse(strings.TrimSpace(out), cfg.JWTSigningKey, cfg.JWTIssuer)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	cfg.JWTSigningKey = ""
	_, err = run(t, cfg, "token")
	require.Error(t, err)
}
