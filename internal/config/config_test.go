package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"APP_ENV", "STORE_BACKEND", "QUEUE_BACKEND", "TEMPLATE_DIR", "RATE_LIMIT_PER_MIN"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.Equal(t, "./public", cfg.TemplateDir)
	assert.Equal(t, "Front-end.pdf", cfg.TemplateFrontend)
	assert.Equal(t, "Back-end.pdf", cfg.TemplateBackend)
	assert.Equal(t, 60, cfg.RateLimitPerMin)
	assert.False(t, cfg.Production())
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "prod")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("ADMIN_TOKEN_TTL", "90m")
	t.Setenv("CERT_FOOTER", "1")
	t.Setenv("TRACE_SAMPLE_RATE", "0.25")

	cfg := Load()

	assert.True(t, cfg.Production())
	assert.Equal(t, 90*time.Minute, cfg.AdminTokenTTL)
	assert.True(t, cfg.CertFooter)
	assert.InDelta(t, 0.25, cfg.TraceSampleRate, 1e-9)

	driver, dsn, err := cfg.SQLDSN()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", driver)
	assert.Equal(t, "/tmp/x.db", dsn)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("ADMIN_TOKEN_TTL", "soon")
	t.Setenv("TEMPLATE_WATCH", "maybe")

	cfg := Load()

	assert.Equal(t, 60, cfg.RateLimitPerMin)
	assert.Equal(t, 12*time.Hour, cfg.AdminTokenTTL)
	assert.False(t, cfg.TemplateWatch)
}

func TestLoad_DotenvDoesNotOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("HTTP_PORT=9999\nTEMPLATE_DIR=/srv/templates\n"), 0o600))
	t.Setenv("HTTP_PORT", "7000")
	t.Setenv("TEMPLATE_DIR", "")
	require.NoError(t, os.Unsetenv("TEMPLATE_DIR"))

	cfg := Load()

	assert.Equal(t, "7000", cfg.HTTPPort)
	assert.Equal(t, "/srv/templates", cfg.TemplateDir)
}

func TestLoad_ProductionRejectsDevSigningKey(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SIGNING_KEY", "")
	assert.Empty(t, Load().JWTSigningKey, "default key unset")

	t.Setenv("JWT_SIGNING_KEY", devSigningKey)
	assert.Empty(t, Load().JWTSigningKey, "default key set explicitly")

	t.Setenv("JWT_SIGNING_KEY", "s3cr3t")
	assert.Equal(t, "s3cr3t", Load().JWTSigningKey)

	t.Setenv("APP_ENV", "dev")
	t.Setenv("JWT_SIGNING_KEY", "")
	assert.Equal(t, devSigningKey, Load().JWTSigningKey)
}

func TestSQLDSN_MemoryBackend(t *testing.T) {
	_, _, err := App{StoreBackend: "memory"}.SQLDSN()
	require.Error(t, err)
}
