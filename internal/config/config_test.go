package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  port: 9000
  max_body_size: 2MiB
storage:
  driver: minio
  bucket: photos
  endpoint: localhost:9000
  path_style: true
archive:
  rate_limit_max: 3
  rate_limit_window: 1m
jwt:
  secret: from-file
log:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "minio", cfg.Storage.Driver)
	assert.True(t, cfg.Storage.PathStyle)
	assert.Equal(t, time.Hour, cfg.Storage.PresignTTL)
	assert.Equal(t, int64(3), cfg.Archive.RateLimitMax)
	assert.Equal(t, time.Minute, cfg.Archive.RateLimitWindow)
	assert.Equal(t, 10, cfg.Uploads.HostConcurrency)
	assert.Equal(t, 2, cfg.Uploads.GuestConcurrency)
	assert.Equal(t, "debug", cfg.Log.Level)

	n, err := cfg.Server.MaxBodyBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(2<<20), n)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EVENTPIX_JWT_SECRET", "from-env")
	t.Setenv("EVENTPIX_UPLOADS_GUEST_CONCURRENCY", "1")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, 1, cfg.Uploads.GuestConcurrency)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, "storage:\n  driver: ftp\nserver:\n  max_body_size: lots\n"))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown storage.driver "ftp"`)
	assert.Contains(t, err.Error(), "jwt.secret is required")
	assert.Contains(t, err.Error(), "max_body_size")

	cfg, err = Load(writeConfig(t, "storage:\n  driver: memory\njwt:\n  secret: s\napns:\n  key_path: key.p8\n"))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apns.topic")
}

func TestTrustedProxyPrefixes(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	prefixes, err := cfg.Server.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Empty(t, prefixes)

	cfg, err = Load(writeConfig(t, strings.Replace(sample, "server:\n", "server:\n  trusted_proxies: [\"10.0.0.0/8\", \"192.168.1.7\", \"fd00::1/64\"]\n", 1)))
	require.NoError(t, err)
	prefixes, err = cfg.Server.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.7/32"),
		netip.MustParsePrefix("fd00::/64"),
	}, prefixes)

	cfg.Server.TrustedProxies = []string{"proxy.internal"}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trusted_proxies")
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "eventpix", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=eventpix sslmode=disable", db.DSN())
}
