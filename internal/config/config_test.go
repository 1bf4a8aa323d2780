package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanbato/nauyaca/internal/config"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  document_root: "+dir+"\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1965, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.AccessControl.DefaultAllow)
}

func TestLoadRejectsMissingDocumentRoot(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  document_root: /does/not/exist\n")

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  document_root: "+dir+"\n  port: 70000\n")

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMismatchedCertKeyPair(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  document_root: "+dir+"\n  certfile: cert.pem\n")

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsTitanEnabledWithoutUploadDir(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  document_root: "+dir+"\ntitan:\n  enabled: true\n")

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadParsesCertificateAuthPaths(t *testing.T) {
	dir := t.TempDir()
	body := "server:\n  document_root: " + dir + "\n" +
		"certificate_auth:\n  paths:\n    - prefix: /private/\n      require_cert: true\n      allowed_fingerprints: [\"sha256:aa\"]\n"
	path := writeConfig(t, dir, body)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.CertificateAuth.Paths, 1)
	assert.Equal(t, "/private/", cfg.CertificateAuth.Paths[0].Prefix)
	assert.True(t, cfg.CertificateAuth.Paths[0].RequireCert)
	assert.Equal(t, []string{"sha256:aa"}, cfg.CertificateAuth.Paths[0].AllowedFingerprints)
}

func TestEnvOverrideAppliesOverConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  document_root: "+dir+"\n  port: 1965\n")

	t.Setenv("NAUYACA_SERVER_PORT", "2000")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Server.Port)
}
