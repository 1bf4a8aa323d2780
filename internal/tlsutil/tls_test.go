package tlsutil_test

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanbato/nauyaca/internal/tlsutil"
)

func TestNewServerConfigGeneratesAndPersistsCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	cfg, err := tlsutil.NewServerConfig(tlsutil.ServerTLSConfig{
		CertFile: certFile,
		KeyFile:  keyFile,
		Hostname: "localhost",
	})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.FileExists(t, certFile)
	assert.FileExists(t, keyFile)

	// Second call should load the persisted cert rather than generate
	// a new one.
	cfg2, err := tlsutil.NewServerConfig(tlsutil.ServerTLSConfig{
		CertFile: certFile,
		KeyFile:  keyFile,
		Hostname: "localhost",
	})
	require.NoError(t, err)
	assert.Equal(t, cfg.Certificates[0].Certificate, cfg2.Certificates[0].Certificate)
}

func TestNewServerConfigRequireClientCert(t *testing.T) {
	cfg, err := tlsutil.NewServerConfig(tlsutil.ServerTLSConfig{
		Hostname:          "localhost",
		RequireClientCert: true,
	})
	require.NoError(t, err)
	assert.Equal(t, tls.RequestClientCert, cfg.ClientAuth)
}

func TestNewServerConfigRejectsLowVersion(t *testing.T) {
	_, err := tlsutil.NewServerConfig(tlsutil.ServerTLSConfig{
		Hostname:   "localhost",
		MinVersion: tls.VersionTLS10,
	})
	assert.ErrorIs(t, err, tlsutil.ErrTLSVersionTooLow)
}

func TestNewClientConfigDisablesVerification(t *testing.T) {
	cfg, err := tlsutil.NewClientConfig(tlsutil.ClientTLSConfig{})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
}
