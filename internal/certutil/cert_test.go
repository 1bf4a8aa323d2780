package certutil_test

import (
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanbato/nauyaca/internal/certutil"
)

func TestFingerprintIsPureAndSensitive(t *testing.T) {
	der := []byte{1, 2, 3, 4, 5}
	a := certutil.Fingerprint(der)
	b := certutil.Fingerprint(der)
	assert.Equal(t, a, b)

	flipped := []byte{1, 2, 3, 4, 4}
	assert.NotEqual(t, a, certutil.Fingerprint(flipped))
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, a)
}

func TestGenerateSelfSigned(t *testing.T) {
	certPEM, keyPEM, err := certutil.GenerateSelfSigned("localhost", 2048, 365)
	require.NoError(t, err)

	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cert.Subject.CommonName)
	assert.True(t, certutil.ValidForHostname(cert, "localhost"))
	assert.False(t, certutil.IsExpired(cert, time.Now()))

	keyBlock, _ := pem.Decode(keyPEM)
	require.NotNil(t, keyBlock)
	assert.Equal(t, "RSA PRIVATE KEY", keyBlock.Type)
}

func TestGenerateSelfSignedDefaults(t *testing.T) {
	certPEM, _, err := certutil.GenerateSelfSigned("example.org", 0, 0)
	require.NoError(t, err)
	block, _ := pem.Decode(certPEM)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 365), cert.NotAfter, 24*time.Hour)
}
