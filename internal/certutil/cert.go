// Package certutil provides certificate fingerprinting and self-signed
// certificate generation shared by the TLS factory, the TOFU store,
// and the middleware certificate-auth filter.
package certutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// Fingerprint returns the "sha256:<hex>" fingerprint of a DER-encoded
// certificate. This is the sole identity used by the TOFU store and by
// certificate-auth allow lists: fingerprints are always computed over
// DER, never PEM.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// IsExpired reports whether cert's validity window does not include
// now.
func IsExpired(cert *x509.Certificate, now time.Time) bool {
	return now.Before(cert.NotBefore) || now.After(cert.NotAfter)
}

// ValidForHostname reports whether cert's CN or SAN list matches host.
// This is informational only (TOFU, not CA validation, is the trust
// model); it never gates a connection.
func ValidForHostname(cert *x509.Certificate, host string) bool {
	if err := cert.VerifyHostname(host); err == nil {
		return true
	}
	return cert.Subject.CommonName == host
}

// GenerateSelfSigned produces a new RSA key pair and a self-signed
// certificate for hostname, PEM-encoded, valid from now for validDays.
func GenerateSelfSigned(hostname string, keyBits, validDays int) (certPEM, keyPEM []byte, err error) {
	if keyBits <= 0 {
		keyBits = 2048
	}
	if validDays <= 0 {
		validDays = 365
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("certutil: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("certutil: generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hostname},
		DNSNames:     []string{hostname},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.AddDate(0, 0, validDays),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("certutil: create certificate: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, nil
}
