// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/counselpoint/authcore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	dir := t.TempDir()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "auth.example.com"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"auth.example.com"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestSetupTLS_Off(t *testing.T) {
	res, err := SetupTLS(&config.Config{TLS: config.TLSConfig{Mode: "off"}})

	require.NoError(t, err)
	assert.Equal(t, TLSModeOff, res.Mode)
	assert.Nil(t, res.TLSConfig)
}

func TestSetupTLS_Manual(t *testing.T) {
	certFile, keyFile := writeTestCert(t)

	res, err := SetupTLS(&config.Config{TLS: config.TLSConfig{Mode: "manual", CertFile: certFile, KeyFile: keyFile}})

	require.NoError(t, err)
	assert.Equal(t, TLSModeManual, res.Mode)
	require.Len(t, res.TLSConfig.Certificates, 1)
	fp := certFingerprint(&res.TLSConfig.Certificates[0])
	assert.Len(t, strings.Split(fp, ":"), 32)
}

func TestSetupTLS_ManualMissingFiles(t *testing.T) {
	_, err := SetupTLS(&config.Config{TLS: config.TLSConfig{Mode: "manual"}})
	require.Error(t, err)

	_, err = SetupTLS(&config.Config{TLS: config.TLSConfig{
		Mode:     "manual",
		CertFile: filepath.Join(t.TempDir(), "missing.pem"),
		KeyFile:  filepath.Join(t.TempDir(), "missing.key"),
	}})
	assert.ErrorContains(t, err, "certificate file not found")
}

func TestSetupTLS_ACME(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "auth.example.com", Port: 443},
		TLS:    config.TLSConfig{Mode: "acme", Email: "ops@example.com", CertDir: t.TempDir()},
	}

	res, err := SetupTLS(cfg)

	require.NoError(t, err)
	assert.Equal(t, TLSModeACME, res.Mode)
	assert.NotNil(t, res.CertManager)
	assert.NotNil(t, res.HTTPHandler)
	assert.DirExists(t, filepath.Join(cfg.TLS.CertDir, "acme"))
}

func TestSetupTLS_ACMERequiresEmail(t *testing.T) {
	_, err := SetupTLS(&config.Config{TLS: config.TLSConfig{Mode: "acme", CertDir: t.TempDir()}})

	assert.ErrorContains(t, err, "TLS_EMAIL")
}

func TestSetupTLS_Unknown(t *testing.T) {
	_, err := SetupTLS(&config.Config{TLS: config.TLSConfig{Mode: "selfsigned"}})

	assert.ErrorContains(t, err, "unknown TLS mode")
}
