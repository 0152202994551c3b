package tlsconf

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// generateSelfSigned writes a self-signed ECDSA cert/key pair as PEM
// files under dir and returns their paths.
func generateSelfSigned(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "generating key")

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err, "creating certificate")

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err, "marshaling key")

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	require.NoError(t, err, "creating cert file")
	defer certOut.Close()
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))

	keyOut, err := os.Create(keyPath)
	require.NoError(t, err, "creating key file")
	defer keyOut.Close()
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))

	return certPath, keyPath
}

func TestBuildLoadsCertAndComputesDigest(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := generateSelfSigned(t, dir)

	cfg, digest, err := Build(certPath, keyPath)
	require.NoError(t, err)

	require.Len(t, cfg.Certificates, 1)
	require.Equal(t, []string{"h2"}, cfg.NextProtos)
	require.Equal(t, tls.NoClientCert, cfg.ClientAuth)
	require.NotEmpty(t, digest, "expected a non-empty spki digest")

	decoded, err := base64.StdEncoding.DecodeString(digest)
	require.NoError(t, err, "digest is not valid base64")
	require.Len(t, decoded, 32, "sha256 digest should decode to 32 bytes")
}

func TestBuildRejectsMissingCertificateSection(t *testing.T) {
	dir := t.TempDir()
	_, keyPath := generateSelfSigned(t, dir)

	badCertPath := filepath.Join(dir, "bad-cert.pem")
	require.NoError(t, os.WriteFile(badCertPath, []byte("not a pem file"), 0o644))

	_, _, err := Build(badCertPath, keyPath)
	require.Error(t, err, "expected an error for a missing CERTIFICATE section")
}

func TestBuildRejectsMissingPrivateKeySection(t *testing.T) {
	dir := t.TempDir()
	certPath, _ := generateSelfSigned(t, dir)

	badKeyPath := filepath.Join(dir, "bad-key.pem")
	require.NoError(t, os.WriteFile(badKeyPath, []byte("not a pem file"), 0o644))

	_, _, err := Build(certPath, badKeyPath)
	require.Error(t, err, "expected an error for a missing private key section")
}
