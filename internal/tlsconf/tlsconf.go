// Package tlsconf builds the single *tls.Config every endpoint shares
// and derives the SPKI digest Chrome needs to trust it via the
// ignore-certificate-errors-spki-list command line switch.
package tlsconf

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

const alpnH2 = "h2"

// Build loads a certificate chain and private key from PEM files and
// returns a TLS server config offering only h2 over ALPN, plus the
// base64(SHA256(subjectPublicKeyInfo)) digest of the leaf certificate
// for Chrome's ignore-certificate-errors-spki-list switch.
//
// Unlike the original, which only parsed RSA private keys, this loads
// any key algorithm crypto/tls can parse from PKCS#8/SEC1/PKCS#1 (RSA,
// ECDSA, Ed25519) -- an intentional widening, see DESIGN.md.
func Build(certPEMPath, keyPEMPath string) (*tls.Config, string, error) {
	certPEM, err := os.ReadFile(certPEMPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading certificate PEM %s: %w", certPEMPath, err)
	}
	keyPEM, err := os.ReadFile(keyPEMPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading private key PEM %s: %w", keyPEMPath, err)
	}

	if err := requireBlock(certPEM, "CERTIFICATE"); err != nil {
		return nil, "", fmt.Errorf("%s: %w", certPEMPath, err)
	}
	if !hasPrivateKeyBlock(keyPEM) {
		return nil, "", fmt.Errorf("%s: missing a private key section in PEM file", keyPEMPath)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, "", fmt.Errorf("loading key pair (%s, %s): %w", certPEMPath, keyPEMPath, err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, "", fmt.Errorf("parsing leaf certificate %s: %w", certPEMPath, err)
	}

	digest, err := spkiDigest(leaf)
	if err != nil {
		return nil, "", fmt.Errorf("computing spki digest: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnH2},
		ClientAuth:   tls.NoClientCert,
	}

	return cfg, digest, nil
}

// spkiDigest computes base64(SHA256(subjectPublicKeyInfo)), the value
// Chrome's --ignore-certificate-errors-spki-list switch expects.
//
// The original had to hand-rebuild the SEQUENCE TLV wrapper around the
// value-only slice webpki::TrustAnchor exposed. Go's x509.Certificate
// exposes the full TLV (tag, length, and value) directly via
// RawSubjectPublicKeyInfo, so no manual ASN.1 reconstruction is needed
// here -- see DESIGN.md for why that code path doesn't carry over.
func spkiDigest(cert *x509.Certificate) (string, error) {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func requireBlock(data []byte, blockType string) error {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return fmt.Errorf("missing %s section in PEM file", blockType)
		}
		if block.Type == blockType {
			return nil
		}
	}
}

func hasPrivateKeyBlock(data []byte) bool {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return false
		}
		if block.Type == "PRIVATE KEY" ||
			block.Type == "RSA PRIVATE KEY" ||
			block.Type == "EC PRIVATE KEY" {
			return true
		}
	}
}
