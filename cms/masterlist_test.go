package cms

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

func selfSignedPEM(t *testing.T, cn string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestLoadTrustAnchor(t *testing.T) {
	anchor, err := LoadTrustAnchor(selfSignedPEM(t, "UN_CSCA"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if anchor.Cert.Subject.CommonName != "UN_CSCA" {
		t.Errorf("unexpected CN: %s", anchor.Cert.Subject.CommonName)
	}
}

func TestLoadTrustAnchorRejectsNonPEM(t *testing.T) {
	_, err := LoadTrustAnchor([]byte("not pem at all"))
	if err == nil {
		t.Fatal("expected an error for non-PEM input")
	}
}
