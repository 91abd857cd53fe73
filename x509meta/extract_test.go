package x509meta

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

func makeSelfSigned(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(0xABCD),
		Subject:               pkix.Name{CommonName: "CSCA-TEST", Country: []string{"DE"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		SubjectKeyId:          []byte{1, 2, 3, 4},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}

func TestExtractMetadata(t *testing.T) {
	cert := makeSelfSigned(t)
	meta, err := Extract(cert.Raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if !meta.IsSelfSigned {
		t.Error("expected IsSelfSigned")
	}
	if !meta.IsCA {
		t.Error("expected IsCA")
	}
	if meta.PublicKeyAlgorithm != "ECDSA" || meta.PublicKeyBits != 384 {
		t.Errorf("expected ECDSA/384, got %s/%d", meta.PublicKeyAlgorithm, meta.PublicKeyBits)
	}
	if meta.CurveName != "P-384" {
		t.Errorf("expected curve P-384, got %s", meta.CurveName)
	}
	if meta.SerialHex != "ABCD" {
		t.Errorf("expected serial ABCD, got %s", meta.SerialHex)
	}
	if len(meta.SHA256Fingerprint) != 64 || len(meta.SHA1Fingerprint) != 40 {
		t.Errorf("unexpected fingerprint lengths: sha256=%d sha1=%d",
			len(meta.SHA256Fingerprint), len(meta.SHA1Fingerprint))
	}
	if !meta.HasKeyUsage("keyCertSign") || !meta.HasKeyUsage("cRLSign") {
		t.Errorf("expected keyCertSign and cRLSign, got %v", meta.KeyUsage)
	}
	if meta.HashAlgorithm != "SHA384" {
		t.Errorf("expected hash sub-algorithm SHA384, got %q", meta.HashAlgorithm)
	}
	if meta.SignatureAlgorithmOID != "1.2.840.10045.4.3.3" {
		t.Errorf("expected ECDSA-SHA384 OID, got %s", meta.SignatureAlgorithmOID)
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	if _, err := Extract([]byte("not a certificate")); err == nil {
		t.Fatal("expected ParseError for garbage input")
	}
}

func TestDetectAndParsePEM(t *testing.T) {
	cert := makeSelfSigned(t)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})

	parsed, err := DetectAndParse(pemBytes)
	if err != nil {
		t.Fatalf("detect pem: %v", err)
	}
	if !parsed.Equal(cert) {
		t.Error("PEM round trip should yield the same certificate")
	}

	parsed, err = DetectAndParse(cert.Raw)
	if err != nil {
		t.Fatalf("detect der: %v", err)
	}
	if !parsed.Equal(cert) {
		t.Error("DER detect should yield the same certificate")
	}
}

func TestDerToPemRoundTrip(t *testing.T) {
	cert := makeSelfSigned(t)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	parsed, err := ParsePEMOrDER(pemBytes)
	if err != nil {
		t.Fatalf("parse pem: %v", err)
	}
	if string(parsed.Raw) != string(cert.Raw) {
		t.Error("pemToDer(derToPem(c)) must be identity on the DER bytes")
	}
}
