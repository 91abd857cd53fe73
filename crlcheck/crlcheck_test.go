package crlcheck

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/iland112/icao-local-pkd/core"
)

func makeCRL(t *testing.T, revokedSerials ...*big.Int) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	caTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "CSCA-KR"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create ca: %v", err)
	}
	ca, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse ca: %v", err)
	}

	var entries []x509.RevocationListEntry
	for _, s := range revokedSerials {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   s,
			RevocationTime: time.Now().Add(-time.Hour),
		})
	}

	tmpl := &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                time.Now().Add(-time.Hour),
		NextUpdate:                time.Now().Add(24 * time.Hour),
		RevokedCertificateEntries: entries,
	}
	der, err := x509.CreateRevocationList(rand.Reader, tmpl, ca, key)
	if err != nil {
		t.Fatalf("create CRL: %v", err)
	}
	return der
}

func TestCheckRevoked(t *testing.T) {
	serial := big.NewInt(0x1234)
	der := makeCRL(t, serial)

	lookup := func(ctx context.Context, cc string) (*core.CRL, error) {
		return &core.CRL{CountryCode: cc, DerBytes: der}, nil
	}

	dsc := &x509.Certificate{SerialNumber: serial}
	result, err := Check(context.Background(), dsc, "KR", lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != core.CrlRevoked || !result.Revoked {
		t.Fatalf("expected REVOKED, got %+v", result)
	}
}

func TestCheckNotRevoked(t *testing.T) {
	der := makeCRL(t, big.NewInt(0x9999))

	lookup := func(ctx context.Context, cc string) (*core.CRL, error) {
		return &core.CRL{CountryCode: cc, DerBytes: der}, nil
	}

	dsc := &x509.Certificate{SerialNumber: big.NewInt(0x1234)}
	result, err := Check(context.Background(), dsc, "KR", lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != core.CrlNotRevoked {
		t.Fatalf("expected NOT_REVOKED, got %+v", result)
	}
}

func TestCheckNoCRLAvailable(t *testing.T) {
	lookup := func(ctx context.Context, cc string) (*core.CRL, error) {
		return nil, nil
	}
	dsc := &x509.Certificate{SerialNumber: big.NewInt(1)}
	result, err := Check(context.Background(), dsc, "ZZ", lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != core.CrlNotChecked {
		t.Fatalf("expected NOT_CHECKED, got %+v", result)
	}
}

func TestDecodeMaybeDoubleHexPassesThroughRawDER(t *testing.T) {
	der := []byte{0x30, 0x82, 0x01, 0x02}
	got := DecodeMaybeDoubleHex(der)
	if string(got) != string(der) {
		t.Errorf("expected raw DER to pass through unchanged")
	}
}

func TestDecodeMaybeDoubleHexDecodesOnce(t *testing.T) {
	der := []byte{0x30, 0x82, 0x01, 0x02}
	hexOnce := []byte("3082010200")[:0]
	for _, b := range der {
		hexOnce = append(hexOnce, []byte(hexByte(b))...)
	}
	got := DecodeMaybeDoubleHex(hexOnce)
	if string(got) != string(der) {
		t.Errorf("expected single-hex-encoded DER to decode once, got %x want %x", got, der)
	}
}

func hexByte(b byte) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xf]})
}
