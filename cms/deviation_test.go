package cms

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"strings"
	"testing"
)

// deviationEntryWire is the marshal-side mirror of deviationEntryASN1,
// used to synthesize eContent bytes the way issuer tooling would.
type deviationEntryWire struct {
	Issuer      pkix.RDNSequence
	Serial      *big.Int
	DefectOID   asn1.ObjectIdentifier
	Description string `asn1:"utf8"`
}

func wireEntries(t *testing.T, entries []deviationEntryWire) []byte {
	t.Helper()
	der, err := asn1.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal deviation entries: %v", err)
	}
	return der
}

func TestParseDeviationEntries(t *testing.T) {
	issuer := pkix.Name{CommonName: "CSCA-KR", Country: []string{"KR"}}
	content := wireEntries(t, []deviationEntryWire{
		{
			Issuer:      issuer.ToRDNSequence(),
			Serial:      big.NewInt(0x1234),
			DefectOID:   asn1.ObjectIdentifier{2, 23, 136, 1, 1, 8, 1},
			Description: "chip data group hash mismatch",
		},
		{
			Issuer:      issuer.ToRDNSequence(),
			Serial:      big.NewInt(77),
			DefectOID:   asn1.ObjectIdentifier{2, 23, 136, 1, 1, 8, 2},
			Description: "MRZ encoding defect",
		},
	})

	entries, errs := ParseDeviationEntries(content)
	if len(errs) != 0 {
		t.Fatalf("unexpected entry errors: %v", errs)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !strings.Contains(entries[0].CertIssuerDN, "CN=CSCA-KR") {
		t.Errorf("expected issuer DN with CN=CSCA-KR, got %q", entries[0].CertIssuerDN)
	}
	if entries[0].CertSerial != "1234" {
		t.Errorf("expected serial 1234, got %q", entries[0].CertSerial)
	}
	if entries[0].DefectOID != "2.23.136.1.1.8.1" {
		t.Errorf("unexpected defect OID %q", entries[0].DefectOID)
	}
	if entries[1].DefectDescription != "MRZ encoding defect" {
		t.Errorf("unexpected description %q", entries[1].DefectDescription)
	}
}

func TestParseDeviationEntriesRejectsGarbage(t *testing.T) {
	entries, errs := ParseDeviationEntries([]byte("garbage"))
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
	if len(errs) == 0 {
		t.Fatal("expected a parse error")
	}
}
