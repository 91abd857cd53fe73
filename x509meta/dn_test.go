package x509meta

import "testing"

func TestDNEqualAcrossFormats(t *testing.T) {
	rfc2253 := "CN=CSCA-KR,O=Government of Korea,C=KR"
	openssl := "/C=KR/O=Government of Korea/CN=CSCA-KR"
	if !DNEqual(rfc2253, openssl) {
		t.Errorf("expected DNEqual(%q, %q) to be true", rfc2253, openssl)
	}
}

func TestDNEqualCaseAndWhitespace(t *testing.T) {
	a := "CN=CSCA-DE,  O=Bundesrepublik   Deutschland,C=DE"
	b := "cn=csca-de,o=bundesrepublik deutschland,c=de"
	if !DNEqual(a, b) {
		t.Errorf("expected DNEqual(%q, %q) to be true", a, b)
	}
}

func TestDNNotEqual(t *testing.T) {
	if DNEqual("CN=CSCA-KR,C=KR", "CN=CSCA-DE,C=DE") {
		t.Error("expected distinct DNs to compare unequal")
	}
}

func TestNormalizeDNHandlesEscapedComma(t *testing.T) {
	dn := `CN=Doe\, Jane,O=Example,C=US`
	got := NormalizeDN(dn)
	if got == "" {
		t.Fatal("expected non-empty normalized DN")
	}
}
