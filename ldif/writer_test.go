package ldif

import (
	"bytes"
	"testing"
)

func TestWriteEntryRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	order := []string{"objectClass", "cn", "userCertificate"}
	attrs := map[string][][]byte{
		"objectClass":     {[]byte("pkdDownload")},
		"cn":              {[]byte("abcd1234")},
		"userCertificate": {[]byte{0x30, 0x82, 0x01, 0x00, 0xff, 0xfe}},
	}
	if err := WriteEntry(&buf, "cn=abcd1234,c=KR,o=csca,dc=data", order, attrs); err != nil {
		t.Fatalf("write entry: %v", err)
	}

	entries, err := ParseAll(&buf)
	if err != nil {
		t.Fatalf("parse written entry: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.DN != "cn=abcd1234,c=KR,o=csca,dc=data" {
		t.Errorf("unexpected DN: %s", got.DN)
	}
	if string(got.Get("cn")[0]) != "abcd1234" {
		t.Errorf("unexpected cn: %s", got.Get("cn"))
	}
	if !bytes.Equal(got.Get("userCertificate")[0], attrs["userCertificate"][0]) {
		t.Errorf("binary attribute did not round-trip: %x", got.Get("userCertificate")[0])
	}
}

func TestNeedsBase64(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"plain value", false},
		{" leading space", true},
		{":leading colon", true},
		{"", false},
	}
	for _, c := range cases {
		if got := needsBase64([]byte(c.in)); got != c.want {
			t.Errorf("needsBase64(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if !needsBase64([]byte{0x30, 0x82, 0xff}) {
		t.Errorf("binary DER bytes should require base64")
	}
}
