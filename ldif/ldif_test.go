package ldif

import (
	"encoding/base64"
	"io"
	"strings"
	"testing"
)

func TestParseSimpleEntry(t *testing.T) {
	input := "dn: c=KR,dc=data,dc=icao,dc=int\n" +
		"objectClass: country\n" +
		"c: KR\n" +
		"\n"
	entries, err := ParseAll(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].DN != "c=KR,dc=data,dc=icao,dc=int" {
		t.Errorf("unexpected DN: %s", entries[0].DN)
	}
	if string(entries[0].Get("c")[0]) != "KR" {
		t.Errorf("unexpected c value: %s", entries[0].Get("c"))
	}
}

func TestParseContinuationLine(t *testing.T) {
	input := "dn: cn=abc,c=KR\n" +
		"description: this is a very long\n" +
		" value that wraps onto a continuation line\n" +
		"\n"
	entries, err := ParseAll(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := string(entries[0].Get("description")[0])
	want := "this is a very longvalue that wraps onto a continuation line"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseBase64BinaryValue(t *testing.T) {
	raw := []byte{0x30, 0x82, 0x01, 0x02, 0x03}
	encoded := base64.StdEncoding.EncodeToString(raw)
	input := "dn: cn=cert1,c=KR\n" +
		"userCertificate:: " + encoded + "\n" +
		"\n"
	entries, err := ParseAll(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := entries[0].Get("userCertificate")[0]
	if string(got) != string(raw) {
		t.Errorf("got %v, want %v", got, raw)
	}
	if !entries[0].Attributes["userCertificate"].Binary {
		t.Error("expected base64-decoded attribute to be tagged binary")
	}
}

func TestParseBase64DN(t *testing.T) {
	dn := "cn=José,c=ES"
	encoded := base64.StdEncoding.EncodeToString([]byte(dn))
	input := "dn:: " + encoded + "\n" +
		"objectClass: person\n" +
		"\n"
	entries, err := ParseAll(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries[0].DN != dn {
		t.Errorf("got %q, want %q", entries[0].DN, dn)
	}
}

func TestParseCommentLinesIgnored(t *testing.T) {
	input := "# this is a comment\n" +
		"dn: cn=abc,c=KR\n" +
		"objectClass: person\n" +
		"\n"
	entries, err := ParseAll(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestParseMultipleEntriesStreamed(t *testing.T) {
	input := "dn: cn=a,c=KR\nobjectClass: person\n\ndn: cn=b,c=KR\nobjectClass: person\n\n"
	reader := NewReader(strings.NewReader(input))
	count := 0
	for {
		_, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
	}
	if count != 2 {
		t.Errorf("expected 2 entries, got %d", count)
	}
}
