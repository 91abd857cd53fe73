package ldapstore

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/iland112/icao-local-pkd/core"
)

func TestEscapeDNRoundTrips(t *testing.T) {
	cases := []string{
		"Republic of Testland CSCA",
		" leading and trailing ",
		"#hash-leading",
		"comma, semicolon; plus+equals=",
	}
	for _, c := range cases {
		got := UnescapeDN(EscapeDN(c))
		if got != c {
			t.Errorf("round trip failed: %q -> %q -> %q", c, EscapeDN(c), got)
		}
	}
}

func TestBuildDNV2UsesFingerprint(t *testing.T) {
	s := &Store{cfg: Config{BaseDN: "dc=pkd", DataContainer: "data", NCDataContainer: "nc-data"}.WithDefaults()}
	dn := s.buildDN("KR", "csca", "abcd1234", "CN=X+1", false)
	want := "cn=abcd1234,o=csca,c=KR,dc=data,dc=pkd"
	if dn != want {
		t.Errorf("buildDN = %q, want %q", dn, want)
	}
}

func TestBuildDNLegacyUsesSubjectAndSerial(t *testing.T) {
	cfg := Config{BaseDN: "dc=pkd", DataContainer: "data", NCDataContainer: "nc-data", DNLayout: DNLayoutLegacy}.WithDefaults()
	s := &Store{cfg: cfg}
	dn := s.buildDN("KR", "csca", "abcd1234", "CN=X+1", false)
	want := "cn=CN\\=X\\+1,o=csca,c=KR,dc=data,dc=pkd"
	if dn != want {
		t.Errorf("buildDN legacy = %q, want %q", dn, want)
	}
}

var _ conn = (*fakeConn)(nil)

// fakeConn implements conn for exercising Store without a real directory.
type fakeConn struct {
	added    []*ldap.AddRequest
	deleted  []*ldap.DelRequest
	searchFn func(*ldap.SearchRequest) (*ldap.SearchResult, error)
}

func (f *fakeConn) Bind(string, string) error { return nil }
func (f *fakeConn) Add(req *ldap.AddRequest) error {
	f.added = append(f.added, req)
	return nil
}
func (f *fakeConn) Del(req *ldap.DelRequest) error {
	f.deleted = append(f.deleted, req)
	return nil
}
func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if f.searchFn != nil {
		return f.searchFn(req)
	}
	return &ldap.SearchResult{}, nil
}
func (f *fakeConn) Close() error { return nil }

// TestAddCertificateBuildsExpectedDN exercises DN construction the way
// AddCertificate does, routed through a fakeConn rather than a dialed
// WriteConn (which AddCertificate itself always uses in production).
func TestAddCertificateBuildsExpectedDN(t *testing.T) {
	fc := &fakeConn{}
	cfg := Config{BaseDN: "dc=pkd", DataContainer: "data", NCDataContainer: "nc-data"}.WithDefaults()
	s := &Store{cfg: cfg, provDone: make(map[string]struct{})}

	cert := &core.Certificate{
		FingerprintSHA256: "ffeeaa",
		CountryCode:       "KR",
		CertType:          core.CertTypeCSCA,
		SubjectDN:         "CN=Test CSCA,C=KR",
		SerialNumber:      "01",
		DerBytes:          []byte{0x30, 0x82, 0x01},
	}
	dn := s.buildDN(cert.CountryCode, ouFor(cert.CertType, false), cert.FingerprintSHA256, cert.SubjectDN+"+"+cert.SerialNumber, false)
	if dn != "cn=ffeeaa,o=csca,c=KR,dc=data,dc=pkd" {
		t.Errorf("unexpected DN: %s", dn)
	}

	req := ldap.NewAddRequest(dn, nil)
	req.Attribute("objectClass", []string{"inetOrgPerson", "pkdDownload"})
	req.Attribute("cn", []string{cert.FingerprintSHA256})
	req.Attribute("userCertificate;binary", []string{string(cert.DerBytes)})
	if err := fc.Add(req); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(fc.added) != 1 || fc.added[0].DN != dn {
		t.Fatalf("expected add recorded against %s, got %+v", dn, fc.added)
	}
}

func TestOuForMapsCertTypes(t *testing.T) {
	cases := []struct {
		ct            core.CertType
		nonConformant bool
		want          string
	}{
		{core.CertTypeCSCA, false, "csca"},
		{core.CertTypeDSC, false, "dsc"},
		{core.CertTypeDSC, true, "dsc"},
		{core.CertTypeMLSC, false, "mlsc"},
		{core.CertTypeLink, false, "lc"},
	}
	for _, c := range cases {
		if got := ouFor(c.ct, c.nonConformant); got != c.want {
			t.Errorf("ouFor(%s, %v) = %q, want %q", c.ct, c.nonConformant, got, c.want)
		}
	}
}
