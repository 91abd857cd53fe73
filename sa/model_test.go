package sa

import (
	"testing"
	"time"

	"github.com/iland112/icao-local-pkd/core"
)

func TestCertModelRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	in := &core.Certificate{
		ID:                7,
		FingerprintSHA256: "abc123",
		UploadID:          3,
		CertType:          core.CertTypeDSC,
		CountryCode:       "KR",
		SubjectDN:         "CN=DSC-KR,C=KR",
		IssuerDN:          "CN=CSCA-KR,C=KR",
		SerialNumber:      "1234",
		NotBefore:         now.Add(-time.Hour),
		NotAfter:          now.Add(time.Hour),
		DerBytes:          []byte{0x30, 0x03},
		StoredInLdap:      true,
		LdapDN:            "cn=abc123,o=dsc,c=KR,dc=data,dc=pkd",
		ValidationStatus:  core.ValidationValid,
		DuplicateCount:    2,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	out := modelToCert(certToModel(in))
	if out.FingerprintSHA256 != in.FingerprintSHA256 || out.CertType != in.CertType ||
		out.CountryCode != in.CountryCode || out.SubjectDN != in.SubjectDN ||
		out.IssuerDN != in.IssuerDN || out.SerialNumber != in.SerialNumber ||
		!out.NotBefore.Equal(in.NotBefore) || !out.NotAfter.Equal(in.NotAfter) ||
		out.StoredInLdap != in.StoredInLdap || out.LdapDN != in.LdapDN ||
		out.ValidationStatus != in.ValidationStatus || out.DuplicateCount != in.DuplicateCount ||
		string(out.DerBytes) != string(in.DerBytes) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestValidationResultPathRoundTrip(t *testing.T) {
	in := &core.ValidationResult{
		CertificateID:    5,
		UploadID:         2,
		ValidationStatus: core.ValidationExpiredValid,
		TrustChainValid:  true,
		TrustChainPath:   []string{"CN=DSC-KR", "CN=CSCA-KR"},
		IsExpired:        true,
		IcaoViolations:   []string{"keySize: key size 1024 bits below minimum 2048"},
	}
	m := vrToModel(in)
	if m.TrustChainPath != "CN=DSC-KR → CN=CSCA-KR" {
		t.Fatalf("unexpected serialized path %q", m.TrustChainPath)
	}
	out := modelToVR(m)
	if len(out.TrustChainPath) != 2 || out.TrustChainPath[1] != "CN=CSCA-KR" {
		t.Fatalf("path did not round trip: %v", out.TrustChainPath)
	}
	if len(out.IcaoViolations) != 1 {
		t.Fatalf("violations did not round trip: %v", out.IcaoViolations)
	}
	if out.ValidationStatus != core.ValidationExpiredValid || !out.IsExpired {
		t.Fatal("status flags did not round trip")
	}
}

func TestSummaryModelCounters(t *testing.T) {
	s := &core.ReconciliationSummary{
		RunID:       "run-1",
		TriggeredBy: "manual",
		DryRun:      true,
		Status:      core.ReconciliationCompleted,
		AddedByType: map[core.CertType]int{
			core.CertTypeCSCA: 1,
			core.CertTypeDSC:  2,
			crlPseudoType:     3,
		},
		DeletedByType: map[core.CertType]int{core.CertTypeMLSC: 4},
		SuccessCount:  6,
		FailedCount:   0,
	}
	m := summaryToModel(s)
	if m.CscaAdded != 1 || m.DscAdded != 2 || m.CrlAdded != 3 || m.MlscDeleted != 4 {
		t.Fatalf("per-type counters mismapped: %+v", m)
	}
	back := modelToSummary(m)
	if back.AddedByType[core.CertTypeDSC] != 2 || back.DeletedByType[core.CertTypeMLSC] != 4 {
		t.Fatalf("counters did not round trip: %+v", back)
	}
	if !back.DryRun || back.Status != core.ReconciliationCompleted {
		t.Fatal("flags did not round trip")
	}
}
