package revalidate

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
	"github.com/iland112/icao-local-pkd/log"
	"github.com/iland112/icao-local-pkd/metrics"
)

type fakeCerts struct {
	byID map[int64]*core.Certificate
	next int64
}

func newFakeCerts() *fakeCerts { return &fakeCerts{byID: map[int64]*core.Certificate{}} }

func (f *fakeCerts) add(c *core.Certificate) int64 {
	f.next++
	c.ID = f.next
	f.byID[c.ID] = c
	return c.ID
}
func (f *fakeCerts) SaveWithDuplicateCheck(ctx context.Context, c *core.Certificate) (int64, bool, error) {
	return f.add(c), false, nil
}
func (f *fakeCerts) FindByFingerprint(ctx context.Context, fp string) (*core.Certificate, error) {
	for _, c := range f.byID {
		if c.FingerprintSHA256 == fp {
			return c, nil
		}
	}
	return nil, nil
}
func (f *fakeCerts) FindAllCscasBySubjectDN(ctx context.Context, dn string) ([]*core.Certificate, error) {
	var out []*core.Certificate
	for _, c := range f.byID {
		if c.CertType == core.CertTypeCSCA && c.SubjectDN == dn {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeCerts) FindByValidationStatus(ctx context.Context, statuses []core.ValidationStatus) ([]*core.Certificate, error) {
	want := map[core.ValidationStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []*core.Certificate
	for _, c := range f.byID {
		if want[c.ValidationStatus] {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeCerts) UpdateValidationStatus(ctx context.Context, id int64, status core.ValidationStatus) error {
	f.byID[id].ValidationStatus = status
	return nil
}
func (f *fakeCerts) MarkStoredInLdap(ctx context.Context, id int64, dn string) error { return nil }
func (f *fakeCerts) FindNotStoredInLdap(ctx context.Context, ct core.CertType) ([]*core.Certificate, error) {
	return nil, nil
}
func (f *fakeCerts) ListByType(ctx context.Context, ct core.CertType) ([]*core.Certificate, error) {
	var out []*core.Certificate
	for _, c := range f.byID {
		if c.CertType == ct {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeResults struct {
	byCertID map[int64]*core.ValidationResult
	next     int64
}

func newFakeResults() *fakeResults { return &fakeResults{byCertID: map[int64]*core.ValidationResult{}} }

func (f *fakeResults) Save(ctx context.Context, vr *core.ValidationResult) (int64, error) {
	f.next++
	vr.ID = f.next
	f.byCertID[vr.CertificateID] = vr
	return vr.ID, nil
}
func (f *fakeResults) FindByCertificateID(ctx context.Context, certID int64) (*core.ValidationResult, error) {
	return f.byCertID[certID], nil
}
func (f *fakeResults) FindByStatuses(ctx context.Context, statuses []core.ValidationStatus) ([]*core.ValidationResult, error) {
	want := map[core.ValidationStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []*core.ValidationResult
	for _, vr := range f.byCertID {
		if want[vr.ValidationStatus] {
			out = append(out, vr)
		}
	}
	return out, nil
}
func (f *fakeResults) UpdateOutcome(ctx context.Context, vr *core.ValidationResult) error {
	f.byCertID[vr.CertificateID] = vr
	return nil
}

type fakeCrlLookup struct{}

func (fakeCrlLookup) FindLatestByCountry(ctx context.Context, cc string) (*core.CRL, error) {
	return nil, nil
}

func makeDSC(t *testing.T, cn string, caCert *x509.Certificate, caKey *ecdsa.PrivateKey) ([]byte, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create dsc: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse dsc: %v", err)
	}
	return der, cert
}

func TestRunChainPass_PromotesPendingToValid(t *testing.T) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ca key: %v", err)
	}
	caTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "CSCA-FR"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create ca: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse ca: %v", err)
	}
	dscDER, _ := makeDSC(t, "DSC-FR", caCert, caKey)

	certs := newFakeCerts()
	dscID := certs.add(&core.Certificate{
		FingerprintSHA256: "dsc-fr-fp", CertType: core.CertTypeDSC, CountryCode: "FR",
		SubjectDN: "CN=DSC-FR", IssuerDN: "CN=CSCA-FR", DerBytes: dscDER,
		ValidationStatus: core.ValidationPending,
	})
	results := newFakeResults()
	results.Save(context.Background(), &core.ValidationResult{
		CertificateID: dscID, ValidationStatus: core.ValidationPending, ErrorMessage: "CSCA_NOT_FOUND",
	})

	r := New(certs, results, fakeCrlLookup{}, log.NewMock(), metrics.NewNoopScope())
	stats, err := r.RunChainPass(context.Background())
	if err != nil {
		t.Fatalf("RunChainPass before CSCA exists: %v", err)
	}
	if stats.ChainPromoted != 0 {
		t.Fatalf("should not promote before CSCA is stored, got %d", stats.ChainPromoted)
	}

	certs.add(&core.Certificate{
		FingerprintSHA256: "csca-fr-fp", CertType: core.CertTypeCSCA, CountryCode: "FR",
		SubjectDN: "CN=CSCA-FR", IssuerDN: "CN=CSCA-FR", DerBytes: caDER,
		ValidationStatus: core.ValidationValid,
	})

	stats, err = r.RunChainPass(context.Background())
	if err != nil {
		t.Fatalf("RunChainPass after CSCA exists: %v", err)
	}
	if stats.ChainPromoted != 1 {
		t.Fatalf("chain promoted = %d, want 1", stats.ChainPromoted)
	}
	vr, _ := results.FindByCertificateID(context.Background(), dscID)
	if vr.ValidationStatus != core.ValidationValid {
		t.Fatalf("status = %s, want VALID", vr.ValidationStatus)
	}
}

func TestRunExpiryPass_TransitionsValidToExpiredValid(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "CSCA-EXP"},
		NotBefore:    time.Now().Add(-48 * time.Hour),
		NotAfter:     time.Now().Add(-24 * time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}

	certs := newFakeCerts()
	certID := certs.add(&core.Certificate{
		FingerprintSHA256: "exp-fp", CertType: core.CertTypeCSCA, CountryCode: "KR",
		DerBytes: der, ValidationStatus: core.ValidationValid,
	})
	results := newFakeResults()
	results.Save(context.Background(), &core.ValidationResult{
		CertificateID: certID, ValidationStatus: core.ValidationValid,
	})

	r := New(certs, results, fakeCrlLookup{}, log.NewMock(), metrics.NewNoopScope())
	stats, err := r.RunExpiryPass(context.Background())
	if err != nil {
		t.Fatalf("RunExpiryPass: %v", err)
	}
	if stats.ExpiryTransitions != 1 {
		t.Fatalf("expiry transitions = %d, want 1", stats.ExpiryTransitions)
	}
	vr, _ := results.FindByCertificateID(context.Background(), certID)
	if vr.ValidationStatus != core.ValidationExpiredValid {
		t.Fatalf("status = %s, want EXPIRED_VALID", vr.ValidationStatus)
	}
}
