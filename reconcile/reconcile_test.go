package reconcile

import (
	"context"
	"sync"
	"testing"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/log"
	"github.com/iland112/icao-local-pkd/metrics"
)

// fakeCertStore is an in-memory core.CertificateStore for exercising the
// Reconciler without a database.
type fakeCertStore struct {
	mu    sync.Mutex
	certs map[int64]*core.Certificate
	next  int64
}

func newFakeCertStore() *fakeCertStore {
	return &fakeCertStore{certs: map[int64]*core.Certificate{}}
}

func (f *fakeCertStore) SaveWithDuplicateCheck(ctx context.Context, c *core.Certificate) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	c.ID = f.next
	f.certs[c.ID] = c
	return c.ID, false, nil
}
func (f *fakeCertStore) FindByFingerprint(ctx context.Context, fp string) (*core.Certificate, error) {
	return nil, nil
}
func (f *fakeCertStore) FindAllCscasBySubjectDN(ctx context.Context, dn string) ([]*core.Certificate, error) {
	return nil, nil
}
func (f *fakeCertStore) FindByValidationStatus(ctx context.Context, statuses []core.ValidationStatus) ([]*core.Certificate, error) {
	return nil, nil
}
func (f *fakeCertStore) UpdateValidationStatus(ctx context.Context, id int64, status core.ValidationStatus) error {
	return nil
}
func (f *fakeCertStore) MarkStoredInLdap(ctx context.Context, id int64, dn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.certs[id].StoredInLdap = true
	f.certs[id].LdapDN = dn
	return nil
}
func (f *fakeCertStore) FindNotStoredInLdap(ctx context.Context, ct core.CertType) ([]*core.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.Certificate
	for _, c := range f.certs {
		if c.CertType == ct && !c.StoredInLdap {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeCertStore) ListByType(ctx context.Context, ct core.CertType) ([]*core.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.Certificate
	for _, c := range f.certs {
		if c.CertType == ct {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeCrlStore struct{}

func (fakeCrlStore) SaveWithDuplicateCheck(ctx context.Context, c *core.CRL) (int64, bool, error) {
	return 0, false, nil
}
func (fakeCrlStore) FindLatestByCountry(ctx context.Context, cc string) (*core.CRL, error) {
	return nil, nil
}
func (fakeCrlStore) FindNotStoredInLdap(ctx context.Context) ([]*core.CRL, error)    { return nil, nil }
func (fakeCrlStore) MarkStoredInLdap(ctx context.Context, id int64, dn string) error { return nil }

type fakeMlStore struct{}

func (fakeMlStore) SaveWithDuplicateCheck(ctx context.Context, m *core.MasterList) (int64, bool, error) {
	return 0, false, nil
}
func (fakeMlStore) FindNotStoredInLdap(ctx context.Context) ([]*core.MasterList, error) {
	return nil, nil
}
func (fakeMlStore) MarkStoredInLdap(ctx context.Context, id int64, dn string) error { return nil }

// fakeLdap is an in-memory directory: fingerprint -> DN, scoped by
// country+type+nonConformant the way ldapstore.Store is.
type fakeLdap struct {
	mu      sync.Mutex
	entries map[string]core.LdapEntryRef // dn -> ref
}

func newFakeLdap() *fakeLdap { return &fakeLdap{entries: map[string]core.LdapEntryRef{}} }

func (f *fakeLdap) AddCertificate(ctx context.Context, cert *core.Certificate, nonConformant bool) (string, error) {
	dn := "cn=" + cert.FingerprintSHA256 + ",o=" + string(cert.CertType) + ",c=" + cert.CountryCode
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[dn] = core.LdapEntryRef{DN: dn, Fingerprint: cert.FingerprintSHA256, CertType: cert.CertType, CountryCode: cert.CountryCode}
	return dn, nil
}
func (f *fakeLdap) AddCRL(ctx context.Context, crl *core.CRL) (string, error) { return "", nil }
func (f *fakeLdap) AddMasterList(ctx context.Context, ml *core.MasterList) (string, error) {
	return "", nil
}
func (f *fakeLdap) DeleteByDN(ctx context.Context, dn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, dn)
	return nil
}
func (f *fakeLdap) ListFingerprints(ctx context.Context, countryCode string, certType core.CertType, nonConformant bool) ([]core.LdapEntryRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.LdapEntryRef
	for _, ref := range f.entries {
		if ref.CertType == certType && ref.CountryCode == countryCode {
			out = append(out, ref)
		}
	}
	return out, nil
}

// fakeSummaries is an in-memory core.ReconciliationStore.
type fakeSummaries struct {
	mu   sync.Mutex
	next int64
	logs []*core.ReconciliationLog
}

func (f *fakeSummaries) CreateSummary(ctx context.Context, s *core.ReconciliationSummary) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next, nil
}
func (f *fakeSummaries) CompleteSummary(ctx context.Context, s *core.ReconciliationSummary) error {
	return nil
}
func (f *fakeSummaries) AppendLog(ctx context.Context, l *core.ReconciliationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
	return nil
}
func (f *fakeSummaries) ListLogs(ctx context.Context, summaryID int64) ([]*core.ReconciliationLog, error) {
	return f.logs, nil
}

func newReconciler(certs *fakeCertStore, ldap *fakeLdap, summaries *fakeSummaries) *Reconciler {
	return New(certs, fakeCrlStore{}, fakeMlStore{}, ldap, summaries, log.NewMock(), metrics.NewNoopScope())
}

func TestRun_SyncsUnsyncedCertificate(t *testing.T) {
	certs := newFakeCertStore()
	certs.SaveWithDuplicateCheck(context.Background(), &core.Certificate{
		FingerprintSHA256: "aaaa", CertType: core.CertTypeDSC, CountryCode: "KR",
	})
	ldap := newFakeLdap()
	summaries := &fakeSummaries{}
	r := newReconciler(certs, ldap, summaries)

	summary, err := r.Run(context.Background(), "test", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Status != core.ReconciliationCompleted {
		t.Fatalf("status = %s, want COMPLETED", summary.Status)
	}
	if got := summary.AddedByType[core.CertTypeDSC]; got != 1 {
		t.Fatalf("dsc added = %d, want 1", got)
	}
	if len(ldap.entries) != 1 {
		t.Fatalf("ldap entries = %d, want 1", len(ldap.entries))
	}

	// Running again must be a no-op: the cert is now stored_in_ldap.
	summary2, err := r.Run(context.Background(), "test", false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary2.AddedByType[core.CertTypeDSC] != 0 {
		t.Fatalf("second run added = %d, want 0 (idempotent)", summary2.AddedByType[core.CertTypeDSC])
	}
}

func TestRun_DryRunSkipsLdapWrite(t *testing.T) {
	certs := newFakeCertStore()
	certs.SaveWithDuplicateCheck(context.Background(), &core.Certificate{
		FingerprintSHA256: "bbbb", CertType: core.CertTypeCSCA, CountryCode: "DE",
	})
	ldap := newFakeLdap()
	summaries := &fakeSummaries{}
	r := newReconciler(certs, ldap, summaries)

	summary, err := r.Run(context.Background(), "test", true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ldap.entries) != 0 {
		t.Fatalf("dry run must not write to ldap, got %d entries", len(ldap.entries))
	}
	if summary.AddedByType[core.CertTypeCSCA] != 1 {
		t.Fatalf("dry-run should still count the skip toward success, got %d", summary.AddedByType[core.CertTypeCSCA])
	}
	foundSkip := false
	for _, l := range summaries.logs {
		if l.Operation == core.OpSkip {
			foundSkip = true
		}
	}
	if !foundSkip {
		t.Fatalf("expected a SKIP log row in dry-run mode")
	}
}

func TestRun_DoesNotReAddAfterManualLdapDeletion(t *testing.T) {
	certs := newFakeCertStore()
	id, _, _ := certs.SaveWithDuplicateCheck(context.Background(), &core.Certificate{
		FingerprintSHA256: "cccc", CertType: core.CertTypeDSC, CountryCode: "KR",
	})
	ldap := newFakeLdap()
	summaries := &fakeSummaries{}
	r := newReconciler(certs, ldap, summaries)

	if _, err := r.Run(context.Background(), "test", false); err != nil {
		t.Fatalf("initial sync: %v", err)
	}
	if len(ldap.entries) != 1 {
		t.Fatalf("expected 1 synced entry")
	}

	// Simulate an out-of-band LDAP deletion while the DB still believes
	// stored_in_ldap=true.
	for dn := range ldap.entries {
		delete(ldap.entries, dn)
	}
	_ = id

	summary, err := r.Run(context.Background(), "test", false)
	if err != nil {
		t.Fatalf("heal run: %v", err)
	}
	if summary.AddedByType[core.CertTypeDSC] != 0 {
		t.Fatalf("stored_in_ldap=true rows are not re-added by FindNotStoredInLdap; heal happens on explicit flag reset only")
	}
}

func TestRun_DeletesOrphanedLdapEntry(t *testing.T) {
	certs := newFakeCertStore()
	ldap := newFakeLdap()
	ldap.entries["cn=orphan,o=DSC,c=KR"] = core.LdapEntryRef{
		DN: "cn=orphan,o=DSC,c=KR", Fingerprint: "orphan", CertType: core.CertTypeDSC, CountryCode: "",
	}
	summaries := &fakeSummaries{}
	r := newReconciler(certs, ldap, summaries)

	// No store rows of any status exist, so the orphan-deletion path via
	// deletesFor only triggers for countries the store has seen. Seed a
	// stored-in-ldap row with the same (empty) country code as the orphan's
	// directory entry to make that country visible to the diff.
	id, _, _ := certs.SaveWithDuplicateCheck(context.Background(), &core.Certificate{
		FingerprintSHA256: "known", CertType: core.CertTypeDSC, CountryCode: "",
	})
	certs.MarkStoredInLdap(context.Background(), id, "cn=known,o=DSC,c=")

	summary, err := r.Run(context.Background(), "test", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.DeletedByType[core.CertTypeDSC] != 1 {
		t.Fatalf("deleted = %d, want 1", summary.DeletedByType[core.CertTypeDSC])
	}
	if _, exists := ldap.entries["cn=orphan,o=DSC,c=KR"]; exists {
		t.Fatalf("orphan entry should have been deleted")
	}
}
