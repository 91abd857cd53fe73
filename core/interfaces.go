package core

import (
	"context"
	"crypto/x509"
)

// CertificateStore is the relational repository for certificates.
// Implementations must treat fingerprint_sha256 as the identity:
// a second observation increments DuplicateCount rather than inserting a
// second row.
type CertificateStore interface {
	SaveWithDuplicateCheck(ctx context.Context, cert *Certificate) (id int64, wasDuplicate bool, err error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*Certificate, error)
	FindAllCscasBySubjectDN(ctx context.Context, subjectDN string) ([]*Certificate, error)
	FindByValidationStatus(ctx context.Context, statuses []ValidationStatus) ([]*Certificate, error)
	UpdateValidationStatus(ctx context.Context, id int64, status ValidationStatus) error
	MarkStoredInLdap(ctx context.Context, id int64, dn string) error
	FindNotStoredInLdap(ctx context.Context, certType CertType) ([]*Certificate, error)
	ListByType(ctx context.Context, certType CertType) ([]*Certificate, error)
}

// CrlStore is the relational repository for CRLs and their revoked-serial
// rows.
type CrlStore interface {
	SaveWithDuplicateCheck(ctx context.Context, crl *CRL) (id int64, wasDuplicate bool, err error)
	FindLatestByCountry(ctx context.Context, countryCode string) (*CRL, error)
	FindNotStoredInLdap(ctx context.Context) ([]*CRL, error)
	MarkStoredInLdap(ctx context.Context, id int64, dn string) error
}

// UploadStore is the relational repository for Upload rows.
type UploadStore interface {
	Create(ctx context.Context, u *Upload) (int64, error)
	FindByHash(ctx context.Context, hash string) (*Upload, error)
	Get(ctx context.Context, id int64) (*Upload, error)
	UpdateStatus(ctx context.Context, id int64, status UploadStatus, errMsg string) error
	UpdateCounts(ctx context.Context, u *Upload) error
	Delete(ctx context.Context, id int64) error
}

// ValidationResultStore is the relational repository for ValidationResult
// rows.
type ValidationResultStore interface {
	Save(ctx context.Context, vr *ValidationResult) (int64, error)
	FindByCertificateID(ctx context.Context, certID int64) (*ValidationResult, error)
	FindByStatuses(ctx context.Context, statuses []ValidationStatus) ([]*ValidationResult, error)
	UpdateOutcome(ctx context.Context, vr *ValidationResult) error
}

// CscaLookup is the narrow capability the trust-chain builder needs:
// "all CSCAs in the store whose subject_dn equals this issuer_dn."
// It deliberately does not expose the whole CertificateStore.
type CscaLookup interface {
	FindAllCscasBySubjectDN(ctx context.Context, subjectDN string) ([]*Certificate, error)
}

// CrlLookup is the narrow capability the CRL check needs.
type CrlLookup interface {
	FindLatestByCountry(ctx context.Context, countryCode string) (*CRL, error)
}

// LdapEntryRef identifies one object already written to the directory.
type LdapEntryRef struct {
	DN          string
	Fingerprint string
	CertType    CertType
	CountryCode string
}

// LdapWriter is the capability the Reconciler and upload pipeline need to
// add/delete directory entries.
type LdapWriter interface {
	AddCertificate(ctx context.Context, cert *Certificate, nonConformant bool) (dn string, err error)
	AddCRL(ctx context.Context, crl *CRL) (dn string, err error)
	AddMasterList(ctx context.Context, ml *MasterList) (dn string, err error)
	DeleteByDN(ctx context.Context, dn string) error
}

// LdapReader is the capability the Reconciler needs to enumerate what is
// currently under an OU scope.
type LdapReader interface {
	ListFingerprints(ctx context.Context, countryCode string, certType CertType, nonConformant bool) ([]LdapEntryRef, error)
}

// HealthChecker is a capability interface standing in for the out-of-scope
// HTTP health handler: something external wires this to a transport, this
// system only promises the check itself.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// CertParser decodes raw certificate bytes; kept as an interface so the
// trust-chain builder and CRL check can be tested against a fake.
type CertParser interface {
	ParseCertificate(der []byte) (*x509.Certificate, error)
}

// MasterListStore is the relational repository for Master List rows.
type MasterListStore interface {
	SaveWithDuplicateCheck(ctx context.Context, ml *MasterList) (id int64, wasDuplicate bool, err error)
	FindNotStoredInLdap(ctx context.Context) ([]*MasterList, error)
	MarkStoredInLdap(ctx context.Context, id int64, dn string) error
}

// DeviationListStore is the relational repository for Deviation List rows
// and their embedded defect entries.
type DeviationListStore interface {
	Save(ctx context.Context, dl *DeviationList) (int64, error)
	FindByCountry(ctx context.Context, countryCode string) ([]*DeviationList, error)
}

// ReconciliationStore is the relational repository for reconciliation
// runs: one summary row per run plus a per-object log.
type ReconciliationStore interface {
	CreateSummary(ctx context.Context, s *ReconciliationSummary) (int64, error)
	CompleteSummary(ctx context.Context, s *ReconciliationSummary) error
	AppendLog(ctx context.Context, l *ReconciliationLog) error
	ListLogs(ctx context.Context, summaryID int64) ([]*ReconciliationLog, error)
}
