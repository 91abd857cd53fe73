package sa

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/db"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// CertificateStore persists Certificate rows, enforcing fingerprint
// identity: a second observation of the same
// fingerprint_sha256 increments DuplicateCount instead of inserting a
// second row.
type CertificateStore struct {
	dbMap db.DatabaseMap
}

// NewCertificateStore wraps dbMap as a core.CertificateStore.
func NewCertificateStore(dbMap db.DatabaseMap) *CertificateStore {
	return &CertificateStore{dbMap: dbMap}
}

func certToModel(c *core.Certificate) *certificateModel {
	return &certificateModel{
		ID:                c.ID,
		FingerprintSHA256: c.FingerprintSHA256,
		UploadID:          c.UploadID,
		CertType:          string(c.CertType),
		CountryCode:       c.CountryCode,
		SubjectDN:         c.SubjectDN,
		IssuerDN:          c.IssuerDN,
		SerialNumber:      c.SerialNumber,
		NotBefore:         c.NotBefore,
		NotAfter:          c.NotAfter,
		DerBytes:          c.DerBytes,
		StoredInLdap:      c.StoredInLdap,
		LdapDN:            c.LdapDN,
		ValidationStatus:  string(c.ValidationStatus),
		DuplicateCount:    c.DuplicateCount,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func modelToCert(m *certificateModel) *core.Certificate {
	return &core.Certificate{
		ID:                m.ID,
		FingerprintSHA256: m.FingerprintSHA256,
		UploadID:          m.UploadID,
		CertType:          core.CertType(m.CertType),
		CountryCode:       m.CountryCode,
		SubjectDN:         m.SubjectDN,
		IssuerDN:          m.IssuerDN,
		SerialNumber:      m.SerialNumber,
		NotBefore:         m.NotBefore,
		NotAfter:          m.NotAfter,
		DerBytes:          m.DerBytes,
		StoredInLdap:      m.StoredInLdap,
		LdapDN:            m.LdapDN,
		ValidationStatus:  core.ValidationStatus(m.ValidationStatus),
		DuplicateCount:    m.DuplicateCount,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// upsertResult carries the columns the duplicate-checking upserts hand
// back in one round trip.
type upsertResult struct {
	ID             int64 `db:"id"`
	DuplicateCount int   `db:"duplicate_count"`
}

// SaveWithDuplicateCheck inserts cert, or if a row with the same
// fingerprint already exists, increments its DuplicateCount and returns
// wasDuplicate=true. The insert-or-increment is a single upsert
// statement so two concurrent workers observing the same certificate
// can never both insert — one inserts, the other lands on the conflict
// arm, regardless of isolation level.
func (s *CertificateStore) SaveWithDuplicateCheck(ctx context.Context, cert *core.Certificate) (int64, bool, error) {
	cert.CreatedAt = time.Now()
	cert.UpdatedAt = cert.CreatedAt
	m := certToModel(cert)

	var res upsertResult
	err := s.dbMap.SelectOne(ctx, &res,
		`INSERT INTO certificates (
			fingerprint_sha256, upload_id, cert_type, country_code,
			subject_dn, issuer_dn, serial_number, not_before, not_after,
			der_bytes, stored_in_ldap, ldap_dn, validation_status,
			duplicate_count, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (fingerprint_sha256) DO UPDATE SET
			duplicate_count = certificates.duplicate_count + 1,
			updated_at = $16
		 RETURNING id, duplicate_count`,
		m.FingerprintSHA256, m.UploadID, m.CertType, m.CountryCode,
		m.SubjectDN, m.IssuerDN, m.SerialNumber, m.NotBefore, m.NotAfter,
		m.DerBytes, m.StoredInLdap, m.LdapDN, m.ValidationStatus,
		m.DuplicateCount, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return 0, false, pkderrors.NewDbError("sa: upsert certificate: %v", err)
	}
	return res.ID, res.DuplicateCount > m.DuplicateCount, nil
}

// FindByFingerprint returns nil, nil when no row matches.
func (s *CertificateStore) FindByFingerprint(ctx context.Context, fingerprint string) (*core.Certificate, error) {
	var m certificateModel
	err := s.dbMap.SelectOne(ctx, &m, "SELECT * FROM certificates WHERE fingerprint_sha256 = $1", fingerprint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pkderrors.NewDbError("sa: find by fingerprint: %v", err)
	}
	return modelToCert(&m), nil
}

// FindAllCscasBySubjectDN returns every row with this subject_dn,
// deliberately not deduplicated: key-rollover disambiguation in
// trustchain.Build depends on seeing every candidate.
func (s *CertificateStore) FindAllCscasBySubjectDN(ctx context.Context, subjectDN string) ([]*core.Certificate, error) {
	var rows []certificateModel
	_, err := s.dbMap.Select(ctx, &rows,
		"SELECT * FROM certificates WHERE LOWER(subject_dn) = LOWER($1) AND cert_type IN ('CSCA', 'LINK')", subjectDN)
	if err != nil {
		return nil, pkderrors.NewDbError("sa: find CSCAs by subject dn: %v", err)
	}
	out := make([]*core.Certificate, 0, len(rows))
	for i := range rows {
		out = append(out, modelToCert(&rows[i]))
	}
	return out, nil
}

// FindByValidationStatus lists certificates across any of statuses, used
// by the Revalidator to select PENDING and INVALID rows for re-check.
func (s *CertificateStore) FindByValidationStatus(ctx context.Context, statuses []core.ValidationStatus) ([]*core.Certificate, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = placeholder(i + 1)
		args[i] = string(st)
	}
	var rows []certificateModel
	query := "SELECT * FROM certificates WHERE validation_status IN (" + strings.Join(placeholders, ", ") + ")"
	_, err := s.dbMap.Select(ctx, &rows, query, args...)
	if err != nil {
		return nil, pkderrors.NewDbError("sa: find by validation status: %v", err)
	}
	out := make([]*core.Certificate, 0, len(rows))
	for i := range rows {
		out = append(out, modelToCert(&rows[i]))
	}
	return out, nil
}

func (s *CertificateStore) UpdateValidationStatus(ctx context.Context, id int64, status core.ValidationStatus) error {
	_, err := s.dbMap.ExecContext(ctx, "UPDATE certificates SET validation_status = $1, updated_at = $2 WHERE id = $3",
		string(status), time.Now(), id)
	if err != nil {
		return pkderrors.NewDbError("sa: update validation status: %v", err)
	}
	return nil
}

func (s *CertificateStore) MarkStoredInLdap(ctx context.Context, id int64, dn string) error {
	_, err := s.dbMap.ExecContext(ctx, "UPDATE certificates SET stored_in_ldap = true, ldap_dn = $1, updated_at = $2 WHERE id = $3",
		dn, time.Now(), id)
	if err != nil {
		return pkderrors.NewDbError("sa: mark stored in ldap: %v", err)
	}
	return nil
}

func (s *CertificateStore) FindNotStoredInLdap(ctx context.Context, certType core.CertType) ([]*core.Certificate, error) {
	var rows []certificateModel
	_, err := s.dbMap.Select(ctx, &rows,
		"SELECT * FROM certificates WHERE stored_in_ldap = false AND cert_type = $1", string(certType))
	if err != nil {
		return nil, pkderrors.NewDbError("sa: find not stored in ldap: %v", err)
	}
	out := make([]*core.Certificate, 0, len(rows))
	for i := range rows {
		out = append(out, modelToCert(&rows[i]))
	}
	return out, nil
}

func (s *CertificateStore) ListByType(ctx context.Context, certType core.CertType) ([]*core.Certificate, error) {
	var rows []certificateModel
	_, err := s.dbMap.Select(ctx, &rows, "SELECT * FROM certificates WHERE cert_type = $1", string(certType))
	if err != nil {
		return nil, pkderrors.NewDbError("sa: list by type: %v", err)
	}
	out := make([]*core.Certificate, 0, len(rows))
	for i := range rows {
		out = append(out, modelToCert(&rows[i]))
	}
	return out, nil
}

// UpdateExtractedMetadata rewrites the columns derived from the stored
// DER bytes, used by the backfill-metadata maintenance pass after the
// extractor learns new fields or fixes a normalization bug.
func (s *CertificateStore) UpdateExtractedMetadata(ctx context.Context, id int64, subjectDN, issuerDN, serial string, notBefore, notAfter time.Time) error {
	_, err := s.dbMap.ExecContext(ctx, 
		`UPDATE certificates SET
			subject_dn = $1, issuer_dn = $2, serial_number = $3,
			not_before = $4, not_after = $5, updated_at = $6
		 WHERE id = $7`,
		subjectDN, issuerDN, serial, notBefore, notAfter, time.Now(), id)
	if err != nil {
		return pkderrors.NewDbError("sa: update extracted metadata: %v", err)
	}
	return nil
}

func placeholder(n int) string {
	return "$" + itoa(n)
}

func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	// statuses list is always small in practice; this keeps placeholder
	// generation allocation-free for the common case.
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
