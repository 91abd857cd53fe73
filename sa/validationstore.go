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

// ValidationResultStore persists the outcome of running trustchain.Build
// and crlcheck.Check against one Certificate.
type ValidationResultStore struct {
	dbMap db.DatabaseMap
}

func NewValidationResultStore(dbMap db.DatabaseMap) *ValidationResultStore {
	return &ValidationResultStore{dbMap: dbMap}
}

func vrToModel(v *core.ValidationResult) *validationResultModel {
	return &validationResultModel{
		ID:                   v.ID,
		CertificateID:        v.CertificateID,
		UploadID:             v.UploadID,
		ValidationStatus:     string(v.ValidationStatus),
		TrustChainValid:      v.TrustChainValid,
		TrustChainPath:       v.ChainPathString(),
		CscaFound:            v.CscaFound,
		CscaSubjectDN:        v.CscaSubjectDN,
		SignatureVerified:    v.SignatureVerified,
		IsExpired:            v.IsExpired,
		CrlChecked:           v.CrlChecked,
		CrlCheckStatus:       string(v.CrlCheckStatus),
		CrlRevoked:           v.CrlRevoked,
		IcaoComplianceLevel:  string(v.IcaoComplianceLevel),
		IcaoViolations:       strings.Join(v.IcaoViolations, ","),
		ErrorMessage:         v.ErrorMessage,
		ValidationDurationMs: v.ValidationDurationMs,
		CreatedAt:            v.CreatedAt,
	}
}

func modelToVR(m *validationResultModel) *core.ValidationResult {
	var path []string
	if m.TrustChainPath != "" {
		path = strings.Split(m.TrustChainPath, " → ")
	}
	var violations []string
	if m.IcaoViolations != "" {
		violations = strings.Split(m.IcaoViolations, ",")
	}
	return &core.ValidationResult{
		ID:                   m.ID,
		CertificateID:        m.CertificateID,
		UploadID:             m.UploadID,
		ValidationStatus:     core.ValidationStatus(m.ValidationStatus),
		TrustChainValid:      m.TrustChainValid,
		TrustChainPath:       path,
		CscaFound:            m.CscaFound,
		CscaSubjectDN:        m.CscaSubjectDN,
		SignatureVerified:    m.SignatureVerified,
		IsExpired:            m.IsExpired,
		CrlChecked:           m.CrlChecked,
		CrlCheckStatus:       core.CrlCheckStatus(m.CrlCheckStatus),
		CrlRevoked:           m.CrlRevoked,
		IcaoComplianceLevel:  core.IcaoComplianceLevel(m.IcaoComplianceLevel),
		IcaoViolations:       violations,
		ErrorMessage:         m.ErrorMessage,
		ValidationDurationMs: m.ValidationDurationMs,
		CreatedAt:            m.CreatedAt,
	}
}

func (s *ValidationResultStore) Save(ctx context.Context, vr *core.ValidationResult) (int64, error) {
	vr.CreatedAt = time.Now()
	m := vrToModel(vr)
	if err := s.dbMap.Insert(ctx, m); err != nil {
		return 0, pkderrors.NewDbError("sa: insert validation result: %v", err)
	}
	return m.ID, nil
}

func (s *ValidationResultStore) FindByCertificateID(ctx context.Context, certID int64) (*core.ValidationResult, error) {
	var m validationResultModel
	err := s.dbMap.SelectOne(ctx, &m,
		"SELECT * FROM validation_results WHERE certificate_id = $1 ORDER BY created_at DESC LIMIT 1", certID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pkderrors.NewDbError("sa: find validation result: %v", err)
	}
	return modelToVR(&m), nil
}

func (s *ValidationResultStore) FindByStatuses(ctx context.Context, statuses []core.ValidationStatus) ([]*core.ValidationResult, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = placeholder(i + 1)
		args[i] = string(st)
	}
	var rows []validationResultModel
	query := "SELECT * FROM validation_results WHERE validation_status IN (" + strings.Join(placeholders, ", ") + ")"
	_, err := s.dbMap.Select(ctx, &rows, query, args...)
	if err != nil {
		return nil, pkderrors.NewDbError("sa: find validation results by status: %v", err)
	}
	out := make([]*core.ValidationResult, 0, len(rows))
	for i := range rows {
		out = append(out, modelToVR(&rows[i]))
	}
	return out, nil
}

// UpdateOutcome overwrites an existing row in place, used by the
// Revalidator after a PENDING/INVALID row is reassessed.
func (s *ValidationResultStore) UpdateOutcome(ctx context.Context, vr *core.ValidationResult) error {
	m := vrToModel(vr)
	_, err := s.dbMap.ExecContext(ctx, 
		`UPDATE validation_results SET
			validation_status = $1, trust_chain_valid = $2, trust_chain_path = $3,
			csca_found = $4, csca_subject_dn = $5, signature_verified = $6, is_expired = $7,
			crl_checked = $8, crl_check_status = $9, crl_revoked = $10,
			icao_compliance_level = $11, icao_violations = $12, error_message = $13,
			validation_duration_ms = $14
		 WHERE id = $15`,
		m.ValidationStatus, m.TrustChainValid, m.TrustChainPath,
		m.CscaFound, m.CscaSubjectDN, m.SignatureVerified, m.IsExpired,
		m.CrlChecked, m.CrlCheckStatus, m.CrlRevoked,
		m.IcaoComplianceLevel, m.IcaoViolations, m.ErrorMessage,
		m.ValidationDurationMs, m.ID)
	if err != nil {
		return pkderrors.NewDbError("sa: update validation outcome: %v", err)
	}
	return nil
}
