package sa

import (
	"context"
	"database/sql"
	"time"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/db"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// MasterListStore persists MasterList rows, keyed by the signer
// certificate's fingerprint the same way CertificateStore treats DSCs.
type MasterListStore struct {
	dbMap db.DatabaseMap
}

func NewMasterListStore(dbMap db.DatabaseMap) *MasterListStore {
	return &MasterListStore{dbMap: dbMap}
}

func mlToModel(m *core.MasterList) *masterListModel {
	return &masterListModel{
		ID:                m.ID,
		FingerprintSHA256: m.FingerprintSHA256,
		CountryCode:       m.CountryCode,
		SignerDN:          m.SignerDN,
		CmsBytes:          m.CmsBytes,
		CscaCount:         m.CscaCount,
		LdapDN:            m.LdapDN,
		CreatedAt:         m.CreatedAt,
	}
}

func modelToML(m *masterListModel) *core.MasterList {
	return &core.MasterList{
		ID:                m.ID,
		FingerprintSHA256: m.FingerprintSHA256,
		CountryCode:       m.CountryCode,
		SignerDN:          m.SignerDN,
		CmsBytes:          m.CmsBytes,
		CscaCount:         m.CscaCount,
		LdapDN:            m.LdapDN,
		CreatedAt:         m.CreatedAt,
	}
}

// SaveWithDuplicateCheck mirrors CertificateStore's identity rule: a
// second Master List with the same fingerprint is a no-op duplicate.
func (s *MasterListStore) SaveWithDuplicateCheck(ctx context.Context, ml *core.MasterList) (int64, bool, error) {
	var existing masterListModel
	err := s.dbMap.SelectOne(ctx, &existing, "SELECT * FROM master_lists WHERE fingerprint_sha256 = $1", ml.FingerprintSHA256)
	if err == nil {
		return existing.ID, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, pkderrors.NewDbError("sa: lookup master list by fingerprint: %v", err)
	}

	ml.CreatedAt = time.Now()
	m := mlToModel(ml)
	if err := s.dbMap.Insert(ctx, m); err != nil {
		return 0, false, pkderrors.NewDbError("sa: insert master list: %v", err)
	}
	return m.ID, false, nil
}

func (s *MasterListStore) FindNotStoredInLdap(ctx context.Context) ([]*core.MasterList, error) {
	var rows []masterListModel
	_, err := s.dbMap.Select(ctx, &rows, "SELECT * FROM master_lists WHERE ldap_dn = '' OR ldap_dn IS NULL")
	if err != nil {
		return nil, pkderrors.NewDbError("sa: find master lists not stored in ldap: %v", err)
	}
	out := make([]*core.MasterList, 0, len(rows))
	for i := range rows {
		out = append(out, modelToML(&rows[i]))
	}
	return out, nil
}

func (s *MasterListStore) MarkStoredInLdap(ctx context.Context, id int64, dn string) error {
	_, err := s.dbMap.ExecContext(ctx, "UPDATE master_lists SET ldap_dn = $1 WHERE id = $2", dn, id)
	if err != nil {
		return pkderrors.NewDbError("sa: mark master list stored in ldap: %v", err)
	}
	return nil
}
