package sa

import (
	"context"
	"database/sql"
	"time"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/db"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// CrlStore persists CRL rows, enforcing fingerprint identity the same
// way CertificateStore does.
type CrlStore struct {
	dbMap db.DatabaseMap
}

func NewCrlStore(dbMap db.DatabaseMap) *CrlStore {
	return &CrlStore{dbMap: dbMap}
}

func crlToModel(c *core.CRL) *crlModel {
	return &crlModel{
		ID:                c.ID,
		FingerprintSHA256: c.FingerprintSHA256,
		UploadID:          c.UploadID,
		CountryCode:       c.CountryCode,
		IssuerDN:          c.IssuerDN,
		ThisUpdate:        c.ThisUpdate,
		NextUpdate:        c.NextUpdate,
		CrlNumber:         c.CrlNumber,
		DerBytes:          c.DerBytes,
		StoredInLdap:      c.StoredInLdap,
		LdapDN:            c.LdapDN,
		CreatedAt:         c.CreatedAt,
	}
}

func modelToCrl(m *crlModel) *core.CRL {
	return &core.CRL{
		ID:                m.ID,
		FingerprintSHA256: m.FingerprintSHA256,
		UploadID:          m.UploadID,
		CountryCode:       m.CountryCode,
		IssuerDN:          m.IssuerDN,
		ThisUpdate:        m.ThisUpdate,
		NextUpdate:        m.NextUpdate,
		CrlNumber:         m.CrlNumber,
		DerBytes:          m.DerBytes,
		StoredInLdap:      m.StoredInLdap,
		LdapDN:            m.LdapDN,
		CreatedAt:         m.CreatedAt,
	}
}

// crlUpsertResult reports the row id plus whether the upsert landed on
// the conflict arm (xmax is nonzero for an updated row, zero for a
// fresh insert — the crls table has no duplicate counter to compare).
type crlUpsertResult struct {
	ID           int64 `db:"id"`
	WasDuplicate bool  `db:"was_duplicate"`
}

// SaveWithDuplicateCheck inserts crl as a single upsert statement, so
// concurrent observations of the same CRL can never both insert. The
// revoked-serial child rows are written only on a fresh insert; a
// duplicate already has them.
func (s *CrlStore) SaveWithDuplicateCheck(ctx context.Context, crl *core.CRL) (int64, bool, error) {
	crl.CreatedAt = time.Now()
	m := crlToModel(crl)

	var res crlUpsertResult
	err := s.dbMap.SelectOne(ctx, &res,
		`INSERT INTO crls (
			fingerprint_sha256, upload_id, country_code, issuer_dn,
			this_update, next_update, crl_number, der_bytes,
			stored_in_ldap, ldap_dn, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (fingerprint_sha256) DO UPDATE SET
			fingerprint_sha256 = excluded.fingerprint_sha256
		 RETURNING id, (xmax <> 0) AS was_duplicate`,
		m.FingerprintSHA256, m.UploadID, m.CountryCode, m.IssuerDN,
		m.ThisUpdate, m.NextUpdate, m.CrlNumber, m.DerBytes,
		m.StoredInLdap, m.LdapDN, m.CreatedAt)
	if err != nil {
		return 0, false, pkderrors.NewDbError("sa: upsert crl: %v", err)
	}
	if res.WasDuplicate {
		return res.ID, true, nil
	}

	tx, err := s.dbMap.BeginTx(ctx)
	if err != nil {
		return res.ID, false, pkderrors.NewDbError("sa: begin revoked-entries tx: %v", err)
	}
	for _, entry := range crl.Revoked {
		row := &revokedEntryModel{
			CrlID:          res.ID,
			Serial:         entry.Serial,
			RevocationDate: entry.RevocationDate,
			Reason:         entry.Reason,
		}
		if err := tx.Insert(ctx, row); err != nil {
			return res.ID, false, Rollback(tx, pkderrors.NewDbError("sa: insert revoked entry: %v", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return res.ID, false, pkderrors.NewDbError("sa: commit revoked entries: %v", err)
	}
	return res.ID, false, nil
}

// FindLatestByCountry returns the CRL with the most recent ThisUpdate for
// countryCode, or nil, nil if none exists yet (crlcheck.Lookup treats
// that as NOT_CHECKED).
func (s *CrlStore) FindLatestByCountry(ctx context.Context, countryCode string) (*core.CRL, error) {
	var m crlModel
	err := s.dbMap.SelectOne(ctx, &m,
		"SELECT * FROM crls WHERE country_code = $1 ORDER BY this_update DESC LIMIT 1", countryCode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pkderrors.NewDbError("sa: find latest crl: %v", err)
	}

	var revoked []revokedEntryModel
	if _, err := s.dbMap.Select(ctx, &revoked, "SELECT * FROM revoked_entries WHERE crl_id = $1", m.ID); err != nil {
		return nil, pkderrors.NewDbError("sa: load revoked entries: %v", err)
	}
	crl := modelToCrl(&m)
	for _, r := range revoked {
		crl.Revoked = append(crl.Revoked, core.RevokedEntry{
			CrlID:          r.CrlID,
			Serial:         r.Serial,
			RevocationDate: r.RevocationDate,
			Reason:         r.Reason,
		})
	}
	return crl, nil
}

func (s *CrlStore) FindNotStoredInLdap(ctx context.Context) ([]*core.CRL, error) {
	var rows []crlModel
	_, err := s.dbMap.Select(ctx, &rows, "SELECT * FROM crls WHERE stored_in_ldap = false")
	if err != nil {
		return nil, pkderrors.NewDbError("sa: find crls not stored in ldap: %v", err)
	}
	out := make([]*core.CRL, 0, len(rows))
	for i := range rows {
		out = append(out, modelToCrl(&rows[i]))
	}
	return out, nil
}

func (s *CrlStore) MarkStoredInLdap(ctx context.Context, id int64, dn string) error {
	_, err := s.dbMap.ExecContext(ctx, "UPDATE crls SET stored_in_ldap = true, ldap_dn = $1 WHERE id = $2", dn, id)
	if err != nil {
		return pkderrors.NewDbError("sa: mark crl stored in ldap: %v", err)
	}
	return nil
}
