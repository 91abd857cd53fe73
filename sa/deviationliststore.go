package sa

import (
	"context"
	"time"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/db"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// DeviationListStore persists Deviation List rows and their embedded
// defect entries, mirroring the CRL/RevokedEntry parent-child shape.
type DeviationListStore struct {
	dbMap db.DatabaseMap
}

func NewDeviationListStore(dbMap db.DatabaseMap) *DeviationListStore {
	return &DeviationListStore{dbMap: dbMap}
}

func dlToModel(dl *core.DeviationList) *deviationListModel {
	return &deviationListModel{
		ID:          dl.ID,
		CountryCode: dl.CountryCode,
		Version:     dl.Version,
		SigningTime: dl.SigningTime,
		SignerDN:    dl.SignerDN,
		Verified:    dl.Verified,
		DerBytes:    dl.DerBytes,
		CreatedAt:   dl.CreatedAt,
	}
}

func modelToDL(m *deviationListModel) *core.DeviationList {
	return &core.DeviationList{
		ID:          m.ID,
		CountryCode: m.CountryCode,
		Version:     m.Version,
		SigningTime: m.SigningTime,
		SignerDN:    m.SignerDN,
		Verified:    m.Verified,
		DerBytes:    m.DerBytes,
		CreatedAt:   m.CreatedAt,
	}
}

// Save inserts dl and every one of its defect entries in a single
// transaction; a Deviation List is only ever written once per upload, so
// there is no duplicate-check path like Certificate/CRL/MasterList have.
func (s *DeviationListStore) Save(ctx context.Context, dl *core.DeviationList) (int64, error) {
	tx, err := s.dbMap.BeginTx(ctx)
	if err != nil {
		return 0, pkderrors.NewDbError("sa: begin deviation list tx: %v", err)
	}

	dl.CreatedAt = time.Now()
	m := dlToModel(dl)
	if err := tx.Insert(ctx, m); err != nil {
		return 0, Rollback(tx, pkderrors.NewDbError("sa: insert deviation list: %v", err))
	}

	for _, entry := range dl.Entries {
		row := &deviationEntryModel{
			DlID:              m.ID,
			CertIssuerDN:      entry.CertIssuerDN,
			CertSerial:        entry.CertSerial,
			DefectOID:         entry.DefectOID,
			DefectDescription: entry.DefectDescription,
		}
		if err := tx.Insert(ctx, row); err != nil {
			return 0, Rollback(tx, pkderrors.NewDbError("sa: insert deviation entry: %v", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, pkderrors.NewDbError("sa: commit deviation list: %v", err)
	}
	return m.ID, nil
}

// FindByCountry returns every Deviation List recorded for countryCode,
// most recent first, with its defect entries attached.
func (s *DeviationListStore) FindByCountry(ctx context.Context, countryCode string) ([]*core.DeviationList, error) {
	var rows []deviationListModel
	_, err := s.dbMap.Select(ctx, &rows,
		"SELECT * FROM deviation_lists WHERE country_code = $1 ORDER BY signing_time DESC", countryCode)
	if err != nil {
		return nil, pkderrors.NewDbError("sa: find deviation lists by country: %v", err)
	}

	out := make([]*core.DeviationList, 0, len(rows))
	for i := range rows {
		dl := modelToDL(&rows[i])

		var entries []deviationEntryModel
		if _, err := s.dbMap.Select(ctx, &entries, "SELECT * FROM deviation_entries WHERE dl_id = $1", dl.ID); err != nil {
			return nil, pkderrors.NewDbError("sa: load deviation entries: %v", err)
		}
		for _, e := range entries {
			dl.Entries = append(dl.Entries, core.DeviationEntry{
				DlID:              e.DlID,
				CertIssuerDN:      e.CertIssuerDN,
				CertSerial:        e.CertSerial,
				DefectOID:         e.DefectOID,
				DefectDescription: e.DefectDescription,
			})
		}
		out = append(out, dl)
	}
	return out, nil
}
