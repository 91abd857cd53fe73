package sa

import (
	"context"
	"database/sql"
	"time"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/db"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// UploadStore persists Upload rows, the root of one ingestion job.
type UploadStore struct {
	dbMap db.DatabaseMap
}

func NewUploadStore(dbMap db.DatabaseMap) *UploadStore {
	return &UploadStore{dbMap: dbMap}
}

func uploadToModel(u *core.Upload) *uploadModel {
	return &uploadModel{
		ID:                u.ID,
		FileName:          u.FileName,
		FileHashSHA256:    u.FileHashSHA256,
		FileFormat:        string(u.FileFormat),
		FileSize:          u.FileSize,
		Status:            string(u.Status),
		ProcessingMode:    string(u.ProcessingMode),
		TotalEntries:      u.TotalEntries,
		ProcessedEntries:  u.ProcessedEntries,
		CscaCount:         u.CscaCount,
		DscCount:          u.DscCount,
		DscNcCount:        u.DscNcCount,
		MlscCount:         u.MlscCount,
		ValidCount:        u.ValidCount,
		ExpiredValidCount: u.ExpiredValidCount,
		InvalidCount:      u.InvalidCount,
		PendingCount:      u.PendingCount,
		ErrorCount:        u.ErrorCount,
		ErrorMessage:      u.ErrorMessage,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
		CompletedAt:       u.CompletedAt,
	}
}

func modelToUpload(m *uploadModel) *core.Upload {
	return &core.Upload{
		ID:                m.ID,
		FileName:          m.FileName,
		FileHashSHA256:    m.FileHashSHA256,
		FileFormat:        core.FileFormat(m.FileFormat),
		FileSize:          m.FileSize,
		Status:            core.UploadStatus(m.Status),
		ProcessingMode:    core.ProcessingMode(m.ProcessingMode),
		TotalEntries:      m.TotalEntries,
		ProcessedEntries:  m.ProcessedEntries,
		CscaCount:         m.CscaCount,
		DscCount:          m.DscCount,
		DscNcCount:        m.DscNcCount,
		MlscCount:         m.MlscCount,
		ValidCount:        m.ValidCount,
		ExpiredValidCount: m.ExpiredValidCount,
		InvalidCount:      m.InvalidCount,
		PendingCount:      m.PendingCount,
		ErrorCount:        m.ErrorCount,
		ErrorMessage:      m.ErrorMessage,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		CompletedAt:       m.CompletedAt,
	}
}

func (s *UploadStore) Create(ctx context.Context, u *core.Upload) (int64, error) {
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m := uploadToModel(u)
	if err := s.dbMap.Insert(ctx, m); err != nil {
		return 0, pkderrors.NewDbError("sa: insert upload: %v", err)
	}
	return m.ID, nil
}

// FindByHash backs the duplicate-upload check: a byte-
// identical re-upload returns the existing row instead of reprocessing.
func (s *UploadStore) FindByHash(ctx context.Context, hash string) (*core.Upload, error) {
	var m uploadModel
	err := s.dbMap.SelectOne(ctx, &m, "SELECT * FROM uploads WHERE file_hash_sha256 = $1", hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pkderrors.NewDbError("sa: find upload by hash: %v", err)
	}
	return modelToUpload(&m), nil
}

func (s *UploadStore) Get(ctx context.Context, id int64) (*core.Upload, error) {
	var m uploadModel
	err := s.dbMap.SelectOne(ctx, &m, "SELECT * FROM uploads WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pkderrors.NewDbError("sa: get upload: %v", err)
	}
	return modelToUpload(&m), nil
}

func (s *UploadStore) UpdateStatus(ctx context.Context, id int64, status core.UploadStatus, errMsg string) error {
	_, err := s.dbMap.ExecContext(ctx, 
		"UPDATE uploads SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4",
		string(status), errMsg, time.Now(), id)
	if err != nil {
		return pkderrors.NewDbError("sa: update upload status: %v", err)
	}
	return nil
}

func (s *UploadStore) UpdateCounts(ctx context.Context, u *core.Upload) error {
	u.UpdatedAt = time.Now()
	_, err := s.dbMap.ExecContext(ctx, 
		`UPDATE uploads SET
			processed_entries = $1, csca_count = $2, dsc_count = $3, dsc_nc_count = $4,
			mlsc_count = $5, valid_count = $6, expired_valid_count = $7, invalid_count = $8,
			pending_count = $9, error_count = $10, updated_at = $11
		 WHERE id = $12`,
		u.ProcessedEntries, u.CscaCount, u.DscCount, u.DscNcCount,
		u.MlscCount, u.ValidCount, u.ExpiredValidCount, u.InvalidCount,
		u.PendingCount, u.ErrorCount, u.UpdatedAt, u.ID)
	if err != nil {
		return pkderrors.NewDbError("sa: update upload counts: %v", err)
	}
	return nil
}

func (s *UploadStore) Delete(ctx context.Context, id int64) error {
	_, err := s.dbMap.ExecContext(ctx, "UPDATE uploads SET status = $1, updated_at = $2 WHERE id = $3",
		string(core.UploadStatusDeleted), time.Now(), id)
	if err != nil {
		return pkderrors.NewDbError("sa: delete upload: %v", err)
	}
	return nil
}
