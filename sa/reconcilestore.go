package sa

import (
	"context"
	"time"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/db"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// ReconciliationStore persists one row per Reconciler run plus a
// per-object log of every add/delete/skip the run performed.
type ReconciliationStore struct {
	dbMap db.DatabaseMap
}

func NewReconciliationStore(dbMap db.DatabaseMap) *ReconciliationStore {
	return &ReconciliationStore{dbMap: dbMap}
}

func summaryToModel(s *core.ReconciliationSummary) *reconciliationSummaryModel {
	m := &reconciliationSummaryModel{
		ID:           s.ID,
		RunID:        s.RunID,
		TriggeredBy:  s.TriggeredBy,
		DryRun:       s.DryRun,
		StartedAt:    s.StartedAt,
		CompletedAt:  s.CompletedAt,
		Status:       string(s.Status),
		SuccessCount: s.SuccessCount,
		FailedCount:  s.FailedCount,
		DurationMs:   s.DurationMs,
	}
	m.CscaAdded = s.AddedByType[core.CertTypeCSCA]
	m.DscAdded = s.AddedByType[core.CertTypeDSC]
	m.DscNcAdded = s.AddedByType[core.CertTypeDscNC]
	m.MlscAdded = s.AddedByType[core.CertTypeMLSC]
	m.CrlAdded = s.AddedByType[crlPseudoType]
	m.CscaDeleted = s.DeletedByType[core.CertTypeCSCA]
	m.DscDeleted = s.DeletedByType[core.CertTypeDSC]
	m.DscNcDeleted = s.DeletedByType[core.CertTypeDscNC]
	m.MlscDeleted = s.DeletedByType[core.CertTypeMLSC]
	m.CrlDeleted = s.DeletedByType[crlPseudoType]
	return m
}

// crlPseudoType is the map key reconciliation summaries use for the CRL
// type slot, since core.CertType does not otherwise enumerate CRLs.
const crlPseudoType core.CertType = "CRL"

func modelToSummary(m *reconciliationSummaryModel) *core.ReconciliationSummary {
	return &core.ReconciliationSummary{
		ID:          m.ID,
		RunID:       m.RunID,
		TriggeredBy: m.TriggeredBy,
		DryRun:      m.DryRun,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		Status:      core.ReconciliationStatus(m.Status),
		AddedByType: map[core.CertType]int{
			core.CertTypeCSCA:  m.CscaAdded,
			core.CertTypeDSC:   m.DscAdded,
			core.CertTypeDscNC: m.DscNcAdded,
			core.CertTypeMLSC:  m.MlscAdded,
			crlPseudoType:      m.CrlAdded,
		},
		DeletedByType: map[core.CertType]int{
			core.CertTypeCSCA:  m.CscaDeleted,
			core.CertTypeDSC:   m.DscDeleted,
			core.CertTypeDscNC: m.DscNcDeleted,
			core.CertTypeMLSC:  m.MlscDeleted,
			crlPseudoType:      m.CrlDeleted,
		},
		SuccessCount: m.SuccessCount,
		FailedCount:  m.FailedCount,
		DurationMs:   m.DurationMs,
	}
}

// CreateSummary inserts the IN_PROGRESS row a Reconciler run starts with.
func (s *ReconciliationStore) CreateSummary(ctx context.Context, summary *core.ReconciliationSummary) (int64, error) {
	summary.StartedAt = time.Now()
	m := summaryToModel(summary)
	if err := s.dbMap.Insert(ctx, m); err != nil {
		return 0, pkderrors.NewDbError("sa: insert reconciliation summary: %v", err)
	}
	return m.ID, nil
}

// CompleteSummary overwrites the row with the run's final counters and
// status, once every cert type's batch has finished.
func (s *ReconciliationStore) CompleteSummary(ctx context.Context, summary *core.ReconciliationSummary) error {
	m := summaryToModel(summary)
	_, err := s.dbMap.ExecContext(ctx, 
		`UPDATE reconciliation_summaries SET
			completed_at = $1, status = $2,
			csca_added = $3, dsc_added = $4, dsc_nc_added = $5, mlsc_added = $6, crl_added = $7,
			csca_deleted = $8, dsc_deleted = $9, dsc_nc_deleted = $10, mlsc_deleted = $11, crl_deleted = $12,
			success_count = $13, failed_count = $14, duration_ms = $15
		 WHERE id = $16`,
		m.CompletedAt, m.Status,
		m.CscaAdded, m.DscAdded, m.DscNcAdded, m.MlscAdded, m.CrlAdded,
		m.CscaDeleted, m.DscDeleted, m.DscNcDeleted, m.MlscDeleted, m.CrlDeleted,
		m.SuccessCount, m.FailedCount, m.DurationMs, m.ID)
	if err != nil {
		return pkderrors.NewDbError("sa: complete reconciliation summary: %v", err)
	}
	return nil
}

// AppendLog records one per-object operation (SYNC_TO_LDAP,
// DELETE_FROM_LDAP, SKIP) inside a run.
func (s *ReconciliationStore) AppendLog(ctx context.Context, l *core.ReconciliationLog) error {
	l.CreatedAt = time.Now()
	m := &reconciliationLogModel{
		SummaryID:    l.SummaryID,
		Fingerprint:  l.Fingerprint,
		CertType:     string(l.CertType),
		CountryCode:  l.CountryCode,
		Operation:    string(l.Operation),
		Result:       string(l.Result),
		ErrorMessage: l.ErrorMessage,
		CreatedAt:    l.CreatedAt,
	}
	if err := s.dbMap.Insert(ctx, m); err != nil {
		return pkderrors.NewDbError("sa: insert reconciliation log: %v", err)
	}
	return nil
}

func (s *ReconciliationStore) ListLogs(ctx context.Context, summaryID int64) ([]*core.ReconciliationLog, error) {
	var rows []reconciliationLogModel
	_, err := s.dbMap.Select(ctx, &rows,
		"SELECT * FROM reconciliation_logs WHERE summary_id = $1 ORDER BY created_at", summaryID)
	if err != nil {
		return nil, pkderrors.NewDbError("sa: list reconciliation logs: %v", err)
	}
	out := make([]*core.ReconciliationLog, 0, len(rows))
	for i := range rows {
		out = append(out, &core.ReconciliationLog{
			SummaryID:    rows[i].SummaryID,
			Fingerprint:  rows[i].Fingerprint,
			CertType:     core.CertType(rows[i].CertType),
			CountryCode:  rows[i].CountryCode,
			Operation:    core.ReconciliationOperation(rows[i].Operation),
			Result:       core.ReconciliationResult(rows[i].Result),
			ErrorMessage: rows[i].ErrorMessage,
			CreatedAt:    rows[i].CreatedAt,
		})
	}
	return out, nil
}
