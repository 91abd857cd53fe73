// Package reconcile implements the DB↔Directory Reconciler, the
// periodic control loop that diffs the relational store against the LDAP
// tree by type and country, stages additions/deletions in dry-run or
// live mode, and records every per-object operation in an auditable log.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	"github.com/iland112/icao-local-pkd/core"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
	"github.com/iland112/icao-local-pkd/log"
	"github.com/iland112/icao-local-pkd/metrics"
)

// certTypes is the fixed enumeration every run iterates over. CRL
// uses the core.CertType("CRL") pseudo-type, matching sa.crlPseudoType.
var certTypes = []core.CertType{
	core.CertTypeCSCA,
	core.CertTypeDSC,
	core.CertTypeDscNC,
	core.CertTypeMLSC,
	core.CertType("CRL"),
}

// Reconciler drives one DB↔LDAP diff-and-sync run.
type Reconciler struct {
	Certs   core.CertificateStore
	Crls    core.CrlStore
	Masters core.MasterListStore
	Ldap    interface {
		core.LdapWriter
		core.LdapReader
	}
	Summaries core.ReconciliationStore
	Log       log.Logger
	Stats     metrics.Scope
	Clock     clock.Clock

	// Concurrency bounds how many ADD/DELETE operations within one
	// cert type's batch run at once, so a single slow LDAP call does
	// not stall the entire type's batch.
	Concurrency int
}

// New builds a Reconciler with sane defaults (concurrency 4, a real
// wall clock).
func New(certs core.CertificateStore, crls core.CrlStore, masters core.MasterListStore,
	ldap interface {
		core.LdapWriter
		core.LdapReader
	}, summaries core.ReconciliationStore, logger log.Logger, stats metrics.Scope) *Reconciler {
	if stats == nil {
		stats = metrics.NewNoopScope()
	}
	return &Reconciler{
		Certs: certs, Crls: crls, Masters: masters, Ldap: ldap,
		Summaries: summaries, Log: logger, Stats: stats,
		Clock: clock.New(), Concurrency: 4,
	}
}

// addCandidate is one object under consideration for an ADD;
// deleteCandidate is its DELETE counterpart.
type addCandidate struct {
	fingerprint   string
	countryCode   string
	certType      core.CertType
	nonConformant bool
	apply         func(ctx context.Context) (dn string, err error)
}

type deleteCandidate struct {
	fingerprint string
	countryCode string
	certType    core.CertType
	dn          string
}

// Run executes one full reconciliation pass across every cert type in
// certTypes. triggeredBy identifies the invocation source
// ("periodic" or a caller-supplied tag for an explicit trigger).
func (r *Reconciler) Run(ctx context.Context, triggeredBy string, dryRun bool) (*core.ReconciliationSummary, error) {
	started := r.Clock.Now()
	summary := &core.ReconciliationSummary{
		RunID:         uuid.NewString(),
		TriggeredBy:   triggeredBy,
		DryRun:        dryRun,
		StartedAt:     started,
		Status:        core.ReconciliationInProgress,
		AddedByType:   map[core.CertType]int{},
		DeletedByType: map[core.CertType]int{},
	}
	id, err := r.Summaries.CreateSummary(ctx, summary)
	if err != nil {
		return nil, err
	}
	summary.ID = id

	anyFailed := false
	for _, ct := range certTypes {
		select {
		case <-ctx.Done():
			anyFailed = true
			r.Log.Warningf("reconcile: shutdown signal before cert type %s", ct)
			goto done
		default:
		}

		adds, dels, err := r.diff(ctx, ct)
		if err != nil {
			anyFailed = true
			r.Log.Errf("reconcile: diff %s: %v", ct, err)
			continue
		}

		addOK, addFail := r.applyAdds(ctx, summary.ID, ct, adds, dryRun)
		delOK, delFail := r.applyDeletes(ctx, summary.ID, ct, dels, dryRun)

		summary.AddedByType[ct] = addOK
		summary.DeletedByType[ct] = delOK
		summary.SuccessCount += addOK + delOK
		summary.FailedCount += addFail + delFail
		if addFail > 0 || delFail > 0 {
			anyFailed = true
		}
		r.Stats.Gauge(fmt.Sprintf("reconcile.%s.added", ct), int64(addOK))
		r.Stats.Gauge(fmt.Sprintf("reconcile.%s.deleted", ct), int64(delOK))
	}

done:
	completed := r.Clock.Now()
	summary.CompletedAt = &completed
	summary.DurationMs = completed.Sub(started).Milliseconds()
	switch {
	case anyFailed && summary.SuccessCount > 0:
		summary.Status = core.ReconciliationPartial
	case anyFailed:
		summary.Status = core.ReconciliationFailed
	default:
		summary.Status = core.ReconciliationCompleted
	}

	if err := r.Summaries.CompleteSummary(ctx, summary); err != nil {
		return summary, err
	}
	r.Log.Infof("reconcile: run %d (%s) complete status=%s added=%d deleted=%d failed=%d duration=%dms",
		summary.ID, summary.RunID, summary.Status, sumValues(summary.AddedByType), sumValues(summary.DeletedByType),
		summary.FailedCount, summary.DurationMs)
	return summary, nil
}

func sumValues(m map[core.CertType]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

// diff computes ADD and DELETE candidates for one cert type.
func (r *Reconciler) diff(ctx context.Context, ct core.CertType) ([]addCandidate, []deleteCandidate, error) {
	if ct == core.CertType("CRL") {
		return r.diffCrl(ctx)
	}
	if ct == core.CertTypeMLSC {
		return r.diffMasterList(ctx)
	}
	return r.diffCertificate(ctx, ct)
}

func (r *Reconciler) diffCertificate(ctx context.Context, ct core.CertType) ([]addCandidate, []deleteCandidate, error) {
	nonConformant := ct == core.CertTypeDscNC

	notStored, err := r.Certs.FindNotStoredInLdap(ctx, ct)
	if err != nil {
		return nil, nil, pkderrors.NewDbError("reconcile: list not-stored %s: %v", ct, err)
	}
	var adds []addCandidate
	storeFingerprints := map[string]bool{}
	countries := map[string]bool{}
	for _, c := range notStored {
		cert := c
		storeFingerprints[cert.FingerprintSHA256] = true
		countries[cert.CountryCode] = true
		adds = append(adds, addCandidate{
			fingerprint: cert.FingerprintSHA256, countryCode: cert.CountryCode, certType: ct, nonConformant: nonConformant,
			apply: func(ctx context.Context) (string, error) {
				dn, err := r.Ldap.AddCertificate(ctx, cert, nonConformant)
				if err != nil {
					return "", err
				}
				if err := r.Certs.MarkStoredInLdap(ctx, cert.ID, dn); err != nil {
					return "", err
				}
				return dn, nil
			},
		})
	}

	// Also fold in the already-stored rows of this type so DELETE
	// candidates are computed against the FULL store set, not just the
	// not-yet-synced rows.
	stored, err := r.Certs.ListByType(ctx, ct)
	if err != nil {
		return nil, nil, pkderrors.NewDbError("reconcile: list by type %s: %v", ct, err)
	}
	for _, c := range stored {
		storeFingerprints[c.FingerprintSHA256] = true
		countries[c.CountryCode] = true
	}

	dels, err := r.deletesFor(ctx, ct, nonConformant, countries, storeFingerprints)
	if err != nil {
		return nil, nil, err
	}
	return adds, dels, nil
}

func (r *Reconciler) diffMasterList(ctx context.Context) ([]addCandidate, []deleteCandidate, error) {
	notStored, err := r.Masters.FindNotStoredInLdap(ctx)
	if err != nil {
		return nil, nil, pkderrors.NewDbError("reconcile: list master lists: %v", err)
	}
	var adds []addCandidate
	storeFingerprints := map[string]bool{}
	countries := map[string]bool{}
	for _, m := range notStored {
		ml := m
		storeFingerprints[ml.FingerprintSHA256] = true
		countries[ml.CountryCode] = true
		adds = append(adds, addCandidate{
			fingerprint: ml.FingerprintSHA256, countryCode: ml.CountryCode, certType: core.CertTypeMLSC,
			apply: func(ctx context.Context) (string, error) {
				dn, err := r.Ldap.AddMasterList(ctx, ml)
				if err != nil {
					return "", err
				}
				if err := r.Masters.MarkStoredInLdap(ctx, ml.ID, dn); err != nil {
					return "", err
				}
				return dn, nil
			},
		})
	}
	dels, err := r.deletesFor(ctx, core.CertTypeMLSC, false, countries, storeFingerprints)
	if err != nil {
		return nil, nil, err
	}
	return adds, dels, nil
}

func (r *Reconciler) diffCrl(ctx context.Context) ([]addCandidate, []deleteCandidate, error) {
	notStored, err := r.Crls.FindNotStoredInLdap(ctx)
	if err != nil {
		return nil, nil, pkderrors.NewDbError("reconcile: list crls: %v", err)
	}
	var adds []addCandidate
	storeFingerprints := map[string]bool{}
	countries := map[string]bool{}
	for _, c := range notStored {
		crl := c
		storeFingerprints[crl.FingerprintSHA256] = true
		countries[crl.CountryCode] = true
		adds = append(adds, addCandidate{
			fingerprint: crl.FingerprintSHA256, countryCode: crl.CountryCode, certType: core.CertType("CRL"),
			apply: func(ctx context.Context) (string, error) {
				dn, err := r.Ldap.AddCRL(ctx, crl)
				if err != nil {
					return "", err
				}
				if err := r.Crls.MarkStoredInLdap(ctx, crl.ID, dn); err != nil {
					return "", err
				}
				return dn, nil
			},
		})
	}
	dels, err := r.deletesFor(ctx, core.CertType("CRL"), false, countries, storeFingerprints)
	if err != nil {
		return nil, nil, err
	}
	return adds, dels, nil
}

// deletesFor enumerates LDAP entries under the OU scope for ct, one
// country at a time over every country this reconciler has seen rows
// for, and reports any whose fingerprint is absent from
// storeFingerprints.
//
// A store row that legitimately existed and was later deleted looks
// identical, from LDAP's side, to one that was never inserted; both
// become DELETE candidates. A country with LDAP entries but zero store
// rows of any status is outside this pass's reach, since the diff is
// seeded from known countries.
func (r *Reconciler) deletesFor(ctx context.Context, ct core.CertType, nonConformant bool, countries map[string]bool, storeFingerprints map[string]bool) ([]deleteCandidate, error) {
	var dels []deleteCandidate
	for country := range countries {
		refs, err := r.Ldap.ListFingerprints(ctx, country, ct, nonConformant)
		if err != nil {
			return nil, pkderrors.NewDbError("reconcile: list ldap fingerprints %s/%s: %v", ct, country, err)
		}
		for _, ref := range refs {
			if storeFingerprints[ref.Fingerprint] {
				continue
			}
			dels = append(dels, deleteCandidate{
				fingerprint: ref.Fingerprint, countryCode: country, certType: ct, dn: ref.DN,
			})
		}
	}
	return dels, nil
}

// applyAdds runs ADD candidates with bounded concurrency, writing a
// ReconciliationLog row per object.
func (r *Reconciler) applyAdds(ctx context.Context, summaryID int64, ct core.CertType, adds []addCandidate, dryRun bool) (ok, failed int) {
	return r.applyBatch(ctx, summaryID, ct, len(adds), func(i int) (core.ReconciliationOperation, error) {
		a := adds[i]
		if dryRun {
			r.appendLog(ctx, summaryID, a.fingerprint, ct, a.countryCode, core.OpSkip, core.ResultSuccess, "")
			return core.OpSkip, nil
		}
		_, err := a.apply(ctx)
		return core.OpSyncToLdap, err
	}, func(i int) (fingerprint, country string) {
		return adds[i].fingerprint, adds[i].countryCode
	})
}

// applyDeletes runs DELETE candidates with bounded concurrency.
func (r *Reconciler) applyDeletes(ctx context.Context, summaryID int64, ct core.CertType, dels []deleteCandidate, dryRun bool) (ok, failed int) {
	return r.applyBatch(ctx, summaryID, ct, len(dels), func(i int) (core.ReconciliationOperation, error) {
		d := dels[i]
		if dryRun {
			r.appendLog(ctx, summaryID, d.fingerprint, ct, d.countryCode, core.OpSkip, core.ResultSuccess, "")
			return core.OpSkip, nil
		}
		err := r.Ldap.DeleteByDN(ctx, d.dn)
		return core.OpDeleteFromLdap, err
	}, func(i int) (fingerprint, country string) {
		return dels[i].fingerprint, dels[i].countryCode
	})
}

// applyBatch pipelines n operations across r.Concurrency workers and
// writes a ReconciliationLog row for each one that isn't already logged
// by its op func (the dry-run SKIP path logs inline above).
func (r *Reconciler) applyBatch(ctx context.Context, summaryID int64, ct core.CertType, n int,
	op func(i int) (core.ReconciliationOperation, error),
	ident func(i int) (fingerprint, country string)) (ok, failed int) {
	if n == 0 {
		return 0, 0
	}
	conc := r.Concurrency
	if conc <= 0 {
		conc = 1
	}
	sem := make(chan struct{}, conc)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			operation, err := op(i)
			if operation == core.OpSkip {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			fp, country := ident(i)
			if err != nil {
				r.appendLog(ctx, summaryID, fp, ct, country, operation, core.ResultFailed, shortForm(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			r.appendLog(ctx, summaryID, fp, ct, country, operation, core.ResultSuccess, "")
			mu.Lock()
			ok++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return ok, failed
}

func (r *Reconciler) appendLog(ctx context.Context, summaryID int64, fingerprint string, ct core.CertType, country string, op core.ReconciliationOperation, result core.ReconciliationResult, errMsg string) {
	err := r.Summaries.AppendLog(ctx, &core.ReconciliationLog{
		SummaryID: summaryID, Fingerprint: fingerprint, CertType: ct, CountryCode: country,
		Operation: op, Result: result, ErrorMessage: errMsg,
	})
	if err != nil {
		r.Log.Errf("reconcile: append log for %s: %v", fingerprint, err)
	}
}

// shortForm truncates an error to a one-line summary for the log row.
func shortForm(err error) string {
	msg := err.Error()
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}

// Schedule ticks Run every interval until ctx is cancelled. A single
// shutdown signal stops both this loop and an in-progress run at its
// next cert-type boundary.
func (r *Reconciler) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx, "periodic", false); err != nil {
				r.Log.Errf("reconcile: periodic run failed: %v", err)
			}
		}
	}
}
