// Package revalidate implements the Revalidator: recomputes
// trust-chain status for already-persisted certificates when new CSCAs
// arrive, and refreshes validity-period status as certificates cross
// their not_after boundary.
package revalidate

import (
	"context"
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/jmhodges/clock"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/crlcheck"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
	"github.com/iland112/icao-local-pkd/log"
	"github.com/iland112/icao-local-pkd/metrics"
	"github.com/iland112/icao-local-pkd/trustchain"
)

// Revalidator rebuilds trust chains for certificates whose PENDING or
// signature-failed-due-to-wrong-key status may now resolve because a
// new CSCA landed in the store.
type Revalidator struct {
	Certs   core.CertificateStore
	Results core.ValidationResultStore
	Crls    core.CrlLookup
	Log     log.Logger
	Stats   metrics.Scope
	Clock   clock.Clock
}

// New builds a Revalidator with a real wall clock.
func New(certs core.CertificateStore, results core.ValidationResultStore, crls core.CrlLookup, logger log.Logger, stats metrics.Scope) *Revalidator {
	if stats == nil {
		stats = metrics.NewNoopScope()
	}
	return &Revalidator{Certs: certs, Results: results, Crls: crls, Log: logger, Stats: stats, Clock: clock.New()}
}

// RunStats is the outcome summary of one revalidation pass.
type RunStats struct {
	ChainChecked      int
	ChainPromoted     int
	ExpiryChecked     int
	ExpiryTransitions int
	Errors            int
}

// allowedTransition reports whether the chain-rebuild pass may move a
// certificate from one validation status to another. Only promotions
// out of PENDING, plus the rare INVALID recovery when a matching key
// lands later, are permitted.
func allowedTransition(from, to core.ValidationStatus) bool {
	switch {
	case from == core.ValidationPending && to == core.ValidationValid:
		return true
	case from == core.ValidationPending && to == core.ValidationExpiredValid:
		return true
	case from == core.ValidationPending && to == core.ValidationInvalid:
		return true
	case from == core.ValidationInvalid && to == core.ValidationValid:
		return true
	default:
		return false
	}
}

// eligibleForReattempt reports whether a prior failure may resolve once
// a new CSCA lands: PENDING rows always qualify, INVALID rows only when
// the recorded reason was a missing CSCA or a wrong-key signature
// failure.
func eligibleForReattempt(vr *core.ValidationResult) bool {
	if vr.ValidationStatus == core.ValidationPending {
		return true
	}
	if vr.ValidationStatus != core.ValidationInvalid {
		return false
	}
	return strings.Contains(vr.ErrorMessage, "CSCA_NOT_FOUND") ||
		strings.Contains(vr.ErrorMessage, "no candidate CSCA verifies")
}

// cscaLookup mirrors upload.cscaLookup: decode DER once per candidate
// row on the way into trustchain.Build.
func cscaLookup(store core.CscaLookup) trustchain.Lookup {
	return func(ctx context.Context, subjectDN string) ([]trustchain.Candidate, error) {
		rows, err := store.FindAllCscasBySubjectDN(ctx, subjectDN)
		if err != nil {
			return nil, err
		}
		out := make([]trustchain.Candidate, 0, len(rows))
		for _, row := range rows {
			cert, err := x509.ParseCertificate(row.DerBytes)
			if err != nil {
				continue
			}
			out = append(out, trustchain.Candidate{Row: row, Cert: cert})
		}
		return out, nil
	}
}

// RunChainPass rebuilds the trust chain for every stored certificate
// whose validation status is PENDING or a reattempt-eligible INVALID.
func (r *Revalidator) RunChainPass(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{}

	candidates, err := r.Certs.FindByValidationStatus(ctx, []core.ValidationStatus{core.ValidationPending, core.ValidationInvalid})
	if err != nil {
		return stats, pkderrors.NewDbError("revalidate: find candidates: %v", err)
	}

	for _, row := range candidates {
		select {
		case <-ctx.Done():
			return stats, nil
		default:
		}

		vr, err := r.Results.FindByCertificateID(ctx, row.ID)
		if err != nil {
			stats.Errors++
			r.Log.Errf("revalidate: load validation result for %s: %v", row.FingerprintSHA256, err)
			continue
		}
		if vr == nil || !eligibleForReattempt(vr) {
			continue
		}
		if row.CertType == core.CertTypeCSCA {
			continue // self-signed roots never depend on another CSCA landing
		}

		stats.ChainChecked++
		cert, err := x509.ParseCertificate(row.DerBytes)
		if err != nil {
			stats.Errors++
			r.Log.Errf("revalidate: parse stored cert %s: %v", row.FingerprintSHA256, err)
			continue
		}

		result, err := trustchain.Build(ctx, cert, cscaLookup(r.Certs))
		if err != nil {
			stats.Errors++
			r.Log.Errf("revalidate: rebuild chain for %s: %v", row.FingerprintSHA256, err)
			continue
		}

		if !allowedTransition(vr.ValidationStatus, result.Status) {
			continue
		}

		stats.ChainPromoted++
		prevStatus := vr.ValidationStatus
		vr.ValidationStatus = result.Status
		vr.TrustChainValid = result.SignatureOK
		vr.TrustChainPath = result.TrustChainPath
		vr.CscaFound = result.CscaFound
		vr.CscaSubjectDN = result.CscaSubjectDN
		vr.SignatureVerified = result.SignatureOK
		vr.IsExpired = result.IsExpired
		vr.ErrorMessage = result.Reason

		if (row.CertType == core.CertTypeDSC || row.CertType == core.CertTypeDscNC) && result.SignatureOK && r.Crls != nil {
			crlResult, cerr := crlcheck.Check(ctx, cert, row.CountryCode, r.Crls.FindLatestByCountry)
			if cerr == nil && crlResult != nil {
				vr.CrlChecked = true
				vr.CrlCheckStatus = crlResult.Status
				vr.CrlRevoked = crlResult.Revoked
				if crlResult.Revoked {
					vr.ValidationStatus = core.ValidationInvalid
					vr.ErrorMessage = "revoked per country CRL"
				}
			}
		}

		if err := r.Results.UpdateOutcome(ctx, vr); err != nil {
			stats.Errors++
			r.Log.Errf("revalidate: update outcome for %s: %v", row.FingerprintSHA256, err)
			continue
		}
		if err := r.Certs.UpdateValidationStatus(ctx, row.ID, vr.ValidationStatus); err != nil {
			stats.Errors++
			r.Log.Errf("revalidate: update cert status for %s: %v", row.FingerprintSHA256, err)
			continue
		}
		r.Log.Infof("revalidate: %s transitioned %s -> %s", row.FingerprintSHA256, prevStatus, vr.ValidationStatus)
	}

	r.Stats.Gauge("revalidate.chain_checked", int64(stats.ChainChecked))
	r.Stats.Gauge("revalidate.chain_promoted", int64(stats.ChainPromoted))
	return stats, nil
}

// RunExpiryPass refreshes IsExpired for every stored ValidationResult
// whose certificate's not_after has crossed now since the last scan.
// A VALID result whose chain has since expired
// becomes EXPIRED_VALID; it never reverses (expiration is monotonic).
func (r *Revalidator) RunExpiryPass(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{}
	now := r.Clock.Now()

	results, err := r.Results.FindByStatuses(ctx, []core.ValidationStatus{core.ValidationValid})
	if err != nil {
		return stats, pkderrors.NewDbError("revalidate: find valid results: %v", err)
	}

	for _, vr := range results {
		select {
		case <-ctx.Done():
			return stats, nil
		default:
		}
		stats.ExpiryChecked++

		cert, err := r.certForResult(ctx, vr)
		if err != nil || cert == nil {
			continue
		}
		if !cert.NotAfter.IsZero() && cert.NotAfter.Before(now) {
			vr.IsExpired = true
			vr.ValidationStatus = core.ValidationExpiredValid
			if err := r.Results.UpdateOutcome(ctx, vr); err != nil {
				stats.Errors++
				r.Log.Errf("revalidate: expiry update for certificate %d: %v", vr.CertificateID, err)
				continue
			}
			if err := r.Certs.UpdateValidationStatus(ctx, vr.CertificateID, vr.ValidationStatus); err != nil {
				stats.Errors++
				continue
			}
			stats.ExpiryTransitions++
		}
	}

	r.Stats.Gauge("revalidate.expiry_checked", int64(stats.ExpiryChecked))
	r.Stats.Gauge("revalidate.expiry_transitions", int64(stats.ExpiryTransitions))
	return stats, nil
}

// certForResult re-parses the DER for the certificate a ValidationResult
// points at. The store only exposes lookup by fingerprint or subject DN,
// so callers needing cert-by-id go through ListByType; this helper keeps
// that detail out of RunExpiryPass's main loop.
func (r *Revalidator) certForResult(ctx context.Context, vr *core.ValidationResult) (*x509.Certificate, error) {
	for _, ct := range []core.CertType{core.CertTypeCSCA, core.CertTypeDSC, core.CertTypeDscNC, core.CertTypeMLSC} {
		rows, err := r.Certs.ListByType(ctx, ct)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.ID == vr.CertificateID {
				return x509.ParseCertificate(row.DerBytes)
			}
		}
	}
	return nil, fmt.Errorf("revalidate: no stored certificate for result %d", vr.ID)
}

// Run executes both passes in sequence and merges their counters, the
// shape a periodic tick or post-ingest trigger calls.
func (r *Revalidator) Run(ctx context.Context) (*RunStats, error) {
	chainStats, err := r.RunChainPass(ctx)
	if err != nil {
		return chainStats, err
	}
	expiryStats, err := r.RunExpiryPass(ctx)
	if err != nil {
		return chainStats, err
	}
	return &RunStats{
		ChainChecked:      chainStats.ChainChecked,
		ChainPromoted:     chainStats.ChainPromoted,
		ExpiryChecked:     expiryStats.ExpiryChecked,
		ExpiryTransitions: expiryStats.ExpiryTransitions,
		Errors:            chainStats.Errors + expiryStats.Errors,
	}, nil
}

// Schedule ticks Run every interval until ctx is cancelled.
func (r *Revalidator) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.Log.Errf("revalidate: periodic run failed: %v", err)
			}
		}
	}
}
