// Package trustchain implements the Trust-Chain Builder & Verifier, the
// algorithmic core of the pipeline. It builds verifier-key-
// matched chains from a leaf DSC to a self-signed CSCA, handling link
// certificates, CSCA key rollover, and the ICAO "hybrid chain" rule that
// makes signature validity a hard requirement while treating per-
// certificate expiration as informational.
package trustchain

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/x509meta"
)

// MaxDepth bounds the chain length: n ≤ MAX_DEPTH.
const MaxDepth = 5

// Candidate is a CSCA row from the store plus its decoded certificate,
// so the builder only decodes DER once per candidate.
type Candidate struct {
	Row  *core.Certificate
	Cert *x509.Certificate
}

// Lookup fetches every CSCA candidate whose subject_dn equals subjectDN,
// decoding each one. Implementations must not deduplicate by DN:
// key-rollover disambiguation depends on seeing every candidate.
type Lookup func(ctx context.Context, subjectDN string) ([]Candidate, error)

// Status mirrors core.ValidationStatus but is scoped to this package's
// Result so callers aren't forced to import core just to read one.
type Status = core.ValidationStatus

// Result is the outcome of building and verifying a chain from one leaf.
type Result struct {
	Status         Status
	TrustChainPath []string // shortened CNs, leaf first
	CscaFound      bool
	CscaSubjectDN  string
	SignatureOK    bool
	IsExpired      bool
	Reason         string
}

// dnOnlyFallback records the first DN-only match at a failing depth, used
// purely for error reporting.
type dnOnlyFallback struct {
	subjectDN string
	found     bool
}

// Build walks from leaf toward a self-signed root. lookup is called
// once per depth level to fetch CSCA candidates for the current
// certificate's issuer DN.
func Build(ctx context.Context, leaf *x509.Certificate, lookup Lookup) (*Result, error) {
	visited := map[string]bool{}
	path := []string{x509meta.ShortCN(leaf.Subject)}

	if !leaf.NotBefore.IsZero() && leaf.NotBefore.After(time.Now()) {
		return &Result{
			Status:         core.ValidationInvalid,
			TrustChainPath: path,
			Reason:         "leaf not yet valid (not_before in the future)",
		}, nil
	}

	cur := leaf
	anyExpired := isExpired(leaf)
	depth := 0

	for {
		selfSigned := x509meta.DNEqual(cur.Subject.String(), cur.Issuer.String())
		if selfSigned {
			if err := cur.CheckSignatureFrom(cur); err != nil {
				return &Result{
					Status:         core.ValidationInvalid,
					TrustChainPath: path,
					Reason:         fmt.Sprintf("root CSCA self-signature failed at depth %d", depth),
				}, nil
			}
			status := core.ValidationValid
			if anyExpired {
				status = core.ValidationExpiredValid
			}
			return &Result{
				Status:         status,
				TrustChainPath: path,
				CscaFound:      true,
				CscaSubjectDN:  x509meta.RFC2253String(cur.Subject),
				SignatureOK:    true,
				IsExpired:      anyExpired,
			}, nil
		}

		issuerDN := x509meta.NormalizeDN(cur.Issuer.String())
		if visited[issuerDN] {
			return &Result{
				Status:         core.ValidationInvalid,
				TrustChainPath: path,
				Reason:         fmt.Sprintf("circular reference at depth %d", depth),
			}, nil
		}

		if depth >= MaxDepth {
			return &Result{
				Status:         core.ValidationInvalid,
				TrustChainPath: path,
				Reason:         "max depth exceeded",
			}, nil
		}

		candidates, err := lookup(ctx, cur.Issuer.String())
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return &Result{
				Status:         core.ValidationPending,
				TrustChainPath: path,
				Reason:         "CSCA_NOT_FOUND",
			}, nil
		}

		var next *x509.Certificate
		fallback := dnOnlyFallback{}
		for _, cand := range candidates {
			if !fallback.found {
				fallback.subjectDN = x509meta.RFC2253String(cand.Cert.Subject)
				fallback.found = true
			}
			if verr := cur.CheckSignatureFrom(cand.Cert); verr == nil {
				next = cand.Cert
				break
			}
		}

		if next == nil {
			return &Result{
				Status:         core.ValidationInvalid,
				TrustChainPath: path,
				CscaSubjectDN:  fallback.subjectDN,
				Reason:         fmt.Sprintf("no candidate CSCA verifies the signature at depth %d (DN-only fallback: %s)", depth, fallback.subjectDN),
			}, nil
		}

		visited[issuerDN] = true
		if isExpired(next) {
			anyExpired = true
		}
		path = append(path, x509meta.ShortCN(next.Subject))
		cur = next
		depth++
	}
}

func isExpired(cert *x509.Certificate) bool {
	return !cert.NotAfter.IsZero() && cert.NotAfter.Before(time.Now())
}
