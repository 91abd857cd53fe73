// Package policy implements the ICAO Doc 9303 per-certificate compliance
// check: independent of trust-chain validity, it produces a
// compliance level plus a list of violation tags. The rule tables
// (approved algorithms, minimum key sizes, required extensions,
// permitted validity durations) are policy configuration, not part of
// the trust-chain algorithm, so they live here rather than in
// package trustchain.
package policy

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/x509meta"
)

// Violation categories reported by Check.
const (
	CategoryKeyUsage   = "keyUsage"
	CategoryAlgorithm  = "algorithm"
	CategoryKeySize    = "keySize"
	CategoryValidity   = "validityPeriod"
	CategoryDNFormat   = "dnFormat"
	CategoryExtensions = "extensions"
)

// Table holds the per-cert-type thresholds this system enforces. It is
// deliberately a plain data table, not a generic CA/Browser Forum lint
// profile (zmap/zlint's rule set targets web PKI, not ICAO Doc 9303) —
// see DESIGN.md for why a bespoke table was chosen over importing a
// lint engine.
type Table struct {
	ApprovedSignatureAlgorithms map[x509.SignatureAlgorithm]bool
	MinRSABits                  int
	MinECDSABits                int
	MaxValidity                 map[core.CertType]time.Duration
}

// DefaultTable reflects the commonly published ICAO Doc 9303 Part 12
// guidance: SHA-256-or-better signatures, 2048-bit minimum RSA, 224-bit
// minimum ECDSA, and generous validity ceilings (CSCAs may run for
// decades across key rollovers; DSCs are typically annual).
func DefaultTable() *Table {
	return &Table{
		ApprovedSignatureAlgorithms: map[x509.SignatureAlgorithm]bool{
			x509.SHA256WithRSA:    true,
			x509.SHA384WithRSA:    true,
			x509.SHA512WithRSA:    true,
			x509.ECDSAWithSHA256:  true,
			x509.ECDSAWithSHA384:  true,
			x509.ECDSAWithSHA512:  true,
			x509.SHA256WithRSAPSS: true,
			x509.SHA384WithRSAPSS: true,
			x509.SHA512WithRSAPSS: true,
		},
		MinRSABits:   2048,
		MinECDSABits: 224,
		MaxValidity: map[core.CertType]time.Duration{
			core.CertTypeCSCA: 20 * 365 * 24 * time.Hour,
			core.CertTypeLink: 20 * 365 * 24 * time.Hour,
			core.CertTypeDSC:  5 * 365 * 24 * time.Hour,
			core.CertTypeMLSC: 5 * 365 * 24 * time.Hour,
		},
	}
}

// Check runs every rule against cert and returns a compliance level plus
// the violation tags that produced it. It never fails the chain — this
// is informational, exactly like the hybrid expiration rule in
// package trustchain.
func Check(t *Table, cert *x509.Certificate, certType core.CertType) (core.IcaoComplianceLevel, []string) {
	var violations []string

	if t.ApprovedSignatureAlgorithms != nil && !t.ApprovedSignatureAlgorithms[cert.SignatureAlgorithm] {
		violations = append(violations, fmt.Sprintf("%s: unapproved signature algorithm %s", CategoryAlgorithm, cert.SignatureAlgorithm))
	}

	if bits, ok := keyBits(cert); ok {
		min := t.minBitsFor(cert)
		if min > 0 && bits < min {
			violations = append(violations, fmt.Sprintf("%s: key size %d bits below minimum %d", CategoryKeySize, bits, min))
		}
	}

	if certType == core.CertTypeCSCA || certType == core.CertTypeLink {
		if !cert.IsCA || cert.KeyUsage&x509.KeyUsageCertSign == 0 {
			violations = append(violations, fmt.Sprintf("%s: CSCA/link cert missing CA basic constraint or keyCertSign", CategoryKeyUsage))
		}
	}
	if certType == core.CertTypeDSC || certType == core.CertTypeDscNC {
		if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
			violations = append(violations, fmt.Sprintf("%s: DSC missing digitalSignature key usage", CategoryKeyUsage))
		}
		if cert.IsCA {
			violations = append(violations, fmt.Sprintf("%s: DSC carries CA basic constraint", CategoryKeyUsage))
		}
	}

	if max, ok := t.MaxValidity[certType]; ok {
		if cert.NotAfter.Sub(cert.NotBefore) > max {
			violations = append(violations, fmt.Sprintf("%s: validity period exceeds %s", CategoryValidity, max))
		}
	}

	if len(cert.SubjectKeyId) == 0 {
		violations = append(violations, fmt.Sprintf("%s: missing Subject Key Identifier extension", CategoryExtensions))
	}
	if certType != core.CertTypeCSCA && len(cert.AuthorityKeyId) == 0 {
		violations = append(violations, fmt.Sprintf("%s: missing Authority Key Identifier extension", CategoryExtensions))
	}

	level := core.ComplianceConformant
	switch {
	case hasCategory(violations, CategoryAlgorithm) || hasCategory(violations, CategoryKeySize):
		level = core.ComplianceNonConformant
	case len(violations) > 0:
		level = core.ComplianceWarning
	}
	return level, violations
}

func (t *Table) minBitsFor(cert *x509.Certificate) int {
	switch cert.PublicKeyAlgorithm {
	case x509.RSA:
		return t.MinRSABits
	case x509.ECDSA:
		return t.MinECDSABits
	default:
		return 0
	}
}

func keyBits(cert *x509.Certificate) (int, bool) {
	meta := x509meta.FromCertificate(cert)
	if meta.PublicKeyBits == 0 {
		return 0, false
	}
	return meta.PublicKeyBits, true
}

func hasCategory(violations []string, category string) bool {
	prefix := category + ":"
	for _, v := range violations {
		if len(v) >= len(prefix) && v[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
