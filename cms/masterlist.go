package cms

import (
	"crypto/x509"
	"encoding/pem"

	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// TrustAnchor holds the single PEM X.509 used to verify Master List / CMS
// signatures (UN_CSCA_2.pem, configured via TRUST_ANCHOR_PATH). Rotation
// mid-flight is an open question — this system loads
// it once at boot and requires a process restart to change it.
type TrustAnchor struct {
	Cert *x509.Certificate
}

// LoadTrustAnchor parses a single PEM-encoded X.509 trust anchor.
func LoadTrustAnchor(pemBytes []byte) (*TrustAnchor, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, pkderrors.NewFatalConfigError("cms: trust anchor is not PEM-encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, pkderrors.NewFatalConfigError("cms: parse trust anchor: %v", err)
	}
	return &TrustAnchor{Cert: cert}, nil
}

// MasterListResult is the outcome of parsing one Master List CMS body:
// the MLSC signer candidate plus every other embedded certificate
// (expected to be CSCAs, classified by the caller).
type MasterListResult struct {
	SignerCandidate *x509.Certificate
	EmbeddedCerts   []*x509.Certificate
	SignatureOK     bool
}

// ParseMasterList decodes a Master List CMS SignedData, verifies it
// against anchor (may be nil to skip verification, e.g. for diagnostic
// inspection), and separates the signer candidate from the rest.
func ParseMasterList(raw []byte, anchor *TrustAnchor) (*MasterListResult, error) {
	p7, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	result := &MasterListResult{}
	if anchor != nil {
		ok, verr := VerifyAgainstAnchor(p7, anchor.Cert)
		if verr != nil {
			return nil, verr
		}
		result.SignatureOK = ok
	}

	if len(p7.Certificates) == 0 {
		return nil, pkderrors.NewParseError("cms: master list CMS carries no embedded certificates")
	}

	signer := findSigner(p7, certOrNil(anchor))
	for _, c := range p7.Certificates {
		if signer != nil && c.Equal(signer) {
			result.SignerCandidate = c
			continue
		}
		result.EmbeddedCerts = append(result.EmbeddedCerts, c)
	}
	if result.SignerCandidate == nil && len(p7.Certificates) > 0 {
		result.SignerCandidate = p7.Certificates[0]
		result.EmbeddedCerts = p7.Certificates[1:]
	}
	return result, nil
}

func certOrNil(a *TrustAnchor) *x509.Certificate {
	if a == nil {
		return nil
	}
	return a.Cert
}

// ParseDeviationList decodes a Deviation List CMS SignedData, verifying
// it the same way as a Master List, then extracts the defect tuples from
// the SignedData's eContent.
func ParseDeviationList(raw []byte, anchor *TrustAnchor) (signer *x509.Certificate, verified bool, entries []DeviationEntry, entryErrs []error, err error) {
	p7, err := Parse(raw)
	if err != nil {
		return nil, false, nil, nil, err
	}

	if anchor != nil {
		ok, verr := VerifyAgainstAnchor(p7, anchor.Cert)
		if verr != nil {
			return nil, false, nil, nil, verr
		}
		verified = ok
	}

	signer = findSigner(p7, certOrNil(anchor))
	entries, entryErrs = ParseDeviationEntries(p7.Content)
	return signer, verified, entries, entryErrs, nil
}
