// Package cms implements the Master List / Deviation List Parser:
// CMS SignedData (optionally PEM-wrapped, optionally PKCS#7)
// decoding, trust-anchor signature verification, and embedded-certificate
// enumeration.
package cms

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"strings"

	pkderrors "github.com/iland112/icao-local-pkd/errors"
	"go.mozilla.org/pkcs7"
)

// unwrap accepts DER, PEM-wrapped ("-----BEGIN CMS-----" or PKCS7), and
// returns the raw DER bytes of the CMS SignedData.
func unwrap(raw []byte) []byte {
	if block, _ := pem.Decode(raw); block != nil {
		return block.Bytes
	}
	return raw
}

// Parse decodes a CMS SignedData (DER or PEM-wrapped, PKCS#7 fallback via
// the same decoder) and enumerates its embedded certificates. It does not
// verify the signature; call VerifyAgainstAnchor for that.
func Parse(raw []byte) (*pkcs7.PKCS7, error) {
	der := unwrap(raw)
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, pkderrors.NewParseError("cms: parse CMS SignedData: %v", err)
	}
	return p7, nil
}

// VerifyAgainstAnchor implements this system's CMS_NO_SIGNER_CERT_VERIFY
// policy: it verifies the embedded SignedData signature cryptographically
// verifies under the configured trust anchor, without attempting to build
// or validate the anchor's own X.509 chain (store-only policy — the
// anchor is configured, not re-validated at verify time).
//
// It reports success when either (a) the CMS signer certificate's public
// key equals the anchor's public key (the anchor signed the list
// directly), or (b) the anchor is present among the SignedData's embedded
// certificates and the signature itself verifies against the embedded
// signer.
func VerifyAgainstAnchor(p7 *pkcs7.PKCS7, anchor *x509.Certificate) (bool, error) {
	if err := p7.Verify(); err != nil {
		return false, pkderrors.New(pkderrors.SignatureInvalid, "cms: signature verification failed: %v", err)
	}

	signer := findSigner(p7, anchor)
	if signer == nil {
		return false, pkderrors.New(pkderrors.SignatureInvalid, "cms: no signer certificate matching the configured trust anchor")
	}

	key, ok := signer.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !key.Equal(anchor.PublicKey) {
		return false, nil
	}

	return true, nil
}

// findSigner returns the anchor itself when it is directly embedded,
// otherwise the first embedded certificate (nil when none is embedded).
func findSigner(p7 *pkcs7.PKCS7, anchor *x509.Certificate) *x509.Certificate {
	for _, c := range p7.Certificates {
		if c.Equal(anchor) {
			return c
		}
	}
	// The signer may be a distinct MLSC whose issuer DN matches the
	// anchor's subject DN; the caller's trust-chain builder (package
	// trustchain) is responsible for validating that relationship. Here
	// we only need *a* signer certificate to report.
	if len(p7.Certificates) > 0 {
		return p7.Certificates[0]
	}
	return nil
}

// deviationEntryASN1 mirrors the ASN.1 tuple carried per Deviation List
// entry: (certIssuerDN, certSerial, defectTypeOID,
// defectDescription). The exact production schema is ICAO-internal;
// this shape follows the common "defect list" encoding used by national
// PKD tooling: a SEQUENCE of SEQUENCE{Name, INTEGER, OID, UTF8String}.
type deviationEntryASN1 struct {
	IssuerRDN   asn1.RawValue
	Serial      asn1.RawValue
	DefectOID   asn1.ObjectIdentifier
	Description string `asn1:"optional,utf8"`
}

// DeviationEntry is the decoded form of one deviationEntryASN1.
type DeviationEntry struct {
	CertIssuerDN      string
	CertSerial        string
	DefectOID         string
	DefectDescription string
}

// ParseDeviationEntries walks the CMS eContent of a Deviation List and
// extracts each defect tuple. Malformed individual entries are skipped
// (an entry-level ParseError never aborts the whole Deviation List per
// the same per-entry-recovery rule that governs LDIF/ML ingestion).
func ParseDeviationEntries(content []byte) ([]DeviationEntry, []error) {
	var raw []deviationEntryASN1
	rest, err := asn1.Unmarshal(content, &raw)
	if err != nil || len(rest) > 0 {
		// Some issuers wrap the sequence once more; try unwrapping a
		// single outer SEQUENCE before giving up.
		var wrapper asn1.RawValue
		if _, werr := asn1.Unmarshal(content, &wrapper); werr == nil {
			if _, err2 := asn1.Unmarshal(wrapper.Bytes, &raw); err2 == nil {
				err = nil
			}
		}
	}
	if err != nil {
		return nil, []error{pkderrors.NewParseError("cms: parse deviation list entries: %v", err)}
	}

	var out []DeviationEntry
	var errs []error
	for i, e := range raw {
		issuer, ierr := decodeRDNSequence(e.IssuerRDN.FullBytes)
		if ierr != nil {
			errs = append(errs, pkderrors.NewParseError("cms: deviation entry %d: issuer DN: %v", i, ierr))
			continue
		}
		serial, serr := decodeSerial(e.Serial.FullBytes)
		if serr != nil {
			errs = append(errs, pkderrors.NewParseError("cms: deviation entry %d: serial: %v", i, serr))
			continue
		}
		out = append(out, DeviationEntry{
			CertIssuerDN:      issuer,
			CertSerial:        serial,
			DefectOID:         e.DefectOID.String(),
			DefectDescription: e.Description,
		})
	}
	return out, errs
}

// decodeRDNSequence decodes an ASN.1 Name (RDNSequence) into its RFC 2253
// string form by round-tripping through pkix.RDNSequence.
func decodeRDNSequence(der []byte) (string, error) {
	var rdn pkix.RDNSequence
	if _, err := asn1.Unmarshal(der, &rdn); err != nil {
		return "", err
	}
	var name pkix.Name
	name.FillFromRDNSequence(&rdn)
	return name.String(), nil
}

// decodeSerial decodes an ASN.1 INTEGER certificate serial to uppercase
// hex, matching the form used elsewhere for Certificate.SerialNumber.
func decodeSerial(der []byte) (string, error) {
	n := new(big.Int)
	if _, err := asn1.Unmarshal(der, &n); err != nil {
		return "", err
	}
	return strings.ToUpper(n.Text(16)), nil
}
