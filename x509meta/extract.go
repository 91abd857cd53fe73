// Package x509meta implements the X.509 Metadata Extractor:
// decoding DER/PEM/CMS-wrapped certificates and pulling out the fields
// the rest of the pipeline needs without ever panicking on malformed
// input.
package x509meta

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"strings"
	"time"

	pkderrors "github.com/iland112/icao-local-pkd/errors"
	"go.mozilla.org/pkcs7"
)

// keyUsageNames maps each x509.KeyUsage bit to its RFC 5280 name, used
// both in Metadata.KeyUsage and in the compliance checks.
var keyUsageNames = []struct {
	bit  x509.KeyUsage
	name string
}{
	{x509.KeyUsageDigitalSignature, "digitalSignature"},
	{x509.KeyUsageContentCommitment, "nonRepudiation"},
	{x509.KeyUsageKeyEncipherment, "keyEncipherment"},
	{x509.KeyUsageDataEncipherment, "dataEncipherment"},
	{x509.KeyUsageKeyAgreement, "keyAgreement"},
	{x509.KeyUsageCertSign, "keyCertSign"},
	{x509.KeyUsageCRLSign, "cRLSign"},
	{x509.KeyUsageEncipherOnly, "encipherOnly"},
	{x509.KeyUsageDecipherOnly, "decipherOnly"},
}

// Metadata is every field the extractor reports for one certificate.
type Metadata struct {
	Version                int
	SignatureAlgorithmOID  string
	SignatureAlgorithmName string
	HashAlgorithm          string
	PublicKeyAlgorithm     string
	PublicKeyBits          int
	CurveName              string
	SubjectDN              string
	IssuerDN               string
	SerialHex              string
	NotBefore              time.Time
	NotAfter               time.Time
	SHA1Fingerprint        string
	SHA256Fingerprint      string
	IsCA                   bool
	PathLenConstraint      int
	HasPathLen             bool
	KeyUsage               []string
	ExtKeyUsageOIDs        []string
	SubjectKeyID           string
	AuthorityKeyID         string
	CRLDistributionPoints  []string
	OCSPResponderURLs      []string
	IsSelfSigned           bool
}

// Extract decodes a DER-encoded certificate and returns its metadata. It
// never panics; malformed ASN.1 is reported as a ParseError.
func Extract(der []byte) (meta *Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkderrors.NewParseError("x509meta: panic decoding certificate: %v", r)
		}
	}()

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, pkderrors.NewParseError("x509meta: parse certificate: %v", err)
	}
	return FromCertificate(cert), nil
}

// FromCertificate builds Metadata from an already-parsed certificate.
func FromCertificate(cert *x509.Certificate) *Metadata {
	sha1sum := sha1.Sum(cert.Raw)
	sha256sum := sha256.Sum256(cert.Raw)

	m := &Metadata{
		Version:                cert.Version,
		SignatureAlgorithmOID:  sigAlgOID(cert.SignatureAlgorithm),
		SignatureAlgorithmName: cert.SignatureAlgorithm.String(),
		HashAlgorithm:          hashAlgOf(cert.SignatureAlgorithm),
		SubjectDN:              RFC2253String(cert.Subject),
		IssuerDN:               RFC2253String(cert.Issuer),
		SerialHex:              strings.ToUpper(cert.SerialNumber.Text(16)),
		NotBefore:              cert.NotBefore.UTC(),
		NotAfter:               cert.NotAfter.UTC(),
		SHA1Fingerprint:        hex.EncodeToString(sha1sum[:]),
		SHA256Fingerprint:      hex.EncodeToString(sha256sum[:]),
		IsCA:                   cert.IsCA,
		HasPathLen:             cert.MaxPathLenZero || cert.MaxPathLen > 0,
		PathLenConstraint:      cert.MaxPathLen,
		SubjectKeyID:           hex.EncodeToString(cert.SubjectKeyId),
		AuthorityKeyID:         hex.EncodeToString(cert.AuthorityKeyId),
		CRLDistributionPoints:  append([]string{}, cert.CRLDistributionPoints...),
		OCSPResponderURLs:      append([]string{}, cert.OCSPServer...),
		IsSelfSigned:           DNEqual(cert.Subject.String(), cert.Issuer.String()),
	}

	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		m.PublicKeyAlgorithm = "RSA"
		m.PublicKeyBits = pub.N.BitLen()
	case *ecdsa.PublicKey:
		m.PublicKeyAlgorithm = "ECDSA"
		m.PublicKeyBits = pub.Curve.Params().BitSize
		m.CurveName = pub.Curve.Params().Name
	default:
		m.PublicKeyAlgorithm = cert.PublicKeyAlgorithm.String()
	}

	for _, ku := range keyUsageNames {
		if cert.KeyUsage&ku.bit != 0 {
			m.KeyUsage = append(m.KeyUsage, ku.name)
		}
	}

	for _, eku := range cert.ExtKeyUsage {
		if oid, ok := extKeyUsageOIDs[eku]; ok {
			m.ExtKeyUsageOIDs = append(m.ExtKeyUsageOIDs, oid)
		}
	}
	for _, eku := range cert.UnknownExtKeyUsage {
		m.ExtKeyUsageOIDs = append(m.ExtKeyUsageOIDs, eku.String())
	}

	return m
}

// extKeyUsageOIDs covers the extended key usages the Go parser decodes
// into the typed ExtKeyUsage slice; anything else survives in
// UnknownExtKeyUsage and is reported verbatim.
var extKeyUsageOIDs = map[x509.ExtKeyUsage]string{
	x509.ExtKeyUsageAny:             "2.5.29.37.0",
	x509.ExtKeyUsageServerAuth:      "1.3.6.1.5.5.7.3.1",
	x509.ExtKeyUsageClientAuth:      "1.3.6.1.5.5.7.3.2",
	x509.ExtKeyUsageCodeSigning:     "1.3.6.1.5.5.7.3.3",
	x509.ExtKeyUsageEmailProtection: "1.3.6.1.5.5.7.3.4",
	x509.ExtKeyUsageTimeStamping:    "1.3.6.1.5.5.7.3.8",
	x509.ExtKeyUsageOCSPSigning:     "1.3.6.1.5.5.7.3.9",
}

// sigAlgOIDs maps each signature algorithm Go can parse to its dotted
// OID, the form the metadata surface reports alongside the name.
var sigAlgOIDs = map[x509.SignatureAlgorithm]string{
	x509.MD5WithRSA:       "1.2.840.113549.1.1.4",
	x509.SHA1WithRSA:      "1.2.840.113549.1.1.5",
	x509.SHA256WithRSA:    "1.2.840.113549.1.1.11",
	x509.SHA384WithRSA:    "1.2.840.113549.1.1.12",
	x509.SHA512WithRSA:    "1.2.840.113549.1.1.13",
	x509.SHA256WithRSAPSS: "1.2.840.113549.1.1.10",
	x509.SHA384WithRSAPSS: "1.2.840.113549.1.1.10",
	x509.SHA512WithRSAPSS: "1.2.840.113549.1.1.10",
	x509.ECDSAWithSHA1:    "1.2.840.10045.4.1",
	x509.ECDSAWithSHA256:  "1.2.840.10045.4.3.2",
	x509.ECDSAWithSHA384:  "1.2.840.10045.4.3.3",
	x509.ECDSAWithSHA512:  "1.2.840.10045.4.3.4",
	x509.DSAWithSHA1:      "1.2.840.10040.4.3",
	x509.DSAWithSHA256:    "2.16.840.1.101.3.4.3.2",
	x509.PureEd25519:      "1.3.101.112",
}

func sigAlgOID(alg x509.SignatureAlgorithm) string {
	if oid, ok := sigAlgOIDs[alg]; ok {
		return oid
	}
	return alg.String()
}

// hashAlgOf reports the hash sub-algorithm of a composite signature
// algorithm name like SHA256-RSA or ECDSA-SHA384.
func hashAlgOf(alg x509.SignatureAlgorithm) string {
	name := alg.String()
	for _, h := range []string{"SHA512", "SHA384", "SHA256", "SHA1", "MD5", "MD2"} {
		if strings.Contains(name, h) {
			return h
		}
	}
	return ""
}

// HasKeyUsage reports whether usage (e.g. "keyCertSign") is set.
func (m *Metadata) HasKeyUsage(usage string) bool {
	for _, u := range m.KeyUsage {
		if u == usage {
			return true
		}
	}
	return false
}

// DetectAndParse tries PEM markers first, then CMS SignedData, then raw
// DER, reporting the first successful decode.
func DetectAndParse(raw []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(raw); block != nil {
		switch block.Type {
		case "CERTIFICATE", "X509 CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, pkderrors.NewParseError("x509meta: parse PEM certificate: %v", err)
			}
			return cert, nil
		case "CMS", "PKCS7":
			return parseCertFromCMS(block.Bytes)
		}
	}

	if cert, err := parseCertFromCMS(raw); err == nil {
		return cert, nil
	}

	if cert, err := x509.ParseCertificate(raw); err == nil {
		return cert, nil
	}

	return nil, pkderrors.NewParseError("x509meta: unrecognized certificate encoding (tried PEM, CMS, DER)")
}

func parseCertFromCMS(raw []byte) (*x509.Certificate, error) {
	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return nil, pkderrors.NewParseError("x509meta: parse CMS/PKCS7: %v", err)
	}
	if len(p7.Certificates) == 0 {
		return nil, pkderrors.NewParseError("x509meta: CMS SignedData carries no certificates")
	}
	return p7.Certificates[0], nil
}

// ParsePEMOrDER parses a single certificate encoded as PEM or raw DER;
// used by the raw X.509 ingestion path.
func ParsePEMOrDER(raw []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(raw); block != nil {
		return x509.ParseCertificate(block.Bytes)
	}
	return x509.ParseCertificate(raw)
}
