// Package classify implements the Certificate Type Classifier:
// a pure function of an X.509 certificate plus the LDIF path it came from.
package classify

import (
	"crypto/x509"
	"strings"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/x509meta"
)

// Classify applies the ICAO Doc 9303 decision table. ldifPath may be empty when the
// certificate did not arrive via an LDIF entry (e.g. raw PEM/DER upload or
// a Master List member).
//
// isMLSCSigner should be true when cert is known to be the signer of a
// CMS SignedData Master List body (the cms package determines this while
// walking the SignedData's SignerInfos); it cannot be derived from the
// certificate alone.
func Classify(cert *x509.Certificate, ldifPath string, isMLSCSigner bool) core.CertType {
	selfSigned := x509meta.DNEqual(cert.Subject.String(), cert.Issuer.String())
	isCA := cert.IsCA
	canSign := cert.KeyUsage&x509.KeyUsageCertSign != 0

	if selfSigned && isCA && canSign {
		return core.CertTypeCSCA
	}
	if !selfSigned && isCA && canSign {
		return core.CertTypeLink
	}
	if strings.Contains(strings.ToLower(ldifPath), "dc=nc-data") {
		return core.CertTypeDscNC
	}
	if isMLSCSigner {
		return core.CertTypeMLSC
	}
	return core.CertTypeDSC
}

// LdapOU returns the OU name a classified certificate is stored under
// : lc for Link Certs (even though the DB keeps them tagged
// CSCA), dsc for both DSC and DSC_NC, otherwise the lowercased cert type.
func LdapOU(t core.CertType) string {
	switch t {
	case core.CertTypeLink:
		return "lc"
	case core.CertTypeCSCA:
		return "csca"
	case core.CertTypeDSC:
		return "dsc"
	case core.CertTypeDscNC:
		return "dsc"
	case core.CertTypeMLSC:
		return "mlsc"
	default:
		return strings.ToLower(string(t))
	}
}

// DBCertType returns the cert_type value persisted to the Certificate
// Store for a classified type: Link Certs are tagged CSCA in the DB
// even though their LDAP OU is "lc".
func DBCertType(t core.CertType) core.CertType {
	if t == core.CertTypeLink {
		return core.CertTypeCSCA
	}
	return t
}
