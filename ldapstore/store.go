package ldapstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/iland112/icao-local-pkd/core"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// Store implements core.LdapWriter and core.LdapReader against a real
// directory, using WriteConn for mutations and ReadPool for searches.
type Store struct {
	cfg   Config
	write *WriteConn
	read  *ReadPool

	provMu   sync.Mutex
	provDone map[string]struct{} // DNs already confirmed provisioned this process
}

func NewStore(cfg Config) *Store {
	cfg = cfg.WithDefaults()
	return &Store{
		cfg:      cfg,
		write:    NewWriteConn(cfg),
		read:     NewReadPool(cfg),
		provDone: make(map[string]struct{}),
	}
}

var _ core.LdapWriter = (*Store)(nil)
var _ core.LdapReader = (*Store)(nil)

// ouFor maps a cert type plus non-conformance to its fixed OU name:
// csca/dsc/lc/mlsc under the ordinary data container, dsc again
// (but under the nc-data container) for non-conformant DSCs.
func ouFor(certType core.CertType, nonConformant bool) string {
	if nonConformant {
		return "dsc"
	}
	switch certType {
	case core.CertTypeCSCA:
		return "csca"
	case core.CertTypeDSC, core.CertTypeDscNC:
		return "dsc"
	case core.CertTypeMLSC:
		return "mlsc"
	case core.CertTypeLink:
		return "lc"
	default:
		return strings.ToLower(string(certType))
	}
}

// buildDN constructs the DIT path for one object. v2 layout keys the RDN
// on the SHA-256 fingerprint; legacy keys on a combination of serial and
// DN, kept for directories that predate the fingerprint layout.
func (s *Store) buildDN(countryCode, ou, fingerprint, legacyRDN string, nonConformant bool) string {
	container := s.cfg.DataContainer
	if nonConformant {
		container = s.cfg.NCDataContainer
	}
	rdnValue := fingerprint
	if s.cfg.DNLayout == DNLayoutLegacy && legacyRDN != "" {
		rdnValue = legacyRDN
	}
	return fmt.Sprintf("cn=%s,o=%s,c=%s,dc=%s,%s",
		EscapeDN(rdnValue), ou, EscapeDN(countryCode), EscapeDN(container), s.cfg.BaseDN)
}

// AddCertificate adds a csca/dsc/dsc_nc/mlsc/lc entry, auto-provisioning
// the country and OU containers on first use.
func (s *Store) AddCertificate(ctx context.Context, cert *core.Certificate, nonConformant bool) (string, error) {
	ou := ouFor(cert.CertType, nonConformant)
	legacyRDN := cert.SubjectDN + "+" + cert.SerialNumber
	dn := s.buildDN(cert.CountryCode, ou, cert.FingerprintSHA256, legacyRDN, nonConformant)

	if err := s.ensureContainers(ctx, cert.CountryCode, ou, nonConformant); err != nil {
		return "", err
	}

	attrs := map[string][]string{
		"objectClass":            {"inetOrgPerson", "pkdDownload"},
		"cn":                     {cert.FingerprintSHA256},
		"sn":                     {cert.FingerprintSHA256},
		"userCertificate;binary": {string(cert.DerBytes)},
	}
	if nonConformant {
		attrs["pkdConformanceCode"] = []string{"1"}
	}
	if err := s.add(ctx, dn, attrs); err != nil {
		return "", err
	}
	return dn, nil
}

// AddCRL adds a CRL entry under OU=crl.
func (s *Store) AddCRL(ctx context.Context, crl *core.CRL) (string, error) {
	ou := "crl"
	dn := s.buildDN(crl.CountryCode, ou, crl.FingerprintSHA256, "", false)

	if err := s.ensureContainers(ctx, crl.CountryCode, ou, false); err != nil {
		return "", err
	}

	attrs := map[string][]string{
		"objectClass":                      {"cRLDistributionPoint", "pkdDownload"},
		"cn":                               {crl.FingerprintSHA256},
		"certificateRevocationList;binary": {string(crl.DerBytes)},
	}
	if err := s.add(ctx, dn, attrs); err != nil {
		return "", err
	}
	return dn, nil
}

// AddMasterList adds a Master List entry under OU=ml.
func (s *Store) AddMasterList(ctx context.Context, ml *core.MasterList) (string, error) {
	ou := "ml"
	dn := s.buildDN(ml.CountryCode, ou, ml.FingerprintSHA256, "", false)

	if err := s.ensureContainers(ctx, ml.CountryCode, ou, false); err != nil {
		return "", err
	}

	attrs := map[string][]string{
		"objectClass":          {"pkdMasterList", "pkdDownload"},
		"cn":                   {ml.FingerprintSHA256},
		"pkdMasterListContent": {string(ml.CmsBytes)},
	}
	if err := s.add(ctx, dn, attrs); err != nil {
		return "", err
	}
	return dn, nil
}

// DeleteByDN removes one entry, used by the Reconciler to retire rows no
// longer present in the relational store.
func (s *Store) DeleteByDN(ctx context.Context, dn string) error {
	return s.write.Do(ctx, func(c conn) error {
		if err := c.Del(ldap.NewDelRequest(dn, nil)); err != nil {
			if isNoSuchObject(err) {
				return nil
			}
			return pkderrors.NewLdapTransientError("ldapstore: delete %s: %v", dn, err)
		}
		return nil
	})
}

// ListFingerprints enumerates the cn (fingerprint) RDN of every entry
// directly under one country/OU scope, used by the Reconciler to diff
// against the relational store's stored_in_ldap rows.
func (s *Store) ListFingerprints(ctx context.Context, countryCode string, certType core.CertType, nonConformant bool) ([]core.LdapEntryRef, error) {
	ou := ouFor(certType, nonConformant)
	container := s.cfg.DataContainer
	if nonConformant {
		container = s.cfg.NCDataContainer
	}
	base := fmt.Sprintf("o=%s,c=%s,dc=%s,%s", ou, EscapeDN(countryCode), EscapeDN(container), s.cfg.BaseDN)

	c, release, err := s.read.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	req := ldap.NewSearchRequest(base, ldap.ScopeSingleLevel, ldap.NeverDerefAliases,
		0, 0, false, "(objectClass=*)", []string{"cn"}, nil)
	res, err := c.Search(req)
	if err != nil {
		if isNoSuchObject(err) {
			return nil, nil
		}
		return nil, pkderrors.NewLdapTransientError("ldapstore: search %s: %v", base, err)
	}

	refs := make([]core.LdapEntryRef, 0, len(res.Entries))
	for _, e := range res.Entries {
		refs = append(refs, core.LdapEntryRef{
			DN:          e.DN,
			Fingerprint: e.GetAttributeValue("cn"),
			CertType:    certType,
			CountryCode: countryCode,
		})
	}
	return refs, nil
}

func (s *Store) add(ctx context.Context, dn string, attrs map[string][]string) error {
	return s.write.Do(ctx, func(c conn) error {
		req := ldap.NewAddRequest(dn, nil)
		for name, values := range attrs {
			req.Attribute(name, values)
		}
		if err := c.Add(req); err != nil {
			if isEntryAlreadyExists(err) {
				return nil
			}
			return pkderrors.NewLdapTransientError("ldapstore: add %s: %v", dn, err)
		}
		return nil
	})
}

// ensureContainers creates the country node and OU node under the
// appropriate data container if they are not already known to exist:
// the data container, then the country entry, then the OU, each on
// first use.
func (s *Store) ensureContainers(ctx context.Context, countryCode, ou string, nonConformant bool) error {
	container := s.cfg.DataContainer
	if nonConformant {
		container = s.cfg.NCDataContainer
	}
	containerDN := fmt.Sprintf("dc=%s,%s", EscapeDN(container), s.cfg.BaseDN)
	countryDN := fmt.Sprintf("c=%s,%s", EscapeDN(countryCode), containerDN)
	ouDN := fmt.Sprintf("o=%s,%s", EscapeDN(ou), countryDN)

	s.provMu.Lock()
	_, done := s.provDone[ouDN]
	s.provMu.Unlock()
	if done {
		return nil
	}

	if err := s.createIfMissing(ctx, containerDN, map[string][]string{
		"objectClass": {"dcObject", "organization"},
		"dc":          {container},
		"o":           {container},
	}); err != nil {
		return err
	}
	if err := s.createIfMissing(ctx, countryDN, map[string][]string{
		"objectClass": {"top", "country"},
		"c":           {countryCode},
	}); err != nil {
		return err
	}
	if err := s.createIfMissing(ctx, ouDN, map[string][]string{
		"objectClass": {"top", "organization"},
		"o":           {ou},
	}); err != nil {
		return err
	}

	s.provMu.Lock()
	s.provDone[ouDN] = struct{}{}
	s.provMu.Unlock()
	return nil
}

func (s *Store) createIfMissing(ctx context.Context, dn string, attrs map[string][]string) error {
	return s.write.Do(ctx, func(c conn) error {
		req := ldap.NewAddRequest(dn, nil)
		for name, values := range attrs {
			req.Attribute(name, values)
		}
		if err := c.Add(req); err != nil {
			if isEntryAlreadyExists(err) {
				return nil
			}
			return pkderrors.NewLdapTransientError("ldapstore: provision %s: %v", dn, err)
		}
		return nil
	})
}

func isEntryAlreadyExists(err error) bool {
	le, ok := err.(*ldap.Error)
	return ok && le.ResultCode == ldap.LDAPResultEntryAlreadyExists
}

func isNoSuchObject(err error) bool {
	le, ok := err.(*ldap.Error)
	return ok && le.ResultCode == ldap.LDAPResultNoSuchObject
}
