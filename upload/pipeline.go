// Package upload implements the Upload Orchestrator: the
// per-upload state machine that drives parsing, trust-chain validation,
// CRL checking, ICAO compliance classification, relational persistence,
// and LDAP replication for one ingested file.
package upload

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"

	"github.com/iland112/icao-local-pkd/classify"
	"github.com/iland112/icao-local-pkd/cms"
	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/crlcheck"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
	"github.com/iland112/icao-local-pkd/policy"
	"github.com/iland112/icao-local-pkd/progress"
	"github.com/iland112/icao-local-pkd/trustchain"
	"github.com/iland112/icao-local-pkd/x509meta"
)

// cscaLookup adapts a core.CscaLookup (raw DB rows) to a
// trustchain.Lookup (decoded candidates), decoding DER exactly once per
// candidate — trust-chain verification needs the parsed certificate, the
// store only keeps the raw bytes.
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
				continue // a corrupt stored CSCA should not abort the whole lookup
			}
			out = append(out, trustchain.Candidate{Row: row, Cert: cert})
		}
		return out, nil
	}
}

func crlLookup(store core.CrlLookup) crlcheck.Lookup {
	return func(ctx context.Context, countryCode string) (*core.CRL, error) {
		return store.FindLatestByCountry(ctx, countryCode)
	}
}

// validateAndPersist runs trust-chain, CRL, and compliance checks for
// one decoded certificate against the current store state, persists the
// certificate row and its ValidationResult, replicates to the directory,
// and returns the final validation status so callers can fold it into
// the upload's per-outcome counters.
func (o *Orchestrator) validateAndPersist(ctx context.Context, uploadID int64, cert *x509.Certificate, certType core.CertType, countryCode, ldifPath string, nonConformant bool) (core.ValidationStatus, error) {
	started := time.Now()

	row := &core.Certificate{
		FingerprintSHA256: x509meta.FromCertificate(cert).SHA256Fingerprint,
		UploadID:          uploadID,
		CertType:          certType,
		CountryCode:       countryCode,
		SubjectDN:         x509meta.RFC2253String(cert.Subject),
		IssuerDN:          x509meta.RFC2253String(cert.Issuer),
		SerialNumber:      hex.EncodeToString(cert.SerialNumber.Bytes()),
		NotBefore:         cert.NotBefore,
		NotAfter:          cert.NotAfter,
		DerBytes:          cert.Raw,
		ValidationStatus:  core.ValidationPending,
	}

	id, wasDup, err := o.Certs.SaveWithDuplicateCheck(ctx, row)
	if err != nil {
		return core.ValidationError, pkderrors.NewDbError("upload: persist certificate %s: %v", row.FingerprintSHA256, err)
	}
	row.ID = id

	var chainResult *trustchain.Result
	if certType == core.CertTypeCSCA {
		chainResult = &trustchain.Result{Status: core.ValidationValid, CscaFound: true, SignatureOK: true, TrustChainPath: []string{x509meta.ShortCN(cert.Subject)}}
	} else {
		chainResult, err = trustchain.Build(ctx, cert, cscaLookup(o.Certs))
		if err != nil {
			return core.ValidationError, pkderrors.NewDbError("upload: build trust chain for %s: %v", row.FingerprintSHA256, err)
		}
	}

	vr := &core.ValidationResult{
		CertificateID:        row.ID,
		UploadID:             uploadID,
		ValidationStatus:     chainResult.Status,
		TrustChainValid:      chainResult.SignatureOK,
		TrustChainPath:       chainResult.TrustChainPath,
		CscaFound:            chainResult.CscaFound,
		CscaSubjectDN:        chainResult.CscaSubjectDN,
		SignatureVerified:    chainResult.SignatureOK,
		IsExpired:            chainResult.IsExpired,
		ErrorMessage:         chainResult.Reason,
		ValidationDurationMs: 0,
	}

	if (certType == core.CertTypeDSC || certType == core.CertTypeDscNC) && chainResult.SignatureOK {
		crlResult, cerr := crlcheck.Check(ctx, cert, countryCode, crlLookup(o.Crls))
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

	level, violations := policy.Check(o.ComplianceTable, cert, certType)
	vr.IcaoComplianceLevel = level
	vr.IcaoViolations = violations

	vr.ValidationDurationMs = time.Since(started).Milliseconds()
	if _, err := o.Results.Save(ctx, vr); err != nil {
		return core.ValidationError, pkderrors.NewDbError("upload: persist validation result for %s: %v", row.FingerprintSHA256, err)
	}

	if err := o.Certs.UpdateValidationStatus(ctx, row.ID, vr.ValidationStatus); err != nil {
		return core.ValidationError, pkderrors.NewDbError("upload: update validation status for %s: %v", row.FingerprintSHA256, err)
	}

	if o.Ldap != nil && !wasDup && (vr.ValidationStatus == core.ValidationValid || vr.ValidationStatus == core.ValidationExpiredValid) {
		dn, lerr := o.Ldap.AddCertificate(ctx, row, nonConformant)
		if lerr != nil {
			o.Log.Warningf("upload: ldap add deferred for %s: %v", row.FingerprintSHA256, lerr)
		} else {
			_ = o.Certs.MarkStoredInLdap(ctx, row.ID, dn)
		}
	}

	sigAlgo := cert.SignatureAlgorithm.String()
	keyBits := x509meta.FromCertificate(cert).PublicKeyBits
	o.Progress.RecordOutcome(uploadID, progress.LogRow{
		Fingerprint: row.FingerprintSHA256,
		CertType:    certType,
		Outcome:     vr.ValidationStatus,
		Message:     vr.ErrorMessage,
		At:          time.Now(),
	}, sigAlgo, keyBits, level)

	return vr.ValidationStatus, nil
}

// persistCSCA stores a CSCA, link certificate or MLSC through
// validateAndPersist. Only a CSCA skips the trust-chain lookup, since a
// self-signed root is its own anchor; link and MLSC certificates are
// chained to a stored CSCA like a DSC.
func (o *Orchestrator) persistCSCA(ctx context.Context, uploadID int64, cert *x509.Certificate, countryCode string, certType core.CertType) (core.ValidationStatus, error) {
	return o.validateAndPersist(ctx, uploadID, cert, certType, countryCode, "", false)
}

// persistCRL decodes and stores one country's CRL, replicating to LDAP.
func (o *Orchestrator) persistCRL(ctx context.Context, uploadID int64, der []byte, countryCode string) error {
	decoded := crlcheck.DecodeMaybeDoubleHex(der)
	list, err := x509.ParseRevocationList(decoded)
	if err != nil {
		return pkderrors.NewParseError("upload: parse CRL: %v", err)
	}

	revoked := make([]core.RevokedEntry, 0, len(list.RevokedCertificateEntries))
	for _, e := range list.RevokedCertificateEntries {
		revoked = append(revoked, core.RevokedEntry{
			Serial:         hex.EncodeToString(e.SerialNumber.Bytes()),
			RevocationDate: e.RevocationTime,
		})
	}

	crlNumber := ""
	if list.Number != nil {
		crlNumber = list.Number.String()
	}
	sum := sha256.Sum256(list.Raw)
	row := &core.CRL{
		FingerprintSHA256: hex.EncodeToString(sum[:]),
		UploadID:          uploadID,
		CountryCode:       countryCode,
		IssuerDN:          x509meta.RFC2253String(list.Issuer),
		ThisUpdate:        list.ThisUpdate,
		NextUpdate:        list.NextUpdate,
		CrlNumber:         crlNumber,
		DerBytes:          decoded,
		Revoked:           revoked,
	}

	id, wasDup, err := o.Crls.SaveWithDuplicateCheck(ctx, row)
	if err != nil {
		return pkderrors.NewDbError("upload: persist crl for %s: %v", countryCode, err)
	}
	row.ID = id

	if o.Ldap != nil && !wasDup {
		dn, lerr := o.Ldap.AddCRL(ctx, row)
		if lerr != nil {
			o.Log.Warningf("upload: ldap add crl deferred for %s: %v", countryCode, lerr)
		} else {
			_ = o.Crls.MarkStoredInLdap(ctx, row.ID, dn)
		}
	}
	return nil
}

// persistMasterList parses and stores a Master List, classifying and
// persisting each embedded CSCA through the same path as a direct CSCA
// upload.
func (o *Orchestrator) persistMasterList(ctx context.Context, uploadID int64, raw []byte, countryCode string) error {
	result, err := cms.ParseMasterList(raw, o.TrustAnchor)
	if err != nil {
		return pkderrors.NewParseError("upload: parse master list: %v", err)
	}

	row := &core.MasterList{
		CountryCode: countryCode,
		CmsBytes:    raw,
		CscaCount:   len(result.EmbeddedCerts),
	}
	if result.SignerCandidate != nil {
		row.SignerDN = x509meta.RFC2253String(result.SignerCandidate.Subject)
		row.FingerprintSHA256 = x509meta.FromCertificate(result.SignerCandidate).SHA256Fingerprint
	}

	id, wasDup, err := o.MasterLists.SaveWithDuplicateCheck(ctx, row)
	if err != nil {
		return pkderrors.NewDbError("upload: persist master list for %s: %v", countryCode, err)
	}
	row.ID = id

	if o.Ldap != nil && !wasDup {
		dn, lerr := o.Ldap.AddMasterList(ctx, row)
		if lerr != nil {
			o.Log.Warningf("upload: ldap add master list deferred for %s: %v", countryCode, lerr)
		} else {
			_ = o.MasterLists.MarkStoredInLdap(ctx, row.ID, dn)
		}
	}

	for _, embedded := range result.EmbeddedCerts {
		cc := countryCode
		if ccFromDN := x509meta.CountryCode(embedded.Subject); ccFromDN != "" {
			cc = ccFromDN
		}
		certType := classify.Classify(embedded, "", false)
		if _, err := o.persistCSCA(ctx, uploadID, embedded, cc, certType); err != nil {
			o.Log.Warningf("upload: embedded csca in master list failed: %v", err)
		}
	}
	if result.SignerCandidate != nil {
		if _, err := o.persistCSCA(ctx, uploadID, result.SignerCandidate, countryCode, core.CertTypeMLSC); err != nil {
			o.Log.Warningf("upload: master list signer cert failed: %v", err)
		}
	}
	return nil
}

// persistDeviationList parses and stores a Deviation List's defect rows.
func (o *Orchestrator) persistDeviationList(ctx context.Context, countryCode string, raw []byte) error {
	signer, verified, entries, entryErrs, err := cms.ParseDeviationList(raw, o.TrustAnchor)
	if err != nil {
		return pkderrors.NewParseError("upload: parse deviation list: %v", err)
	}
	for _, e := range entryErrs {
		o.Log.Warningf("upload: deviation list entry parse error: %v", e)
	}

	dl := &core.DeviationList{
		CountryCode: countryCode,
		SigningTime: time.Now(),
		Verified:    verified,
		DerBytes:    raw,
	}
	if signer != nil {
		dl.SignerDN = x509meta.RFC2253String(signer.Subject)
	}
	for _, e := range entries {
		dl.Entries = append(dl.Entries, core.DeviationEntry{
			CertIssuerDN:      e.CertIssuerDN,
			CertSerial:        e.CertSerial,
			DefectOID:         e.DefectOID,
			DefectDescription: e.DefectDescription,
		})
	}

	if _, err := o.DeviationLists.Save(ctx, dl); err != nil {
		return pkderrors.NewDbError("upload: persist deviation list for %s: %v", countryCode, err)
	}
	return nil
}
