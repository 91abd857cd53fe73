package main

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/iland112/icao-local-pkd/core"
	"github.com/iland112/icao-local-pkd/log"
	"github.com/iland112/icao-local-pkd/sa"
	"github.com/iland112/icao-local-pkd/x509meta"
)

// runBackfillMetadata re-extracts the derived columns (normalized DNs,
// serial, validity window) from every stored certificate's DER bytes and
// rewrites rows whose values drifted. Run it after the extractor changes
// how it normalizes a field; rows whose DER no longer parses are logged
// and skipped, never deleted.
func runBackfillMetadata(ctx context.Context, certs *sa.CertificateStore, logger log.Logger) error {
	types := []core.CertType{core.CertTypeCSCA, core.CertTypeLink, core.CertTypeDSC, core.CertTypeDscNC, core.CertTypeMLSC}
	updated, skipped := 0, 0
	for _, ct := range types {
		rows, err := certs.ListByType(ctx, ct)
		if err != nil {
			return err
		}
		for _, row := range rows {
			cert, err := x509meta.ParsePEMOrDER(row.DerBytes)
			if err != nil {
				skipped++
				logger.Warningf("backfill: %s does not parse, skipping: %v", row.FingerprintSHA256, err)
				continue
			}
			meta := x509meta.FromCertificate(cert)
			// Same canonical serial form the ingestion path writes.
			serial := hex.EncodeToString(cert.SerialNumber.Bytes())
			if meta.SubjectDN == row.SubjectDN && meta.IssuerDN == row.IssuerDN &&
				serial == strings.ToLower(row.SerialNumber) &&
				meta.NotBefore.Equal(row.NotBefore) && meta.NotAfter.Equal(row.NotAfter) {
				continue
			}
			if err := certs.UpdateExtractedMetadata(ctx, row.ID, meta.SubjectDN, meta.IssuerDN, serial, meta.NotBefore, meta.NotAfter); err != nil {
				return err
			}
			updated++
		}
	}
	logger.Infof("backfill: metadata pass complete, updated=%d skipped=%d", updated, skipped)
	return nil
}
