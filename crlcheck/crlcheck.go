// Package crlcheck implements the CRL Check: locate the most
// recent CRL for a DSC's issuer country, decode it, and test the DSC's
// serial for membership. Expiration of the CRL itself is informational,
// same hybrid-chain spirit as the trust-chain builder.
package crlcheck

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/hex"
	"strings"
	"time"

	"github.com/iland112/icao-local-pkd/core"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// Lookup fetches the most recent stored CRL for a country code.
type Lookup func(ctx context.Context, countryCode string) (*core.CRL, error)

// Result is the outcome of checking one DSC against its country's CRL.
type Result struct {
	Status    core.CrlCheckStatus
	Revoked   bool
	CrlIssuer string
	Expired   bool
}

// Check looks up the CRL for countryCode, decodes it (handling
// doubly-hex-encoded byte blobs), and tests dsc's serial for
// membership.
func Check(ctx context.Context, dsc *x509.Certificate, countryCode string, lookup Lookup) (*Result, error) {
	crlRow, err := lookup(ctx, countryCode)
	if err != nil {
		return nil, pkderrors.NewDbError("crlcheck: lookup CRL for %s: %v", countryCode, err)
	}
	if crlRow == nil {
		return &Result{Status: core.CrlNotChecked}, nil
	}

	der := DecodeMaybeDoubleHex(crlRow.DerBytes)
	list, err := x509.ParseRevocationList(der)
	if err != nil {
		return &Result{Status: core.CrlError}, pkderrors.NewParseError("crlcheck: parse CRL: %v", err)
	}

	revoked := false
	for _, entry := range list.RevokedCertificateEntries {
		if entry.SerialNumber != nil && entry.SerialNumber.Cmp(dsc.SerialNumber) == 0 {
			revoked = true
			break
		}
	}

	status := core.CrlNotRevoked
	if revoked {
		status = core.CrlRevoked
	}

	return &Result{
		Status:    status,
		Revoked:   revoked,
		CrlIssuer: list.Issuer.String(),
		Expired:   list.NextUpdate.Before(time.Now()),
	}, nil
}

// DecodeMaybeDoubleHex accepts plain DER bytes, or bytes that were stored
// hex-encoded twice by the underlying database driver (detected by a
// leading "\x" after the first decode). It always returns the innermost
// DER bytes.
func DecodeMaybeDoubleHex(raw []byte) []byte {
	if looksLikeHex(raw) {
		decoded, err := hex.DecodeString(strings.TrimPrefix(string(raw), "\\x"))
		if err == nil {
			if looksLikeHex(decoded) {
				inner, err2 := hex.DecodeString(strings.TrimPrefix(string(decoded), "\\x"))
				if err2 == nil {
					return inner
				}
			}
			return decoded
		}
	}
	return raw
}

func looksLikeHex(b []byte) bool {
	if bytes.HasPrefix(b, []byte(`\x`)) {
		return true
	}
	// A DER sequence starts with 0x30, and the hex text of a DER blob
	// starts with the digit '3', so a buffer that starts with 0x30 is
	// taken as raw DER (a hex string beginning with the digit '0', which
	// is also 0x30, is therefore not detected). Any other even-length
	// buffer made only of hex digits is treated as hex-encoded.
	if len(b) == 0 || b[0] == 0x30 {
		return false
	}
	for _, c := range b {
		if !isHexDigit(c) {
			return false
		}
	}
	return len(b)%2 == 0
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
