package x509meta

import (
	"crypto/x509/pkix"
	"strings"
)

// NormalizeDN lowercases and collapses whitespace around RDN separators so
// that two distinguished names written in different conventions compare
// equal. Both RFC 2253 comma-separated ("CN=X,O=Y,C=Z") and OpenSSL
// slash-separated ("/C=Z/O=Y/CN=X") forms are accepted; the result is
// always returned in comma-separated, most-specific-first order so the
// two input styles normalize to the same string.
func NormalizeDN(dn string) string {
	rdns := splitDN(dn)
	for i, r := range rdns {
		rdns[i] = strings.ToLower(strings.Join(strings.Fields(r), " "))
	}
	return strings.Join(rdns, ",")
}

// splitDN splits a DN into its RDN components regardless of whether it
// uses comma or slash separators, stripping leading/trailing separators.
func splitDN(dn string) []string {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return nil
	}
	if strings.HasPrefix(dn, "/") {
		parts := strings.Split(dn, "/")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		// OpenSSL order is least-specific-first; reverse to match RFC 2253.
		reverse(out)
		return out
	}
	parts := splitUnescapedComma(dn)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitUnescapedComma splits on commas that are not preceded by a
// backslash escape, per RFC 2253 §2.3.
func splitUnescapedComma(s string) []string {
	var out []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == ',':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	out = append(out, cur.String())
	return out
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// DNEqual reports whether two DNs refer to the same entity under
// case-insensitive, whitespace-normalized comparison.
func DNEqual(a, b string) bool {
	return NormalizeDN(a) == NormalizeDN(b)
}

// RFC2253String renders a pkix.Name in comma-separated, most-specific-first
// form, the canonical form stored alongside every Certificate/CRL row.
func RFC2253String(name pkix.Name) string {
	return name.String()
}

// ShortCN returns the certificate's Common Name, or failing that a
// shortened subject string, for use in trust-chain-path rendering
// .
func ShortCN(name pkix.Name) string {
	if name.CommonName != "" {
		return "CN=" + name.CommonName
	}
	return name.String()
}
