package ldapstore

import "strings"

// EscapeDN escapes an attribute value for safe inclusion in a DN per
// RFC 4514 §2.4: a leading space or '#', a trailing space, and the
// characters '"', '+', ',', ';', '<', '>', '\\', '=' are backslash-
// escaped; a NUL byte is escaped as \00.
func EscapeDN(value string) string {
	if value == "" {
		return value
	}
	var b strings.Builder
	runes := []rune(value)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteString(`\00`)
		case strings.ContainsRune(`"+,;<>\=`, r):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == ' ' && (i == 0 || i == len(runes)-1):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '#' && i == 0:
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnescapeDN reverses EscapeDN; build_dn -> parse_dn must round-trip.
func UnescapeDN(value string) string {
	var b strings.Builder
	escaped := false
	runes := []rune(value)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escaped {
			if r == '0' && i+1 < len(runes) && runes[i+1] == '0' {
				b.WriteByte(0)
				i++
			} else {
				b.WriteRune(r)
			}
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EscapeFilter escapes a value for safe inclusion in an LDAP search
// filter per RFC 4515: '*', '(', ')', '\\' and NUL are backslash-hex
// escaped.
func EscapeFilter(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '*':
			b.WriteString(`\2a`)
		case '(':
			b.WriteString(`\28`)
		case ')':
			b.WriteString(`\29`)
		case '\\':
			b.WriteString(`\5c`)
		case 0:
			b.WriteString(`\00`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
