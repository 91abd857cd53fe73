package ldif

import (
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"unicode"
)

// WriteEntry serializes one entry to w in RFC 2849 form: plain "attr:
// value" lines for safe ASCII values, "attr:: base64" for anything that
// needs it (binary data, a leading space/colon, non-ASCII bytes), and
// long values wrapped onto " "-prefixed continuation lines at col 76 —
// the inverse of Reader.Next, so build_dn/export round-trips through
// Parse.
func WriteEntry(w io.Writer, dn string, order []string, attrs map[string][][]byte) error {
	if err := writeAttrLine(w, "dn", []byte(dn)); err != nil {
		return err
	}
	for _, name := range order {
		for _, v := range attrs[name] {
			if err := writeAttrLine(w, name, v); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteEntrySorted is WriteEntry for callers that built attrs without
// tracking insertion order (e.g. a freshly constructed LDAP entry rather
// than one round-tripped from Reader).
func WriteEntrySorted(w io.Writer, dn string, attrs map[string][][]byte) error {
	order := make([]string, 0, len(attrs))
	for name := range attrs {
		order = append(order, name)
	}
	sort.Strings(order)
	return WriteEntry(w, dn, order, attrs)
}

func writeAttrLine(w io.Writer, name string, value []byte) error {
	var line string
	if needsBase64(value) {
		line = fmt.Sprintf("%s:: %s", name, base64.StdEncoding.EncodeToString(value))
	} else {
		line = fmt.Sprintf("%s: %s", name, string(value))
	}
	return foldAndWrite(w, line)
}

// foldAndWrite wraps line onto RFC 2849 continuation lines (each
// continuation starts with a single space) once it exceeds 76 columns.
func foldAndWrite(w io.Writer, line string) error {
	const maxLine = 76
	if len(line) <= maxLine {
		_, err := io.WriteString(w, line+"\n")
		return err
	}
	if _, err := io.WriteString(w, line[:maxLine]+"\n"); err != nil {
		return err
	}
	rest := line[maxLine:]
	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > maxLine-1 {
			chunk = chunk[:maxLine-1]
		}
		if _, err := io.WriteString(w, " "+chunk+"\n"); err != nil {
			return err
		}
		rest = rest[len(chunk):]
	}
	return nil
}

// needsBase64 reports whether value must be base64-encoded per RFC 2849:
// starts with a space/colon/less-than, contains a NUL/LF/CR, or has any
// non-ASCII byte. An empty value is written plain.
func needsBase64(value []byte) bool {
	if len(value) == 0 {
		return false
	}
	switch value[0] {
	case ' ', ':', '<':
		return true
	}
	for _, b := range value {
		if b == 0 || b == '\n' || b == '\r' {
			return true
		}
		if b > unicode.MaxASCII {
			return true
		}
	}
	return false
}
