// Package ldif implements a streaming RFC 2849 LDIF parser:
// continuation lines, base64 (`::`) values with implicit `;binary`
// tagging, comment lines, and a lazy sequence of entries so a 100 MB input
// never needs to sit in memory as a whole-file slice.
package ldif

import (
	"bufio"
	"context"
	"encoding/base64"
	"io"
	"strings"

	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// Attribute is one ordered (possibly multi-valued) LDIF attribute.
type Attribute struct {
	Name   string
	Binary bool
	Values [][]byte
}

// Entry is one parsed LDIF record.
type Entry struct {
	DN         string
	Attributes map[string]*Attribute
	// Order preserves the attribute insertion order, which downstream
	// consumers need to distinguish "first cert in an entry" from the
	// rest when an entry carries multiple userCertificate values.
	Order []string
}

// Get returns all values for attr (case-sensitive name match, mirroring
// LDIF's case-sensitive attribute names in practice).
func (e *Entry) Get(attr string) [][]byte {
	a, ok := e.Attributes[attr]
	if !ok {
		return nil
	}
	return a.Values
}

// Reader is a pull parser over an LDIF stream. Call Next until it returns
// io.EOF.
type Reader struct {
	scanner  *bufio.Scanner
	pending  string
	havePend bool
	version  string
}

// NewReader wraps r in a line-oriented LDIF reader. The buffer size is
// raised above bufio's default so long base64 continuation values (a
// whole DER certificate base64-encoded on one logical, wrapped line)
// don't overflow bufio.Scanner's token limit.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{scanner: scanner}
}

// nextLogicalLine reassembles continuation lines (a line starting with a
// single space is appended, without the leading space, to the previous
// line) and skips comment lines and blank-line run stripping is left to
// the caller so entry boundaries remain visible.
func (r *Reader) nextLogicalLine() (string, bool, error) {
	var line string
	if r.havePend {
		line = r.pending
		r.havePend = false
	} else {
		if !r.scanner.Scan() {
			return "", false, r.scanner.Err()
		}
		line = r.scanner.Text()
	}
	if strings.HasPrefix(line, "#") {
		return r.nextLogicalLine()
	}
	// A continuation line folded onto a comment during lookahead would be
	// a malformed LDIF; comments only ever start a logical line.
	for r.scanner.Scan() {
		next := r.scanner.Text()
		if strings.HasPrefix(next, " ") {
			line += next[1:]
			continue
		}
		r.pending = next
		r.havePend = true
		break
	}
	return line, true, nil
}

// Next returns the next entry, or io.EOF when the stream is exhausted.
func (r *Reader) Next() (*Entry, error) {
	entry := &Entry{Attributes: map[string]*Attribute{}}
	sawDN := false

	for {
		line, ok, err := r.nextLogicalLine()
		if err != nil {
			return nil, pkderrors.NewParseError("ldif: read line: %v", err)
		}
		if !ok {
			if sawDN {
				return entry, nil
			}
			return nil, io.EOF
		}
		if strings.TrimSpace(line) == "" {
			if sawDN {
				return entry, nil
			}
			continue
		}
		if strings.TrimSpace(line) == "version: 1" {
			r.version = "1"
			continue
		}

		name, binary, b64, value, err := parseAttrLine(line)
		if err != nil {
			return nil, err
		}

		if name == "dn" {
			if b64 {
				decoded, derr := base64.StdEncoding.DecodeString(value)
				if derr != nil {
					return nil, pkderrors.NewParseError("ldif: decode base64 dn: %v", derr)
				}
				entry.DN = string(decoded)
			} else {
				entry.DN = value
			}
			sawDN = true
			continue
		}

		var raw []byte
		if b64 {
			decoded, derr := base64.StdEncoding.DecodeString(value)
			if derr != nil {
				return nil, pkderrors.NewParseError("ldif: decode base64 attribute %s: %v", name, derr)
			}
			raw = decoded
			binary = true
		} else {
			raw = []byte(value)
		}

		attr, exists := entry.Attributes[name]
		if !exists {
			attr = &Attribute{Name: name, Binary: binary}
			entry.Attributes[name] = attr
			entry.Order = append(entry.Order, name)
		}
		attr.Values = append(attr.Values, raw)
	}
}

// parseAttrLine splits one logical LDIF line into (name, binary-tagged,
// base64-encoded, value). `attr: value` is plain; `attr:: value` is
// base64 with an implicit `;binary` suffix; `attr;binary: value` (rare,
// raw binary without base64) is also accepted.
func parseAttrLine(line string) (name string, binary bool, b64 bool, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", false, false, "", pkderrors.NewParseError("ldif: malformed line (no colon): %q", line)
	}
	rawName := line[:idx]
	rest := line[idx+1:]

	if strings.HasSuffix(rawName, ";binary") {
		binary = true
		rawName = strings.TrimSuffix(rawName, ";binary")
	}
	name = rawName

	if strings.HasPrefix(rest, ":") {
		b64 = true
		rest = rest[1:]
	}
	value = strings.TrimSpace(rest)
	return name, binary, b64, value, nil
}

// ParseAll reads every entry into memory; only safe for small inputs
// (tests, small CERT/CRL uploads). Large LDIF ingestion must use Reader
// directly and stream through the pipeline.
func ParseAll(r io.Reader) ([]*Entry, error) {
	reader := NewReader(r)
	var out []*Entry
	for {
		e, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// StreamedEntry pairs one parsed Entry with a terminal parse error so a
// receiver on the returned channel can distinguish "done" from "failed".
type StreamedEntry struct {
	Entry *Entry
	Err   error
}

// ParseStream drives a Reader from a goroutine and emits one
// StreamedEntry per logical LDIF record (plus a final one carrying Err if
// parsing failed), closing the channel when done. It respects ctx
// cancellation between entries, the orchestrator's hook for aborting a
// bulk ingest at the next suspension point.
func ParseStream(ctx context.Context, r io.Reader) <-chan StreamedEntry {
	out := make(chan StreamedEntry)
	go func() {
		defer close(out)
		reader := NewReader(r)
		for {
			select {
			case <-ctx.Done():
				out <- StreamedEntry{Err: ctx.Err()}
				return
			default:
			}
			e, err := reader.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				out <- StreamedEntry{Err: err}
				return
			}
			out <- StreamedEntry{Entry: e}
		}
	}()
	return out
}
