package errors

import (
	stderrors "errors"
	"testing"
)

func TestIsMatchesType(t *testing.T) {
	err := NewParseError("bad der at offset %d", 42)
	if !Is(err, ParseError) {
		t.Error("expected Is(err, ParseError)")
	}
	if Is(err, DbError) {
		t.Error("ParseError must not match DbError")
	}
	if err.Error() != "bad der at offset 42" {
		t.Errorf("unexpected detail: %q", err.Error())
	}
}

func TestIsRejectsForeignErrors(t *testing.T) {
	if Is(stderrors.New("plain"), ParseError) {
		t.Error("a non-PKDError must never match")
	}
	if Is(nil, ParseError) {
		t.Error("nil must never match")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorType
	}{
		{NewDuplicateUpload("x"), DuplicateUpload},
		{NewDuplicateCertificate("x"), DuplicateCertificate},
		{NewCscaNotFound("x"), CscaNotFound},
		{NewSignatureInvalid("x"), SignatureInvalid},
		{NewExpiredOnly("x"), ExpiredOnly},
		{NewLdapTransientError("x"), LdapTransientError},
		{NewLdapPermanentError("x"), LdapPermanentError},
		{NewDbError("x"), DbError},
		{NewFatalConfigError("x"), FatalConfigError},
		{InternalServerError("x"), InternalServer},
	}
	for _, tc := range cases {
		if !Is(tc.err, tc.want) {
			t.Errorf("constructor for type %d produced a mismatched error", tc.want)
		}
	}
}
