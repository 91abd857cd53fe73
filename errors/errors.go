package errors

import "fmt"

// ErrorType provides a coarse category for PKDErrors, mirroring the error
// kinds a caller needs to branch on rather than language exception types.
type ErrorType int

const (
	InternalServer ErrorType = iota
	ParseError
	DuplicateUpload
	DuplicateCertificate
	CscaNotFound
	SignatureInvalid
	ExpiredOnly
	LdapTransientError
	LdapPermanentError
	DbError
	FatalConfigError
)

// PKDError represents a categorized, recoverable-or-not pipeline error.
type PKDError struct {
	Type   ErrorType
	Detail string
}

func (be *PKDError) Error() string {
	return be.Detail
}

// New is a convenience function for creating a new PKDError.
func New(errType ErrorType, msg string, args ...interface{}) error {
	return &PKDError{
		Type:   errType,
		Detail: fmt.Sprintf(msg, args...),
	}
}

// Is reports whether err is a PKDError of the given type.
func Is(err error, errType ErrorType) bool {
	pErr, ok := err.(*PKDError)
	if !ok {
		return false
	}
	return pErr.Type == errType
}

func InternalServerError(msg string, args ...interface{}) error {
	return New(InternalServer, msg, args...)
}

// NewParseError reports a byte-level decode failure on a single entry. The
// caller marks that entry failed and continues with the next one.
func NewParseError(msg string, args ...interface{}) error {
	return New(ParseError, msg, args...)
}

// NewDuplicateUpload reports that an upload's file hash matched an
// existing row; callers should surface the existing upload id.
func NewDuplicateUpload(msg string, args ...interface{}) error {
	return New(DuplicateUpload, msg, args...)
}

// NewDuplicateCertificate reports a fingerprint match; tracked, not fatal.
func NewDuplicateCertificate(msg string, args ...interface{}) error {
	return New(DuplicateCertificate, msg, args...)
}

// NewCscaNotFound reports that no candidate CSCA exists yet for a chain;
// the cert is persisted as PENDING and revisited by the Revalidator.
func NewCscaNotFound(msg string, args ...interface{}) error {
	return New(CscaNotFound, msg, args...)
}

// NewSignatureInvalid reports a verified-but-failed signature somewhere on
// the candidate chain.
func NewSignatureInvalid(msg string, args ...interface{}) error {
	return New(SignatureInvalid, msg, args...)
}

// NewExpiredOnly reports a sound chain with an expired certificate on it
// (the ICAO hybrid-chain rule: informational, not a failure).
func NewExpiredOnly(msg string, args ...interface{}) error {
	return New(ExpiredOnly, msg, args...)
}

// NewLdapTransientError leaves stored_in_ldap=false for the Reconciler to
// retry.
func NewLdapTransientError(msg string, args ...interface{}) error {
	return New(LdapTransientError, msg, args...)
}

// NewLdapPermanentError is logged and not retried.
func NewLdapPermanentError(msg string, args ...interface{}) error {
	return New(LdapPermanentError, msg, args...)
}

// NewDbError aborts the current entry; the upload may still complete with
// partial counts if the rest of the batch succeeds.
func NewDbError(msg string, args ...interface{}) error {
	return New(DbError, msg, args...)
}

// NewFatalConfigError terminates process startup.
func NewFatalConfigError(msg string, args ...interface{}) error {
	return New(FatalConfigError, msg, args...)
}
