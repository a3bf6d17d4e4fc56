// Package errs defines the error taxonomy shared by every layer of the
// resolver: playability sentinels and one structured error type carrying the
// failing layer (Kind) and a machine readable Code.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrVideoUnavailable indicates that the requested video cannot be accessed.
	ErrVideoUnavailable = errors.New("video unavailable")
	// ErrPrivate indicates that the video is private.
	ErrPrivate = errors.New("video is private")
	// ErrAgeRestricted indicates that the video has an age restriction.
	ErrAgeRestricted = errors.New("age restricted")
	// ErrLoginRequired indicates that playback needs a signed-in session.
	ErrLoginRequired = errors.New("login required")
	// ErrGeoBlocked indicates the video is not available in the current region.
	ErrGeoBlocked = errors.New("geo blocked")
	// ErrRateLimited indicates throttling or rate limiting by the remote service.
	ErrRateLimited = errors.New("rate limited")
	// ErrRental indicates a paid video without a purchase.
	ErrRental = errors.New("rental video")
	// ErrLiveNotStarted indicates a scheduled live stream that is not on air yet.
	ErrLiveNotStarted = errors.New("live stream not started")
)

// Kind names the layer an error originated from.
type Kind string

const (
	KindExtraction Kind = "extraction"
	KindCipher     Kind = "cipher"
	KindManifest   Kind = "manifest"
	KindCrypto     Kind = "crypto"
	KindTransport  Kind = "transport"
	KindResolve    Kind = "resolve"
)

// Error codes
const (
	CodeStructureChanged = "STRUCTURE_CHANGED"
	CodeUnplayable       = "UNPLAYABLE"
	CodeMalformed        = "MALFORMED"

	CodePatternNotFound = "PATTERN_NOT_FOUND"
	CodeAmbiguousMatch  = "AMBIGUOUS_MATCH"
	CodeCompileFailed   = "COMPILE_FAILED"
	CodeEvalFailed      = "EVAL_FAILED"

	CodeParseFailed = "PARSE_FAILED"
	CodeNoVariants  = "NO_VARIANTS"

	CodeInvalidPadding = "INVALID_PADDING"
	CodeKeyFetchFailed = "KEY_FETCH_FAILED"

	CodeRejected = "REJECTED"
	CodeTimeout  = "TIMEOUT"
	CodeNetwork  = "NETWORK"

	CodeAllFormatsUnresolved = "ALL_FORMATS_UNRESOLVED"
)

// Error is a structured error with the failing layer, a code and details.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Kind, e.Code, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Details != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Details)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind and, when the
// target carries a code, the same code. Kind-only targets match every code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// MarshalJSON implements json.Marshaler
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		*Alias
		Cause string `json:"cause,omitempty"`
		Error string `json:"error"`
	}{
		Alias: (*Alias)(e),
		Cause: cause,
		Error: e.Error(),
	})
}

// Sentinels usable with errors.Is.
var (
	ErrExtraction = &Error{Kind: KindExtraction}
	ErrCipher     = &Error{Kind: KindCipher}
	ErrManifest   = &Error{Kind: KindManifest}
	ErrCrypto     = &Error{Kind: KindCrypto}
	ErrTransport  = &Error{Kind: KindTransport}

	ErrStructureChanged = &Error{Kind: KindExtraction, Code: CodeStructureChanged}
	ErrUnplayable       = &Error{Kind: KindExtraction, Code: CodeUnplayable}
	ErrMalformed        = &Error{Kind: KindExtraction, Code: CodeMalformed}

	ErrPatternNotFound = &Error{Kind: KindCipher, Code: CodePatternNotFound}
	ErrAmbiguousMatch  = &Error{Kind: KindCipher, Code: CodeAmbiguousMatch}
	ErrCompileFailed   = &Error{Kind: KindCipher, Code: CodeCompileFailed}
	ErrEvalFailed      = &Error{Kind: KindCipher, Code: CodeEvalFailed}

	ErrParseFailed = &Error{Kind: KindManifest, Code: CodeParseFailed}
	ErrNoVariants  = &Error{Kind: KindManifest, Code: CodeNoVariants}

	ErrInvalidPadding = &Error{Kind: KindCrypto, Code: CodeInvalidPadding}
	ErrKeyFetchFailed = &Error{Kind: KindCrypto, Code: CodeKeyFetchFailed}

	ErrRejected = &Error{Kind: KindTransport, Code: CodeRejected}
	ErrTimeout  = &Error{Kind: KindTransport, Code: CodeTimeout}
	ErrNetwork  = &Error{Kind: KindTransport, Code: CodeNetwork}

	ErrAllFormatsUnresolved = &Error{Kind: KindResolve, Code: CodeAllFormatsUnresolved}
)

// New creates an Error. The optional details value is attached as-is.
func New(kind Kind, code, message string, details ...any) *Error {
	e := &Error{Kind: kind, Code: code, Message: message}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}

// Wrap creates an Error around cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// Extraction builds an extraction-layer error.
func Extraction(code, message string, cause error) *Error {
	return Wrap(KindExtraction, code, message, cause)
}

// Cipher builds a cipher-layer error.
func Cipher(code, message string, details ...any) *Error {
	return New(KindCipher, code, message, details...)
}

// Manifest builds a manifest-layer error.
func Manifest(code, message string, cause error) *Error {
	return Wrap(KindManifest, code, message, cause)
}

// Crypto builds a crypto-layer error.
func Crypto(code, message string, cause error) *Error {
	return Wrap(KindCrypto, code, message, cause)
}

// Rejected reports a non-retryable HTTP status.
func Rejected(status int, url string) *Error {
	return &Error{Kind: KindTransport, Code: CodeRejected, Message: "request rejected", Status: status, Details: url}
}

// Timeout reports an exhausted deadline.
func Timeout(url string, cause error) *Error {
	return &Error{Kind: KindTransport, Code: CodeTimeout, Message: "request timed out", Details: url, Err: cause}
}

// Network reports a connection level failure.
func Network(url string, cause error) *Error {
	return &Error{Kind: KindTransport, Code: CodeNetwork, Message: "network failure", Details: url, Err: cause}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the layer of err, or "" when err is not structured.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// StatusOf returns the HTTP status of a rejected transport error.
func StatusOf(err error) (int, bool) {
	if e, ok := As(err); ok && e.Kind == KindTransport && e.Code == CodeRejected {
		return e.Status, true
	}
	return 0, false
}

// IsTimeout returns true if the error is a transport timeout
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsCipher returns true if the error came from synthesis or the sandbox
func IsCipher(err error) bool { return errors.Is(err, ErrCipher) }

// IsUnplayable returns true if the upstream refused playback
func IsUnplayable(err error) bool { return errors.Is(err, ErrUnplayable) }
