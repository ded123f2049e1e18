// Package apierr defines the kind-tagged error taxonomy from spec §7.
// Handlers wrap a sentinel with context via fmt.Errorf("...: %w", err) and
// callers at the ExternalAPI edge recover the kind with errors.Is/As.
package apierr

import "errors"

// Kind identifies one of the taxonomy rows in spec §7.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindAuthorization      Kind = "authorization"
	KindQuota              Kind = "quota"
	KindAnalysisIncomplete Kind = "analysis-in-progress"
	KindDecode             Kind = "decode"
	KindStemEngine         Kind = "stem-engine"
	KindRender             Kind = "render"
	KindStorage            Kind = "storage"
	KindTimeout            Kind = "timeout"
)

// Error is a kind-tagged error. The zero value is not usable; construct with New.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an existing error with a kind.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// As reports whether err (or one it wraps) carries the given kind.
func As(err error, kind Kind) bool {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to "" if err is untagged.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return ""
}

// HTTPStatus maps a Kind to the response class spec §7 documents.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return 400
	case KindAuthorization:
		return 403
	case KindQuota:
		return 402
	case KindAnalysisIncomplete:
		return 409
	case KindTimeout:
		return 504
	default:
		return 500
	}
}
