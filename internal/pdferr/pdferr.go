// Package pdferr defines the domain errors reported by the PDF tools.
//
// Every failure a tool can surface to a client is a *Error carrying a Kind.
// Lower layers wrap them with fmt.Errorf("...: %w", err); use KindOf or
// errors.Is against the sentinel values to classify a wrapped error.
package pdferr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind int

const (
	KindInternal Kind = iota
	KindDocumentNotFound
	KindInvalidPageNumber
	KindPasswordRequired
	KindInvalidPassword
	KindNotAPdf
	KindInvalidTextFormat
	KindInvalidImageFormat
	KindDecode
	KindInvalidScale
	KindInvalidArgument
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindDocumentNotFound:   "document_not_found",
	KindInvalidPageNumber:  "invalid_page_number",
	KindPasswordRequired:   "password_required",
	KindInvalidPassword:    "invalid_password",
	KindNotAPdf:            "not_a_pdf",
	KindInvalidTextFormat:  "invalid_text_format",
	KindInvalidImageFormat: "invalid_image_format",
	KindDecode:             "decode_error",
	KindInvalidScale:       "invalid_scale",
	KindInvalidArgument:    "invalid_argument",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a domain error. Only the fields relevant to Kind are set.
type Error struct {
	Kind Kind

	// DocumentID is set for KindDocumentNotFound.
	DocumentID string

	// Page and Total are set for KindInvalidPageNumber.
	Page  int
	Total int

	// Value holds the rejected input for format and scale errors.
	Value string

	// Msg is a free-form detail for KindInternal and KindInvalidArgument.
	Msg string

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDocumentNotFound:
		return fmt.Sprintf("document not found: %s", e.DocumentID)
	case KindInvalidPageNumber:
		if e.Total == 0 {
			return fmt.Sprintf("invalid page number: %d (document has no pages)", e.Page)
		}
		return fmt.Sprintf("invalid page number: %d (document has %d pages, valid range: 0-%d)",
			e.Page, e.Total, e.Total-1)
	case KindPasswordRequired:
		return "password required for this document"
	case KindInvalidPassword:
		return "invalid password"
	case KindNotAPdf:
		return "document is not a PDF"
	case KindInvalidTextFormat:
		return fmt.Sprintf("invalid text format: %s (valid formats: plain, html, json, xml)", e.Value)
	case KindInvalidImageFormat:
		return fmt.Sprintf("invalid image format: %s (valid formats: png)", e.Value)
	case KindDecode:
		if e.Err != nil {
			return fmt.Sprintf("base64 decode error: %v", e.Err)
		}
		return "base64 decode error"
	case KindInvalidScale:
		return fmt.Sprintf("invalid scale: %s (must be a finite number greater than 0)", e.Value)
	case KindInvalidArgument:
		return fmt.Sprintf("invalid argument: %s", e.Msg)
	default:
		if e.Err != nil && e.Msg == "" {
			return fmt.Sprintf("internal error: %v", e.Err)
		}
		return fmt.Sprintf("internal error: %s", e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error of the same Kind, so the sentinels
// below match any error of their kind regardless of detail fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrDocumentNotFound   = &Error{Kind: KindDocumentNotFound}
	ErrInvalidPageNumber  = &Error{Kind: KindInvalidPageNumber}
	ErrPasswordRequired   = &Error{Kind: KindPasswordRequired}
	ErrInvalidPassword    = &Error{Kind: KindInvalidPassword}
	ErrNotAPdf            = &Error{Kind: KindNotAPdf}
	ErrInvalidTextFormat  = &Error{Kind: KindInvalidTextFormat}
	ErrInvalidImageFormat = &Error{Kind: KindInvalidImageFormat}
	ErrDecode             = &Error{Kind: KindDecode}
	ErrInvalidScale       = &Error{Kind: KindInvalidScale}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrInternal           = &Error{Kind: KindInternal}
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindInternal, false
}

func DocumentNotFound(id string) error {
	return &Error{Kind: KindDocumentNotFound, DocumentID: id}
}

func InvalidPageNumber(page, total int) error {
	return &Error{Kind: KindInvalidPageNumber, Page: page, Total: total}
}

func PasswordRequired() error { return &Error{Kind: KindPasswordRequired} }

func InvalidPassword() error { return &Error{Kind: KindInvalidPassword} }

func NotAPdf() error { return &Error{Kind: KindNotAPdf} }

func InvalidTextFormat(value string) error {
	return &Error{Kind: KindInvalidTextFormat, Value: value}
}

func InvalidImageFormat(value string) error {
	return &Error{Kind: KindInvalidImageFormat, Value: value}
}

func Decode(err error) error { return &Error{Kind: KindDecode, Err: err} }

func InvalidScale(scale float64) error {
	return &Error{Kind: KindInvalidScale, Value: fmt.Sprintf("%g", scale)}
}

func InvalidArgument(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func Internal(format string, args ...interface{}) error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, args...)}
}

// WrapInternal marks an unexpected engine or I/O failure as internal while
// keeping the cause reachable through errors.Unwrap.
func WrapInternal(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	return &Error{Kind: KindInternal, Err: err}
}
