package pdferr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not found", DocumentNotFound("abc"), "document not found: abc"},
		{"page", InvalidPageNumber(5, 3), "invalid page number: 5 (document has 3 pages, valid range: 0-2)"},
		{"negative page", InvalidPageNumber(-1, 1), "invalid page number: -1 (document has 1 pages, valid range: 0-0)"},
		{"empty doc", InvalidPageNumber(0, 0), "invalid page number: 0 (document has no pages)"},
		{"password required", PasswordRequired(), "password required for this document"},
		{"invalid password", InvalidPassword(), "invalid password"},
		{"not a pdf", NotAPdf(), "document is not a PDF"},
		{"text format", InvalidTextFormat("bogus"), "invalid text format: bogus (valid formats: plain, html, json, xml)"},
		{"image format", InvalidImageFormat("svg"), "invalid image format: svg (valid formats: png)"},
		{"scale", InvalidScale(-2), "invalid scale: -2 (must be a finite number greater than 0)"},
		{"argument", InvalidArgument("payload too large: %d bytes", 10), "invalid argument: payload too large: 10 bytes"},
		{"internal", Internal("lock poisoned"), "internal error: lock poisoned"},
		{"decode", Decode(errors.New("illegal base64 data at input byte 3")), "base64 decode error: illegal base64 data at input byte 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("get_page_text: %w", InvalidPageNumber(9, 2))

	kind, ok := KindOf(err)
	if !ok {
		t.Fatal("KindOf did not find a domain error")
	}
	if kind != KindInvalidPageNumber {
		t.Errorf("kind = %v, want %v", kind, KindInvalidPageNumber)
	}
	if !errors.Is(err, ErrInvalidPageNumber) {
		t.Error("errors.Is should match the sentinel of the same kind")
	}
	if errors.Is(err, ErrDocumentNotFound) {
		t.Error("errors.Is should not match a sentinel of another kind")
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if _, ok := KindOf(io.EOF); ok {
		t.Error("KindOf should report false for non-domain errors")
	}
}

func TestWrapInternal(t *testing.T) {
	if WrapInternal(nil) != nil {
		t.Error("WrapInternal(nil) should be nil")
	}

	wrapped := WrapInternal(io.ErrUnexpectedEOF)
	if !errors.Is(wrapped, ErrInternal) {
		t.Error("wrapped engine error should be internal")
	}
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("cause should stay reachable")
	}

	domain := NotAPdf()
	if WrapInternal(domain) != domain {
		t.Error("domain errors should pass through unchanged")
	}
}

func TestKindString(t *testing.T) {
	if KindDocumentNotFound.String() != "document_not_found" {
		t.Errorf("String() = %q", KindDocumentNotFound.String())
	}
	if Kind(99).String() != "kind(99)" {
		t.Errorf("String() = %q", Kind(99).String())
	}
}
