// Package source resolves a document source into an open, authenticated
// engine handle.
package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/sirupsen/logrus"

	"github.com/ironsheep/pdf-tools-mcp/internal/engine"
	"github.com/ironsheep/pdf-tools-mcp/internal/pdferr"
)

// DefaultMagic is the format hint used for inline payloads without a
// filename.
const DefaultMagic = "application/pdf"

// DefaultMaxInlineBytes bounds decoded inline payloads.
const DefaultMaxInlineBytes = 100 << 20

// Source is where a document comes from: either a filesystem path or an
// inline base64 payload with an optional filename hint.
type Source struct {
	Path     string `json:"path,omitempty"`
	Base64   string `json:"base64,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// IsInline reports whether s carries an inline payload.
func (s Source) IsInline() bool { return s.Path == "" && s.Base64 != "" }

// Describe returns a log-safe description of s.
func (s Source) Describe() string {
	if s.Path != "" {
		return s.Path
	}
	if s.Filename != "" {
		return fmt.Sprintf("inline:%s", s.Filename)
	}
	return "inline"
}

// JSONSchema describes Source as one of its two shapes.
func (Source) JSONSchema() *jsonschema.Schema {
	path := jsonschema.NewProperties()
	path.Set("path", &jsonschema.Schema{
		Type:        "string",
		Description: "Filesystem path of the document",
	})

	inline := jsonschema.NewProperties()
	inline.Set("base64", &jsonschema.Schema{
		Type:        "string",
		Description: "Base64-encoded document bytes",
	})
	inline.Set("filename", &jsonschema.Schema{
		Type:        "string",
		Description: "Optional filename hint used to select the document format",
	})

	return &jsonschema.Schema{
		Description: "Document source: a file path or an inline base64 payload",
		OneOf: []*jsonschema.Schema{
			{Type: "object", Properties: path, Required: []string{"path"}, AdditionalProperties: jsonschema.FalseSchema},
			{Type: "object", Properties: inline, Required: []string{"base64"}, AdditionalProperties: jsonschema.FalseSchema},
		},
	}
}

// Resolver opens sources with an engine.
type Resolver struct {
	engine         engine.Engine
	maxInlineBytes int64
	log            logrus.FieldLogger
}

// NewResolver returns a resolver over eng. maxInlineBytes <= 0 selects
// DefaultMaxInlineBytes.
func NewResolver(eng engine.Engine, maxInlineBytes int64, log logrus.FieldLogger) *Resolver {
	if maxInlineBytes <= 0 {
		maxInlineBytes = DefaultMaxInlineBytes
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{engine: eng, maxInlineBytes: maxInlineBytes, log: log}
}

// Open opens src and runs the password flow. A nil password means none was
// supplied. On any failure after the engine returned a handle, the handle
// is closed before returning.
func (r *Resolver) Open(ctx context.Context, src Source, password *string) (engine.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := r.open(src)
	if err != nil {
		return nil, err
	}

	if err := authenticate(doc, password); err != nil {
		if cerr := doc.Close(); cerr != nil {
			r.log.WithError(cerr).WithField("source", src.Describe()).Warn("failed to close rejected document")
		}
		return nil, err
	}
	return doc, nil
}

func (r *Resolver) open(src Source) (engine.Document, error) {
	switch {
	case src.Path != "":
		doc, err := r.engine.OpenFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", src.Path, err)
		}
		return doc, nil

	case src.Base64 != "":
		data, err := r.decode(src.Base64)
		if err != nil {
			return nil, err
		}
		magic := src.Filename
		if magic == "" {
			magic = DefaultMagic
		}
		doc, err := r.engine.OpenBytes(data, magic)
		if err != nil {
			return nil, fmt.Errorf("open inline document: %w", err)
		}
		return doc, nil

	default:
		return nil, pdferr.InvalidArgument("source needs either a path or a base64 payload")
	}
}

// decode accepts plain base64 as well as a data: URI.
func (r *Resolver) decode(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ";base64,"); i >= 0 {
			payload = payload[i+len(";base64,"):]
		}
	}
	payload = strings.TrimSpace(payload)

	if int64(base64.StdEncoding.DecodedLen(len(payload))) > r.maxInlineBytes+2 {
		return nil, pdferr.InvalidArgument("inline payload exceeds %d bytes", r.maxInlineBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, pdferr.Decode(err)
	}
	if int64(len(data)) > r.maxInlineBytes {
		return nil, pdferr.InvalidArgument("inline payload exceeds %d bytes", r.maxInlineBytes)
	}
	return data, nil
}

func authenticate(doc engine.Document, password *string) error {
	if !doc.NeedsPassword() {
		return nil
	}
	if password == nil {
		return pdferr.PasswordRequired()
	}
	ok, err := doc.Authenticate(*password)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if !ok {
		return pdferr.InvalidPassword()
	}
	return nil
}
