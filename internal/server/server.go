package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/pdf-tools-mcp/internal/imaging"
	"github.com/ironsheep/pdf-tools-mcp/internal/metrics"
	"github.com/ironsheep/pdf-tools-mcp/internal/ocr"
	"github.com/ironsheep/pdf-tools-mcp/internal/session"
	"github.com/ironsheep/pdf-tools-mcp/internal/source"
)

const (
	// ServerName is reported in the initialize handshake.
	ServerName = "pdf-tools-mcp"

	// ProtocolVersion is the MCP revision this server speaks.
	ProtocolVersion = "2024-11-05"

	// DefaultMaxConcurrentCalls bounds in-flight requests.
	DefaultMaxConcurrentCalls = 16

	// DefaultMaxMessageBytes bounds a single request line. Inline payloads
	// are base64 text, so this must exceed the inline byte limit by a third.
	DefaultMaxMessageBytes = 160 << 20
)

// Server handles MCP protocol communication
type Server struct {
	store    *session.Store
	resolver *source.Resolver
	catalog  *catalog

	cache          *imaging.RenderCache
	metrics        *metrics.Metrics
	log            logrus.FieldLogger
	background     color.Color
	maxRenderScale float64
	ocr            ocr.Options
	recognize      func(image.Image, ocr.Options) (*ocr.Result, error)

	maxConcurrent   int
	maxMessageBytes int
	version         string
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Option configures a Server.
type Option func(*Server)

func WithRenderCache(c *imaging.RenderCache) Option {
	return func(s *Server) { s.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) { s.log = log }
}

// WithBackground sets the colour transparent render areas are flattened onto.
func WithBackground(c color.Color) Option {
	return func(s *Server) { s.background = c }
}

// WithMaxRenderScale caps the scale accepted by render_page and ocr_page.
// Zero disables the cap.
func WithMaxRenderScale(max float64) Option {
	return func(s *Server) { s.maxRenderScale = max }
}

// WithOCROptions sets the defaults for ocr_page.
func WithOCROptions(opts ocr.Options) Option {
	return func(s *Server) { s.ocr = opts }
}

func WithMaxConcurrentCalls(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

func WithMaxMessageBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxMessageBytes = n
		}
	}
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a new MCP server instance over store. The store is owned by
// the caller, who closes it after Run returns.
func New(store *session.Store, resolver *source.Resolver, opts ...Option) (*Server, error) {
	c, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	s := &Server{
		store:           store,
		resolver:        resolver,
		catalog:         c,
		log:             logrus.StandardLogger(),
		background:      color.White,
		maxRenderScale:  10,
		ocr:             ocr.Options{Language: ocr.DefaultLanguage},
		recognize:       ocr.Recognize,
		maxConcurrent:   DefaultMaxConcurrentCalls,
		maxMessageBytes: DefaultMaxMessageBytes,
		version:         "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// responseWriter serializes responses from concurrent handlers.
type responseWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	log logrus.FieldLogger
}

func (w *responseWriter) write(resp *MCPResponse) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(resp); err != nil {
		w.log.WithError(err).Error("failed to encode response")
	}
}

// Run serves newline-delimited JSON-RPC requests from r and writes
// responses to w until r is exhausted or ctx is done. Each request is
// handled on its own goroutine; responses may be written out of order.
// Run waits for in-flight requests before returning.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), s.maxMessageBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	out := &responseWriter{enc: json.NewEncoder(w), log: s.log}
	var g errgroup.Group
	g.SetLimit(s.maxConcurrent)

	var readErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				readErr = <-scanErr
				break loop
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			var req MCPRequest
			if err := json.Unmarshal(line, &req); err != nil {
				s.log.WithError(err).Warn("failed to parse request")
				s.metrics.ProtocolError()
				out.write(s.errorResponse(nil, codeParseError, "Parse error", err.Error()))
				continue
			}

			g.Go(func() error {
				if resp := s.handleRequest(ctx, &req); resp != nil {
					out.write(resp)
				}
				return nil
			})
		}
	}

	_ = g.Wait()
	if readErr != nil {
		return fmt.Errorf("scanner error: %w", readErr)
	}
	return nil
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	if req.JSONRPC != "2.0" {
		s.metrics.ProtocolError()
		return s.errorResponse(req.ID, codeInvalidRequest, "Invalid Request", fmt.Sprintf("unsupported jsonrpc version %q", req.JSONRPC))
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	}

	if strings.HasPrefix(req.Method, "notifications/") {
		// Client notifications never get a response.
		s.log.WithField("method", req.Method).Debug("notification")
		return nil
	}

	s.metrics.ProtocolError()
	s.log.WithField("method", req.Method).Warn("method not found")
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error: &MCPError{
			Code:    codeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		},
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    ServerName,
				"version": s.version,
			},
		},
	}
}
