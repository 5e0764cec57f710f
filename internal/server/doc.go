// Package server implements the MCP (Model Context Protocol) server for PDF tools.
//
// This package provides a JSON-RPC 2.0 server that exposes document processing
// capabilities through the MCP protocol. Documents can be imported once and
// referenced by id across many calls (stateful tools), or opened, processed
// and discarded within a single call (oneshot tools).
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout (one per line, possibly out of order)
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// Notifications (methods under "notifications/") are accepted silently.
//
// # Available Tools
//
// Session lifecycle:
//   - import_document: Open a document and get a document_id
//   - close_document: Close a document
//   - list_documents: List open documents
//   - get_document_info: Describe a document without touching it
//
// Document-level queries:
//   - get_page_count, get_metadata, get_outlines
//
// Page-level queries:
//   - get_page_bounds, get_page_text, get_page_text_blocks, get_page_links
//   - search_page: Find text, returns hit quads
//   - render_page: Rasterize to PNG, optionally clipped and with a point grid
//   - ocr_page: Rasterize and recognize text with Tesseract
//
// Oneshot:
//   - oneshot_get_bookmarks: Flattened outline of a document
//   - oneshot_get_page_text: Text of one page of a document
//
// # Concurrency
//
// Each request runs on its own goroutine, bounded by the configured number
// of concurrent calls. Every access to a document handle, stateful or
// oneshot, happens under the session store's single lock. Rendered rasters
// leave the lock as plain images, so PNG encoding and OCR run concurrently.
//
// # Error Handling
//
// Unknown tools and arguments that do not match a tool's input schema are
// JSON-RPC errors with code -32602. Unknown methods get -32601. Every other
// failure, such as a bad page number or a wrong password, is a normal tool
// result with isError set and the error description as its text content.
//
// # Usage
//
//	store := session.New()
//	defer store.Close()
//	srv, err := server.New(store, source.NewResolver(eng, 0, log))
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx, os.Stdin, os.Stdout)
package server
