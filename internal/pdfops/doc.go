// Package pdfops implements the page and document operations behind the
// tools.
//
// Every function takes an already-resolved engine.Document and, for page
// operations, the cached page count of that document. Page numbers are
// 0-based and validated against the cached count before the engine is
// touched, so an out-of-range page never reaches the engine.
//
// The functions are stateless and do no locking. Callers run them inside
// session.Store callbacks, which serialize access to the handle.
//
// Results are plain structs with JSON tags; the server marshals them as
// tool results verbatim.
package pdfops
