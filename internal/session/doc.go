// Package session keeps the documents imported by clients.
//
// A Store maps opaque UUID document ids to open engine handles together
// with their cached page count and access times. Document engines are not
// thread-safe, so the store serializes every handle access behind a single
// mutex: imports, page operations, closes and stateless one-shot work all
// queue on the same lock. Handles never leave the lock; callers hand the
// store a callback instead:
//
//	n, err := session.With(store, id, func(doc engine.Document, info session.Info) (int, error) {
//		return info.PageCount, nil
//	})
//
// Ids are never reused. Once removed (or evicted), an id fails with
// pdferr.KindDocumentNotFound forever.
//
// A panic inside the critical section poisons the store. The panicking
// call and every call after it fail with pdferr.KindInternal; only Close
// still works.
package session
