package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ironsheep/pdf-tools-mcp/internal/engine"
	"github.com/ironsheep/pdf-tools-mcp/internal/pdferr"
)

// Info is a snapshot of a session record.
type Info struct {
	ID           string
	PageCount    int
	IsPDF        bool
	CreatedAt    time.Time
	LastAccessed time.Time
}

// Age returns how long ago the document was imported.
func (i Info) Age(now time.Time) time.Duration { return now.Sub(i.CreatedAt) }

// Idle returns how long ago the document was last used.
func (i Info) Idle(now time.Time) time.Duration { return now.Sub(i.LastAccessed) }

type record struct {
	doc  engine.Document
	info Info
}

// Store owns every open document handle. All access to a handle goes
// through one mutex; a handle is only reachable inside the callbacks of
// Open, WithDocument and Confine.
type Store struct {
	mu       sync.Mutex
	docs     map[string]*record
	poisoned bool
	closed   bool

	now      func() time.Time
	newID    func() string
	log      logrus.FieldLogger
	onRemove []func(id string)
	onSize   func(n int)
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// WithRemoveHook registers fn to run, under the store lock, whenever a
// document leaves the store. fn must not call back into the store.
func WithRemoveHook(fn func(id string)) Option {
	return func(s *Store) { s.onRemove = append(s.onRemove, fn) }
}

// WithSizeObserver registers fn to receive the number of open documents
// after every change.
func WithSizeObserver(fn func(n int)) Option {
	return func(s *Store) { s.onSize = fn }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:  make(map[string]*record),
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const (
	errPoisoned = "document store is unusable after an earlier failure"
	errClosed   = "document store is closed"
)

// locked runs fn under the store lock. A panic in fn poisons the store:
// the call and every later call fail with an internal error.
func (s *Store) locked(op string, fn func() error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned {
		return pdferr.Internal(errPoisoned)
	}
	if s.closed {
		return pdferr.Internal(errClosed)
	}

	defer func() {
		if r := recover(); r != nil {
			s.poisoned = true
			s.log.WithField("op", op).Errorf("panic inside document store: %v", r)
			err = pdferr.Internal("panic during %s: %v", op, r)
		}
	}()
	return fn()
}

func (s *Store) insertLocked(doc engine.Document) (Info, error) {
	n, err := doc.PageCount()
	if err != nil {
		if cerr := doc.Close(); cerr != nil {
			s.log.WithError(cerr).Warn("failed to close document after page count failure")
		}
		return Info{}, fmt.Errorf("page count: %w", err)
	}

	now := s.now()
	info := Info{
		ID:           s.newID(),
		PageCount:    n,
		IsPDF:        doc.IsPDF(),
		CreatedAt:    now,
		LastAccessed: now,
	}
	s.docs[info.ID] = &record{doc: doc, info: info}
	s.notifySize()

	s.log.WithFields(logrus.Fields{"document_id": info.ID, "page_count": n}).Info("document imported")
	return info, nil
}

// Insert stores an already-open document and returns its new id. On
// failure the handle is closed.
func (s *Store) Insert(doc engine.Document) (string, error) {
	var info Info
	err := s.locked("insert", func() error {
		var err error
		info, err = s.insertLocked(doc)
		return err
	})
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Open runs open under the store lock and stores the resulting document.
func (s *Store) Open(open func() (engine.Document, error)) (Info, error) {
	var info Info
	err := s.locked("open", func() error {
		doc, err := open()
		if err != nil {
			return err
		}
		info, err = s.insertLocked(doc)
		return err
	})
	return info, err
}

// Info returns the record for id without refreshing its access time.
func (s *Store) Info(id string) (Info, error) {
	var info Info
	err := s.locked("info", func() error {
		rec, ok := s.docs[id]
		if !ok {
			return pdferr.DocumentNotFound(id)
		}
		info = rec.info
		return nil
	})
	return info, err
}

// IfOpen runs fn under the store lock if id is open, without refreshing its
// access time. Work tied to a document's lifetime, such as caching one of
// its renders, cannot then race with Remove.
func (s *Store) IfOpen(id string, fn func(info Info)) error {
	return s.locked("if_open", func() error {
		rec, ok := s.docs[id]
		if !ok {
			return pdferr.DocumentNotFound(id)
		}
		fn(rec.info)
		return nil
	})
}

// WithDocument refreshes the access time of id and runs fn with its handle
// under the store lock. fn's error is returned unchanged.
func (s *Store) WithDocument(id string, fn func(doc engine.Document, info Info) error) error {
	return s.locked("with_document", func() error {
		rec, ok := s.docs[id]
		if !ok {
			return pdferr.DocumentNotFound(id)
		}
		rec.info.LastAccessed = s.now()
		return fn(rec.doc, rec.info)
	})
}

// With is WithDocument for callbacks that produce a value.
func With[T any](s *Store, id string, fn func(doc engine.Document, info Info) (T, error)) (T, error) {
	var out T
	err := s.WithDocument(id, func(doc engine.Document, info Info) error {
		var err error
		out, err = fn(doc, info)
		return err
	})
	return out, err
}

// Remove deletes id and closes its handle before returning.
func (s *Store) Remove(id string) error {
	return s.locked("remove", func() error {
		if _, ok := s.docs[id]; !ok {
			return pdferr.DocumentNotFound(id)
		}
		s.removeLocked(id)
		s.log.WithField("document_id", id).Info("document closed")
		return nil
	})
}

func (s *Store) removeLocked(id string) {
	rec := s.docs[id]
	delete(s.docs, id)
	if err := rec.doc.Close(); err != nil {
		s.log.WithError(err).WithField("document_id", id).Warn("failed to close document handle")
	}
	for _, fn := range s.onRemove {
		fn(id)
	}
	s.notifySize()
}

func (s *Store) notifySize() {
	if s.onSize != nil {
		s.onSize(len(s.docs))
	}
}

// List returns a snapshot of every record, in no particular order.
func (s *Store) List() ([]Info, error) {
	var out []Info
	err := s.locked("list", func() error {
		out = make([]Info, 0, len(s.docs))
		for _, rec := range s.docs {
			out = append(out, rec.info)
		}
		return nil
	})
	return out, err
}

// Len returns the number of open documents.
func (s *Store) Len() (int, error) {
	var n int
	err := s.locked("len", func() error {
		n = len(s.docs)
		return nil
	})
	return n, err
}

// Confine runs fn under the store lock without touching any record. It
// serializes stateless work that opens its own short-lived handle.
func (s *Store) Confine(fn func() error) error {
	return s.locked("confine", fn)
}

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.now() }

// EvictIdle closes every document idle for longer than maxIdle and
// returns the evicted ids.
func (s *Store) EvictIdle(maxIdle time.Duration) ([]string, error) {
	var evicted []string
	err := s.locked("evict", func() error {
		now := s.now()
		for id, rec := range s.docs {
			if rec.info.Idle(now) > maxIdle {
				evicted = append(evicted, id)
			}
		}
		for _, id := range evicted {
			s.removeLocked(id)
			s.log.WithField("document_id", id).Info("evicted idle document")
		}
		return nil
	})
	return evicted, err
}

// RunJanitor evicts documents idle for longer than maxIdle every interval
// until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, maxIdle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.EvictIdle(maxIdle); err != nil {
				s.log.WithError(err).Warn("idle eviction failed")
			}
		}
	}
}

// Close closes every remaining handle. Later calls fail with an internal
// error. Close is safe to call on a poisoned store and more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for id, rec := range s.docs {
		if err := rec.doc.Close(); err != nil {
			s.log.WithError(err).WithField("document_id", id).Warn("failed to close document handle")
			if firstErr == nil {
				firstErr = fmt.Errorf("close %s: %w", id, err)
			}
		}
		for _, fn := range s.onRemove {
			fn(id)
		}
	}
	n := len(s.docs)
	s.docs = make(map[string]*record)
	s.notifySize()

	s.log.WithField("closed", n).Info("document store shut down")
	return firstErr
}
