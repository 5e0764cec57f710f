package imaging

import (
	"fmt"
	"image"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RenderKey identifies one encoded render.
type RenderKey struct {
	DocumentID string
	Page       int
	Scale      float64

	// Clip is the requested pixel region; the zero value means the whole page.
	Clip image.Rectangle

	// Grid is the grid spacing in points; zero means no grid.
	Grid       float64
	GridLabels bool
}

func (k RenderKey) String() string {
	s := k.DocumentID + "/" + strconv.Itoa(k.Page) + "@" + strconv.FormatFloat(k.Scale, 'g', -1, 64)
	if k.Clip != (image.Rectangle{}) {
		s += " clip=" + k.Clip.String()
	}
	if k.Grid > 0 {
		s += " grid=" + strconv.FormatFloat(k.Grid, 'g', -1, 64)
		if k.GridLabels {
			s += "+labels"
		}
	}
	return s
}

// RenderCache is a bounded LRU cache of encoded page renders.
//
// Rendering and PNG encoding dominate the cost of render_page, and clients
// tend to ask for the same page repeatedly while paging through a document.
// The cache holds the final base64 payload keyed by document, page, scale
// and overlay options, so a hit skips both steps.
//
// RenderCache is safe for concurrent use. A nil *RenderCache is a valid,
// always-empty cache, which is how caching is disabled.
//
// # Invalidation
//
// Document ids are never reused, so entries cannot go stale; Forget drops
// a closed document's entries early to release memory.
//
// # Example Usage
//
//	cache, err := imaging.NewRenderCache(64)
//	if err != nil {
//	    return err
//	}
//	key := imaging.RenderKey{DocumentID: id, Page: 0, Scale: 1}
//	if r, ok := cache.Get(key); ok {
//	    return r, nil
//	}
//	cache.Add(key, rendered)
//	cache.Forget(id) // on close
type RenderCache struct {
	lru *lru.Cache[RenderKey, *Rendered]
}

// NewRenderCache creates a cache holding at most size renders. A size of
// zero or less disables caching and returns a nil cache.
func NewRenderCache(size int) (*RenderCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[RenderKey, *Rendered](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create render cache: %w", err)
	}
	return &RenderCache{lru: c}, nil
}

// Get returns the cached render for key.
func (c *RenderCache) Get(key RenderKey) (*Rendered, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

// Add stores r under key, evicting the least recently used entry if the
// cache is full.
func (c *RenderCache) Add(key RenderKey, r *Rendered) {
	if c == nil {
		return
	}
	c.lru.Add(key, r)
}

// Forget removes every entry of documentID.
func (c *RenderCache) Forget(documentID string) {
	if c == nil {
		return
	}
	for _, k := range c.lru.Keys() {
		if k.DocumentID == documentID {
			c.lru.Remove(k)
		}
	}
}

// Len returns the number of cached renders.
func (c *RenderCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Clear removes all entries.
func (c *RenderCache) Clear() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
