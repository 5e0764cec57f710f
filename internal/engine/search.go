package engine

import (
	"strings"
	"unicode"
)

// Search finds case-insensitive occurrences of needle within single lines
// of tp. Each hit yields one quad spanning its first to its last glyph.
// At most maxHits quads are returned; maxHits <= 0 means no limit.
func (tp *TextPage) Search(needle string, maxHits int) []Quad {
	pattern := foldRunes(strings.TrimSpace(needle))
	if len(pattern) == 0 {
		return nil
	}

	var hits []Quad
	for _, blk := range tp.Blocks {
		for _, ln := range blk.Lines {
			for i := 0; i+len(pattern) <= len(ln.Chars); i++ {
				if !matchAt(ln.Chars, i, pattern) {
					continue
				}
				first, last := ln.Chars[i], ln.Chars[i+len(pattern)-1]
				hits = append(hits, Quad{
					UL: first.Quad.UL,
					UR: last.Quad.UR,
					LL: first.Quad.LL,
					LR: last.Quad.LR,
				})
				if maxHits > 0 && len(hits) >= maxHits {
					return hits
				}
				i += len(pattern) - 1
			}
		}
	}
	return hits
}

func matchAt(chars []Char, at int, pattern []rune) bool {
	for j, r := range pattern {
		c := chars[at+j].Rune
		if unicode.IsSpace(r) {
			if !unicode.IsSpace(c) {
				return false
			}
			continue
		}
		if unicode.ToLower(c) != r {
			return false
		}
	}
	return true
}

func foldRunes(s string) []rune {
	runes := []rune(s)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}
	return runes
}
