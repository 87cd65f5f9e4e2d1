package router

import (
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
)

// prefixTable holds values keyed by URI prefix in sorted order so the
// prefixes of a URI can be found without scanning every entry.
type prefixTable struct {
	tree *treemap.Map
}

func newPrefixTable() *prefixTable {
	return &prefixTable{tree: treemap.NewWithStringComparator()}
}

func (p *prefixTable) put(prefix string, v interface{}) {
	p.tree.Put(prefix, v)
}

func (p *prefixTable) get(prefix string) (interface{}, bool) {
	return p.tree.Get(prefix)
}

func (p *prefixTable) remove(prefix string) {
	p.tree.Remove(prefix)
}

func (p *prefixTable) size() int {
	return p.tree.Size()
}

// longest returns the value of the longest stored prefix of uri.
func (p *prefixTable) longest(uri string) (interface{}, bool) {
	var found interface{}
	ok := false
	p.walk(uri, func(_ string, v interface{}) bool {
		found, ok = v, true
		return false
	})
	return found, ok
}

// all returns the values of every stored prefix of uri, longest first.
func (p *prefixTable) all(uri string) []interface{} {
	var out []interface{}
	p.walk(uri, func(_ string, v interface{}) bool {
		out = append(out, v)
		return true
	})
	return out
}

// walk visits the stored prefixes of uri from longest to shortest until fn
// returns false. The greatest key not above the search key is either a
// prefix of uri or shares a strictly shorter common prefix with it, which
// becomes the next search key.
func (p *prefixTable) walk(uri string, fn func(string, interface{}) bool) {
	key := uri
	for key != "" {
		k, v := p.tree.Floor(key)
		if k == nil {
			return
		}
		ks := k.(string)
		if strings.HasPrefix(uri, ks) {
			if !fn(ks, v) {
				return
			}
			key = ks[:len(ks)-1]
			continue
		}
		key = uri[:commonPrefixLen(uri, ks)]
	}
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
