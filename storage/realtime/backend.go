package realtime

import (
	"sort"
)

// Stage runs fn over a copy of before and returns the documents it changed (nil value = deleted).
func Stage(before Docs, fn func(Docs) error) (Docs, error) {
	after := copyDocs(before)
	if err := fn(after); err != nil {
		return nil, err
	}
	return diff(before, after), nil
}

// Root returns the root segment of a document key.
func Root(key string) string {
	return rootOf(key)
}

// Keys returns the sorted keys of docs.
func (d Docs) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
