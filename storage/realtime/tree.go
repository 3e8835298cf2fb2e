package realtime

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
)

// Docs holds top-level documents by key ("schools/s1", "admins/bob"); a nil value means absent.
type Docs map[string]interface{}

// docKey returns the document key of a path with at least 2 segments.
func docKey(segs []string) string {
	return segs[0] + "/" + segs[1]
}

// rootOf returns the first segment of a document key.
func rootOf(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}

// normalize turns any JSON encodable value into a generic, pruned JSON tree.
func normalize(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "encoding value")
	}
	var generic interface{}
	if err = json.Unmarshal(data, &generic); err != nil {
		return nil, errors.Wrap(err, "decoding value")
	}
	return prune(generic), nil
}

// prune removes nil leaves and empty objects.
func prune(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	for k, child := range m {
		if child = prune(child); child == nil {
			delete(m, k)
		} else {
			m[k] = child
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// getAt returns the value found under segs, or nil.
func getAt(node interface{}, segs []string) interface{} {
	for _, s := range segs {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node = m[s]
	}
	return node
}

// setAt returns a copy of node with value stored under segs. Only the maps along segs are copied,
// so values previously handed out in snapshots are never mutated.
func setAt(node interface{}, segs []string, value interface{}) interface{} {
	if len(segs) == 0 {
		return value
	}
	orig, _ := node.(map[string]interface{})
	m := make(map[string]interface{}, len(orig)+1)
	for k, v := range orig {
		m[k] = v
	}
	child := setAt(m[segs[0]], segs[1:], value)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// write describes one path assignment of a Store operation.
type write struct {
	path  string
	segs  []string
	value interface{}
}

// planWrites validates and normalizes a multi-path update.
func planWrites(values map[string]interface{}) ([]write, error) {
	writes := make([]write, 0, len(values))
	for path, value := range values {
		segs, err := core.SplitPath(path)
		if err != nil {
			return nil, err
		}
		norm, err := normalize(value)
		if err != nil {
			return nil, errors.Wrapf(err, "path %q", path)
		}
		writes = append(writes, write{path: strings.Join(segs, "/"), segs: segs, value: norm})
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].path < writes[j].path })
	for i := 1; i < len(writes); i++ {
		if strings.HasPrefix(writes[i].path, writes[i-1].path+"/") || writes[i].path == writes[i-1].path {
			return nil, errors.Wrapf(core.ErrInvalidPath, "overlapping paths %q and %q", writes[i-1].path, writes[i].path)
		}
	}
	return writes, nil
}

// scope lists the document keys and whole roots touched by writes.
func scope(writes []write) (keys, roots []string) {
	seenKeys := make(map[string]bool)
	seenRoots := make(map[string]bool)
	for _, w := range writes {
		if len(w.segs) == 1 {
			if !seenRoots[w.segs[0]] {
				seenRoots[w.segs[0]] = true
				roots = append(roots, w.segs[0])
			}
			continue
		}
		if k := docKey(w.segs); !seenKeys[k] {
			seenKeys[k] = true
			keys = append(keys, k)
		}
	}
	return keys, roots
}

// planGuards validates the paths an update requires; each must lie inside a document.
func planGuards(required []string) ([][]string, error) {
	guards := make([][]string, 0, len(required))
	for _, path := range required {
		segs, err := core.SplitPath(path)
		if err != nil {
			return nil, err
		}
		if len(segs) < 2 {
			return nil, errors.Wrapf(core.ErrInvalidPath, "required path %q names a root", path)
		}
		guards = append(guards, segs)
	}
	return guards, nil
}

// guardScope adds the documents holding guards to keys.
func guardScope(keys []string, guards [][]string) []string {
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	for _, g := range guards {
		if k := docKey(g); !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// checkGuards fails with core.ErrPrecondition when a guarded path holds no value in docs.
func checkGuards(docs Docs, guards [][]string) error {
	for _, g := range guards {
		if getAt(docs[docKey(g)], g[2:]) == nil {
			return errors.Wrapf(core.ErrPrecondition, "%q is missing", strings.Join(g, "/"))
		}
	}
	return nil
}

// apply runs writes against docs (which must already hold every document in scope).
func apply(docs Docs, writes []write) {
	for _, w := range writes {
		if len(w.segs) == 1 {
			root := w.segs[0]
			for k := range docs {
				if rootOf(k) == root {
					docs[k] = nil
				}
			}
			if m, ok := w.value.(map[string]interface{}); ok {
				for child, doc := range m {
					docs[root+"/"+child] = doc
				}
			}
			continue
		}
		k := docKey(w.segs)
		docs[k] = setAt(docs[k], w.segs[2:], w.value)
	}
}

// diff returns the documents whose value changed between before and after (nil = deleted).
func diff(before, after Docs) Docs {
	changed := make(Docs)
	for k, v := range after {
		if !reflect.DeepEqual(before[k], v) {
			changed[k] = v
		}
	}
	for k, v := range before {
		if _, ok := after[k]; !ok && v != nil {
			changed[k] = nil
		}
	}
	return changed
}

// copyDocs returns a shallow copy of docs.
func copyDocs(docs Docs) Docs {
	c := make(Docs, len(docs))
	for k, v := range docs {
		c[k] = v
	}
	return c
}

// collection builds the value of a root path out of its documents.
func collection(root string, docs Docs) interface{} {
	m := make(map[string]interface{})
	prefix := root + "/"
	for k, v := range docs {
		if v != nil && strings.HasPrefix(k, prefix) {
			m[k[len(prefix):]] = v
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
