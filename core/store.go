package core

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrStoreClosed  = errors.New("store closed")
	ErrPrecondition = errors.New("precondition failed")
	invalidPathChar = ".#$[]"
)

type (
	// Store is a realtime JSON tree.
	// Writes are atomic per call; subscribers receive ordered snapshots of the path they watch.
	Store interface {
		Get(ctx context.Context, path string) (Snapshot, error)
		// Set replaces the value at path. A nil value (or an empty object) removes it.
		Set(ctx context.Context, path string, value interface{}) error
		// Update writes every path of values in a single all-or-nothing operation.
		Update(ctx context.Context, values map[string]interface{}) error
		// UpdateIfExists is Update guarded by required paths: when any of them holds no value at commit
		// time nothing is written and ErrPrecondition is returned.
		UpdateIfExists(ctx context.Context, values map[string]interface{}, required ...string) error
		// Push stores value under a new chronologically sortable child key of path.
		Push(ctx context.Context, path string, value interface{}) (string, error)
		Remove(ctx context.Context, path string) error
		// Subscribe calls fn with the current snapshot of path, then once per change of that value.
		// The subscription ends with Close or when ctx is done.
		Subscribe(ctx context.Context, path string, fn Listener) (Subscription, error)
	}

	Listener func(Snapshot)

	Subscription interface {
		Close()
	}

	// Snapshot is an immutable view of the value at Path.
	Snapshot struct {
		Path  string
		Value interface{}
	}
)

func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Decode converts the snapshot value into dst (any json.Unmarshal target).
func (s Snapshot) Decode(dst interface{}) error {
	if s.Value == nil {
		return nil
	}
	data, err := json.Marshal(s.Value)
	if err != nil {
		return errors.Wrap(err, "marshalling snapshot")
	}
	return errors.Wrap(json.Unmarshal(data, dst), "decoding snapshot")
}

// Child returns the snapshot of a direct child.
func (s Snapshot) Child(name string) Snapshot {
	child := Snapshot{Path: JoinPath(s.Path, name)}
	if m, ok := s.Value.(map[string]interface{}); ok {
		child.Value = m[name]
	}
	return child
}

// Keys returns the sorted child keys.
func (s Snapshot) Keys() []string {
	m, ok := s.Value.(map[string]interface{})
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JoinPath joins path segments with "/".
func JoinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// SplitPath validates path and returns its segments.
func SplitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, errors.Wrap(ErrInvalidPath, "empty path")
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if s == "" || strings.ContainsAny(s, invalidPathChar) {
			return nil, errors.Wrapf(ErrInvalidPath, "%q", path)
		}
	}
	return segments, nil
}

// PathSegment returns an error if s cannot be used as a single path segment.
func PathSegment(s string) error {
	if s == "" || strings.ContainsAny(s, invalidPathChar+"/") {
		return errors.Wrapf(ErrInvalidPath, "segment %q", s)
	}
	return nil
}
