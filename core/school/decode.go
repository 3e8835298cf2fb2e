package school

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
)

// BatchesFromSnapshot decodes a batches snapshot, ordered by creation then id.
func BatchesFromSnapshot(snap core.Snapshot) ([]Batch, error) {
	var m map[string]Batch
	if err := snap.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "decoding batches")
	}
	batches := make([]Batch, 0, len(m))
	for id, b := range m {
		batches = append(batches, fillBatch(id, b))
	}
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].CreatedAt != batches[j].CreatedAt {
			return batches[i].CreatedAt < batches[j].CreatedAt
		}
		return batches[i].ID < batches[j].ID
	})
	return batches, nil
}

// BatchFromSnapshot decodes a single batch snapshot; ok is false when it does not exist.
func BatchFromSnapshot(snap core.Snapshot, id string) (Batch, bool, error) {
	if !snap.Exists() {
		return Batch{}, false, nil
	}
	var b Batch
	if err := snap.Decode(&b); err != nil {
		return Batch{}, false, errors.Wrap(err, "decoding batch")
	}
	return fillBatch(id, b), true, nil
}

// fillBatch sets the ids from the tree keys, which are authoritative.
func fillBatch(id string, b Batch) Batch {
	b.ID = id
	for sid, s := range b.Students {
		if s.ID != sid {
			s.ID = sid
			b.Students[sid] = s
		}
	}
	return b
}

// NoticesFromSnapshot decodes a notices snapshot, newest first.
func NoticesFromSnapshot(snap core.Snapshot) ([]Notice, error) {
	var m map[string]Notice
	if err := snap.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "decoding notices")
	}
	notices := make([]Notice, 0, len(m))
	for id, n := range m {
		n.ID = id
		notices = append(notices, n)
	}
	sort.Slice(notices, func(i, j int) bool {
		if notices[i].CreatedAt != notices[j].CreatedAt {
			return notices[i].CreatedAt > notices[j].CreatedAt
		}
		return notices[i].ID > notices[j].ID
	})
	return notices, nil
}
