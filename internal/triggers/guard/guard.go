// Package guard keeps recompute writes from re-triggering themselves.
package guard

import (
	"time"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
)

// Quiescent reports whether proposed lies within window of previous, in which
// case the write should be skipped. A zero previous never suppresses.
func Quiescent(previous, proposed time.Time, window time.Duration) bool {
	if previous.IsZero() || window <= 0 {
		return false
	}
	d := proposed.Sub(previous)
	if d < 0 {
		d = -d
	}
	return d < window
}

// Touch proposes field = now on doc unless the stored value is quiescent.
func Touch(doc *docstore.Snapshot, field string, now time.Time, window time.Duration) (docstore.Fields, bool) {
	if doc == nil {
		return nil, false
	}
	if Quiescent(doc.Time(field), now, window) {
		return nil, false
	}
	return docstore.Fields{field: now.UTC()}, true
}

// ExcludePath drops the document at self by full path. Content is never compared.
func ExcludePath(snaps []*docstore.Snapshot, self docstore.Path) []*docstore.Snapshot {
	out := make([]*docstore.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if s == nil || s.Path == self {
			continue
		}
		out = append(out, s)
	}
	return out
}
