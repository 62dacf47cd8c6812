// Package change classifies a before/after snapshot pair.
package change

import "github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"

type Kind int

const (
	NoOp Kind = iota
	Created
	Updated
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "noop"
	}
}

type Change struct {
	Kind   Kind
	Before *docstore.Snapshot
	After  *docstore.Snapshot
}

// Classify treats a transition to or from "does not exist" as Created or
// Deleted, never as an Updated with empty fields.
func Classify(before, after *docstore.Snapshot) Change {
	c := Change{Before: before, After: after}
	switch {
	case before == nil && after == nil:
		c.Kind = NoOp
	case before == nil:
		c.Kind = Created
	case after == nil:
		c.Kind = Deleted
	default:
		c.Kind = Updated
	}
	return c
}

func (c Change) IsCreated() bool { return c.Kind == Created }
func (c Change) IsUpdated() bool { return c.Kind == Updated }
func (c Change) IsDeleted() bool { return c.Kind == Deleted }

// Current is the latest existing state: After, or Before for a delete.
func (c Change) Current() *docstore.Snapshot {
	if c.After != nil {
		return c.After
	}
	return c.Before
}

// Changed compares the field across the pair. Absent differs from every present
// value, including "", false and null.
func (c Change) Changed(field string) bool {
	prev, hadPrev := c.Before.Lookup(field)
	cur, hasCur := c.After.Lookup(field)
	if hadPrev != hasCur {
		return true
	}
	if !hadPrev {
		return false
	}
	return !docstore.ValueEqual(prev, cur)
}

func (c Change) ChangedAny(fields ...string) bool {
	for _, f := range fields {
		if c.Changed(f) {
			return true
		}
	}
	return false
}

// Interesting reports a create, a delete, or an update touching any of fields.
func (c Change) Interesting(fields ...string) bool {
	switch c.Kind {
	case Created, Deleted:
		return true
	case Updated:
		return c.ChangedAny(fields...)
	default:
		return false
	}
}
