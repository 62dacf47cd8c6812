package docstore

import (
	"context"
	"time"
)

// Snapshot is a read-only view of a document at one version. A nil *Snapshot
// means the document does not exist.
type Snapshot struct {
	Path       Path      `json:"path"`
	Data       Fields    `json:"data"`
	Version    int64     `json:"version"`
	UpdateTime time.Time `json:"updateTime"`
}

func (s *Snapshot) Exists() bool { return s != nil }

func (s *Snapshot) ID() string {
	if s == nil {
		return ""
	}
	return s.Path.ID()
}

func (s *Snapshot) Lookup(field string) (any, bool) {
	if s == nil {
		return nil, false
	}
	return s.Data.Lookup(field)
}

func (s *Snapshot) String(field string) string {
	if s == nil {
		return ""
	}
	return s.Data.String(field)
}

func (s *Snapshot) Bool(field string) bool {
	if s == nil {
		return false
	}
	return s.Data.Bool(field)
}

func (s *Snapshot) Time(field string) time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.Data.Time(field)
}

// Change is the before/after pair produced by one committed write.
type Change struct {
	ID     string    `json:"id"`
	Path   Path      `json:"path"`
	Before *Snapshot `json:"before,omitempty"`
	After  *Snapshot `json:"after,omitempty"`
	Time   time.Time `json:"time"`
}

// Notifier receives every committed change. Delivery order per path follows commit order.
type Notifier interface {
	NotifyWrite(ctx context.Context, ch Change) error
}

type NotifierFunc func(ctx context.Context, ch Change) error

func (f NotifierFunc) NotifyWrite(ctx context.Context, ch Change) error { return f(ctx, ch) }
