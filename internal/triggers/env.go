package triggers

import (
	"context"
	"time"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
)

// DefaultQuiescenceWindow bounds how close a last-touched marker may be to its
// stored value before the write is skipped.
const DefaultQuiescenceWindow = 5 * time.Minute

// ObjectAttrs is the metadata of a stored object.
type ObjectAttrs struct {
	Key         string
	Size        int64
	ContentType string
	Updated     time.Time
	Metadata    map[string]string
}

// ObjectReader fetches object metadata; nil, nil when the object does not exist.
type ObjectReader interface {
	ObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error)
}

// Policy holds the tunable recompute behavior.
type Policy struct {
	QuiescenceWindow            time.Duration `yaml:"quiescence_window"`
	DeleteHeadersOnSourceDelete bool          `yaml:"delete_headers_on_source_delete"`
	// HeaderFields overrides the mirrored field subset when non-empty.
	HeaderFields []string `yaml:"header_fields"`
}

func DefaultPolicy() Policy {
	return Policy{QuiescenceWindow: DefaultQuiescenceWindow}
}

// Env is the read-only capability set handed to a handler invocation.
type Env struct {
	Docs    docstore.Reader
	Objects ObjectReader
	// Now is the event time; handlers use it instead of the wall clock.
	Now    time.Time
	Policy Policy
	Log    *logger.Logger
}
