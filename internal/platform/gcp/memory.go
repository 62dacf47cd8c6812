package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/dbctx"
)

type memoryObject struct {
	data  []byte
	attrs ObjectAttrs
}

// MemoryBucket is an in-process Bucket for local mode and tests.
type MemoryBucket struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	now     func() time.Time
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{
		objects: make(map[string]memoryObject),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryBucket) UploadFile(dbc dbctx.Context, key string, file io.Reader, metadata map[string]string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		return fmt.Errorf("read upload %q: %w", key, err)
	}
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{
		data: buf.Bytes(),
		attrs: ObjectAttrs{
			Key:         key,
			Size:        int64(buf.Len()),
			ContentType: contentTypeForKey(key),
			Updated:     m.now(),
			Metadata:    md,
		},
	}
	return nil
}

func (m *MemoryBucket) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryBucket) DeletePrefix(_ context.Context, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("refusing to delete an empty prefix")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
		}
	}
	return nil
}

func (m *MemoryBucket) ListKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{}
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryBucket) ObjectAttrs(_ context.Context, key string) (*ObjectAttrs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, nil
	}
	attrs := obj.attrs
	return &attrs, nil
}
