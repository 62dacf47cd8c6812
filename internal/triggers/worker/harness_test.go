package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/testutil"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/gcp"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/realtime/bus"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/apply"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/recompute"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/worker"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// harness wires the sqlite store, the in-memory bus and bucket, and the full
// recompute handler set the way the service does.
type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  *fakeClock
	store  *docstore.GormStore
	bus    *bus.MemoryBus
	bucket *gcp.MemoryBucket
	exec   *worker.InlineExecutor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	log := testutil.Logger(t)
	store := testutil.Store(t, docstore.WithClock(clock.Now))
	mb := bus.NewMemoryBus(log, 3)
	store.SetNotifier(bus.DocumentNotifier(mb))
	bucket := gcp.NewMemoryBucket()

	registry := triggers.NewRegistry()
	if err := registry.RegisterAll(recompute.Handlers()...); err != nil {
		t.Fatalf("register: %v", err)
	}
	exec := worker.NewInlineExecutor(registry, store, apply.BucketObjects(bucket), log, worker.WithClock(clock.Now))
	return &harness{t: t, ctx: context.Background(), clock: clock, store: store, bus: mb, bucket: bucket, exec: exec}
}

func (h *harness) set(path docstore.Path, f docstore.Fields) {
	h.t.Helper()
	if err := h.store.Set(h.ctx, path, f); err != nil {
		h.t.Fatalf("Set %s: %v", path, err)
	}
}

func (h *harness) update(path docstore.Path, f docstore.Fields) {
	h.t.Helper()
	if err := h.store.Update(h.ctx, path, f); err != nil {
		h.t.Fatalf("Update %s: %v", path, err)
	}
}

func (h *harness) remove(path docstore.Path) {
	h.t.Helper()
	if err := h.store.Delete(h.ctx, path); err != nil {
		h.t.Fatalf("Delete %s: %v", path, err)
	}
}

func (h *harness) get(path docstore.Path) *docstore.Snapshot {
	h.t.Helper()
	snap, err := h.store.Get(h.ctx, path)
	if err != nil {
		h.t.Fatalf("Get %s: %v", path, err)
	}
	return snap
}

func (h *harness) drain() {
	h.t.Helper()
	if _, err := worker.Drain(h.ctx, h.bus, h.exec, 500); err != nil {
		h.t.Fatalf("Drain: %v", err)
	}
}

func (h *harness) execute(ev triggers.Event) {
	h.t.Helper()
	if err := h.exec.Execute(h.ctx, ev); err != nil {
		h.t.Fatalf("Execute %s %s: %v", ev.Kind, ev.Path, err)
	}
	h.drain()
}
