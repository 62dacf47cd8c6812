package worker

import "sync"

// versionTracker remembers the highest processed version per document path,
// bounded to capacity entries with oldest-first eviction.
type versionTracker struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]int64
	order    []string
}

func newVersionTracker(capacity int) *versionTracker {
	if capacity < 1 {
		capacity = 1
	}
	return &versionTracker{capacity: capacity, seen: make(map[string]int64)}
}

// Stale reports whether version is older than one already processed for path.
func (t *versionTracker) Stale(path string, version int64) bool {
	if version <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.seen[path]
	return ok && version < last
}

func (t *versionTracker) Observe(path string, version int64) {
	if version <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.seen[path]; ok {
		if version > last {
			t.seen[path] = version
		}
		return
	}
	for len(t.order) >= t.capacity {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.seen, oldest)
	}
	t.seen[path] = version
	t.order = append(t.order, path)
}

// Forget drops path so a document re-created after a delete, which starts
// again at version 1, is not compared against the previous incarnation.
func (t *versionTracker) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[path]; !ok {
		return
	}
	delete(t.seen, path)
	for i, p := range t.order {
		if p == path {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// pathLocks serializes executions that target the same path.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

func (p *pathLocks) Lock(path string) func() {
	p.mu.Lock()
	l, ok := p.locks[path]
	if !ok {
		l = &pathLock{}
		p.locks[path] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, path)
		}
		p.mu.Unlock()
	}
}
