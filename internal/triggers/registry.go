package triggers

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrDuplicateHandler = errors.New("handler already registered")

type pattern struct {
	raw      string
	segments []string
}

func compilePattern(raw string) (pattern, error) {
	segs := strings.Split(strings.Trim(raw, "/"), "/")
	for _, s := range segs {
		if s == "" {
			return pattern{}, fmt.Errorf("pattern %q has an empty segment", raw)
		}
		if strings.HasPrefix(s, "{") != strings.HasSuffix(s, "}") || s == "{}" {
			return pattern{}, fmt.Errorf("pattern %q has a malformed parameter %q", raw, s)
		}
	}
	return pattern{raw: raw, segments: segs}, nil
}

func (p pattern) match(path string) (Params, bool) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) != len(p.segments) {
		return nil, false
	}
	params := Params{}
	for i, want := range p.segments {
		got := segs[i]
		if got == "" {
			return nil, false
		}
		if strings.HasPrefix(want, "{") {
			params[want[1:len(want)-1]] = got
			continue
		}
		if want != got {
			return nil, false
		}
	}
	return params, true
}

type entry struct {
	handler Handler
	pattern pattern
}

// Match is a handler selected for an event with its captured params.
type Match struct {
	Handler Handler
	Params  Params
}

type Registry struct {
	mu      sync.RWMutex
	entries []entry
	names   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	name := h.Name()
	if name == "" {
		return fmt.Errorf("handler Name() is empty")
	}
	if !h.Kind().Valid() {
		return fmt.Errorf("handler %s: unknown kind %q", name, h.Kind())
	}
	p, err := compilePattern(h.Pattern())
	if err != nil {
		return fmt.Errorf("handler %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.names[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, name)
	}
	r.names[name] = struct{}{}
	r.entries = append(r.entries, entry{handler: h, pattern: p})
	return nil
}

// RegisterAll stops at the first failure.
func (r *Registry) RegisterAll(hs ...Handler) error {
	for _, h := range hs {
		if err := r.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// Match returns every handler bound to the event's kind whose pattern matches,
// in registration order.
func (r *Registry) Match(ev Event) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Match
	for _, e := range r.entries {
		if e.handler.Kind() != ev.Kind {
			continue
		}
		if params, ok := e.pattern.match(ev.Path); ok {
			out = append(out, Match{Handler: e.handler, Params: params})
		}
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.handler.Name())
	}
	return out
}
