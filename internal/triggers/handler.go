package triggers

import "context"

// Params are the named path segments captured by a handler pattern.
type Params map[string]string

func (p Params) Get(name string) string { return p[name] }

type Handler interface {
	Name() string
	Kind() Kind
	Pattern() string
	Handle(ctx context.Context, env Env, ev Event, params Params) ([]PendingWrite, error)
}

type HandleFunc func(ctx context.Context, env Env, ev Event, params Params) ([]PendingWrite, error)

type funcHandler struct {
	name    string
	kind    Kind
	pattern string
	fn      HandleFunc
}

// NewHandler adapts a function to Handler.
func NewHandler(name string, kind Kind, pattern string, fn HandleFunc) Handler {
	return &funcHandler{name: name, kind: kind, pattern: pattern, fn: fn}
}

func (h *funcHandler) Name() string    { return h.name }
func (h *funcHandler) Kind() Kind      { return h.kind }
func (h *funcHandler) Pattern() string { return h.pattern }

func (h *funcHandler) Handle(ctx context.Context, env Env, ev Event, params Params) ([]PendingWrite, error) {
	return h.fn(ctx, env, ev, params)
}
