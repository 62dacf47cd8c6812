package docstore

import (
	"fmt"
	"strings"
)

// Path addresses a document (even number of segments) or a collection (odd number).
type Path string

// Join builds a path from raw segments, trimming stray slashes.
func Join(segments ...string) Path {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(strings.TrimSpace(s), "/")
		if s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return Path(strings.Join(parts, "/"))
}

func (p Path) String() string { return string(p) }

func (p Path) Segments() []string {
	s := strings.Trim(string(p), "/")
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

func (p Path) IsDocument() bool {
	n := len(p.Segments())
	return n > 0 && n%2 == 0
}

func (p Path) IsCollection() bool {
	return len(p.Segments())%2 == 1
}

// ID is the last segment.
func (p Path) ID() string {
	segs := p.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Parent of a document is its collection; parent of a collection is the owning document.
func (p Path) Parent() Path {
	segs := p.Segments()
	if len(segs) <= 1 {
		return ""
	}
	return Path(strings.Join(segs[:len(segs)-1], "/"))
}

func (p Path) Child(segments ...string) Path {
	return Join(append([]string{string(p)}, segments...)...)
}

func validateDocumentPath(p Path) error {
	if !p.IsDocument() {
		return fmt.Errorf("%w: %q is not a document path", ErrInvalidPath, string(p))
	}
	for _, s := range p.Segments() {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, string(p))
		}
	}
	return nil
}

func validateCollectionPath(p Path) error {
	if !p.IsCollection() {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, string(p))
	}
	return nil
}
