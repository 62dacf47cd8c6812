// Package apply executes PendingWrites against the document and object stores.
package apply

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

// ObjectDeleter is the object-store capability the applier needs. Deleting a
// missing object is not an error.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type Result struct {
	Applied int
	Skipped int
}

type Applier struct {
	docs              docstore.Store
	objects           ObjectDeleter
	log               *logger.Logger
	objectConcurrency int
}

type Option func(*Applier)

// WithObjectConcurrency bounds concurrent object deletions per batch.
func WithObjectConcurrency(n int) Option {
	return func(a *Applier) {
		if n > 0 {
			a.objectConcurrency = n
		}
	}
}

func New(docs docstore.Store, objects ObjectDeleter, baseLog *logger.Logger, opts ...Option) *Applier {
	a := &Applier{
		docs:              docs,
		objects:           objects,
		log:               baseLog.With("component", "Applier"),
		objectConcurrency: 8,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply runs writes in order. Consecutive object deletions run concurrently and
// finish before the next document write starts. The first failure stops the run.
func (a *Applier) Apply(ctx context.Context, writes []triggers.PendingWrite) (Result, error) {
	var res Result
	var batch []triggers.PendingWrite
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := a.deleteObjects(ctx, batch)
		if err == nil {
			res.Applied += len(batch)
		}
		batch = batch[:0]
		return err
	}

	for _, w := range writes {
		if w.IsObjectOp() {
			batch = append(batch, w)
			continue
		}
		if err := flush(); err != nil {
			return res, err
		}
		applied, err := a.applyDocument(ctx, w)
		if err != nil {
			return res, fmt.Errorf("apply %s: %w", w, err)
		}
		if applied {
			res.Applied++
		} else {
			res.Skipped++
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

func (a *Applier) applyDocument(ctx context.Context, w triggers.PendingWrite) (bool, error) {
	switch w.Op {
	case triggers.OpSet:
		if w.IfChanged {
			cur, err := a.docs.Get(ctx, w.Path)
			if err != nil {
				return false, err
			}
			if cur != nil && sameDocument(cur.Data, w.Fields) {
				return false, nil
			}
		}
		return true, a.docs.Set(ctx, w.Path, w.Fields)

	case triggers.OpUpdate:
		cur, err := a.docs.Get(ctx, w.Path)
		if err != nil {
			return false, err
		}
		if cur == nil {
			a.log.Debug("update target missing; skipped", "path", w.Path.String(), "reason", w.Reason)
			return false, nil
		}
		if w.IfChanged && docstore.Matches(cur.Data, w.Fields) {
			return false, nil
		}
		err = a.docs.Update(ctx, w.Path, w.Fields)
		if errors.Is(err, docstore.ErrNotFound) {
			return false, nil
		}
		return err == nil, err

	case triggers.OpDelete:
		return true, a.docs.Delete(ctx, w.Path)

	default:
		return false, fmt.Errorf("unknown op %q", w.Op)
	}
}

func (a *Applier) deleteObjects(ctx context.Context, batch []triggers.PendingWrite) error {
	if a.objects == nil {
		return fmt.Errorf("object deletions requested without an object store")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.objectConcurrency)
	for _, w := range batch {
		w := w
		g.Go(func() error {
			var err error
			if w.Op == triggers.OpDeleteObjects {
				err = a.objects.DeletePrefix(gctx, w.Object)
			} else {
				err = a.objects.DeleteObject(gctx, w.Object)
			}
			if err != nil {
				return fmt.Errorf("apply %s: %w", w, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func sameDocument(current, proposed docstore.Fields) bool {
	normalized, err := docstore.Normalize(proposed)
	if err != nil {
		return false
	}
	return docstore.ValueEqual(map[string]any(current), map[string]any(normalized))
}
