package recompute

import (
	"context"
	"fmt"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/change"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/guard"
)

var featuredInterest = []string{
	content.FieldIsFeatured,
	content.FieldStatus,
	content.FieldSubtopic,
	content.FieldResourceType,
}

// FeaturedLesson keeps one featured published lesson per subtopic. Concurrent
// writers converge; nothing here is atomic.
func FeaturedLesson() triggers.Handler {
	return triggers.NewHandler("resource.featured", triggers.KindDocumentWrite, content.ResourcePattern, enforceFeatured)
}

func enforceFeatured(ctx context.Context, env triggers.Env, ev triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	ch := change.Classify(ev.Before, ev.After)
	if !ch.Interesting(featuredInterest...) {
		return nil, nil
	}
	lang := params.Get("languageCode")
	self := docstore.Path(ev.Path)
	prev := decodeResource(env, ch.Before)
	cur := decodeResource(env, ch.After)

	var writes []triggers.PendingWrite
	if cur.IsPublishedLesson() {
		featured, err := featuredLessons(ctx, env, lang, cur.Subtopic)
		if err != nil {
			return nil, fmt.Errorf("query featured lessons in %s: %w", cur.Subtopic, err)
		}
		siblings := guard.ExcludePath(featured, self)
		if cur.IsFeatured {
			for _, s := range siblings {
				writes = append(writes, triggers.Update(s.Path, docstore.Fields{content.FieldIsFeatured: false}, "another lesson featured").OnlyIfChanged())
			}
		} else if len(siblings) == 0 {
			writes = append(writes, triggers.Update(self, docstore.Fields{content.FieldIsFeatured: true}, "no featured lesson in subtopic").OnlyIfChanged())
		}
	}

	stillHere := cur.IsPublishedLesson() && prev != nil && cur.Subtopic == prev.Subtopic
	if prev.IsPublishedLesson() && prev.IsFeatured && !stillHere {
		w, err := replacementFeatured(ctx, env, lang, prev.Subtopic, self)
		if err != nil {
			return nil, err
		}
		writes = append(writes, w...)
	}
	return writes, nil
}

// replacementFeatured features the most recently updated published lesson of a
// subtopic that lost its featured lesson, unless one is already featured.
func replacementFeatured(ctx context.Context, env triggers.Env, lang, subtopic string, self docstore.Path) ([]triggers.PendingWrite, error) {
	lessons, err := publishedLessons(ctx, env, lang, subtopic)
	if err != nil {
		return nil, fmt.Errorf("query published lessons in %s: %w", subtopic, err)
	}
	candidates := guard.ExcludePath(lessons, self)
	var best *docstore.Snapshot
	for _, c := range candidates {
		if c.Bool(content.FieldIsFeatured) {
			return nil, nil
		}
		if best == nil || newer(c, best) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	return []triggers.PendingWrite{
		triggers.Update(best.Path, docstore.Fields{content.FieldIsFeatured: true}, "replace featured lesson").OnlyIfChanged(),
	}, nil
}

func newer(a, b *docstore.Snapshot) bool {
	ta, tb := a.Time(content.FieldDateUpdated), b.Time(content.FieldDateUpdated)
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.Path < b.Path
}
