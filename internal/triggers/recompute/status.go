package recompute

import (
	"context"
	"fmt"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/change"
)

// ResourceStatusEffects locks all feedback of a resource whose status changed
// and hides feedback previews while it is in review or published. Locking is
// one-way.
func ResourceStatusEffects() triggers.Handler {
	return triggers.NewHandler("resource.status_effects", triggers.KindDocumentWrite, content.ResourcePattern, applyStatusEffects)
}

func applyStatusEffects(ctx context.Context, env triggers.Env, ev triggers.Event, _ triggers.Params) ([]triggers.PendingWrite, error) {
	ch := change.Classify(ev.Before, ev.After)
	if !ch.IsUpdated() || !ch.Changed(content.FieldStatus) {
		return nil, nil
	}
	cur := decodeResource(env, ch.After)
	if cur == nil {
		return nil, nil
	}
	resource := docstore.Path(ev.Path)
	cards, err := env.Docs.Query(ctx, docstore.Collection(content.CardsCollection(resource)))
	if err != nil {
		return nil, fmt.Errorf("list cards of %s: %w", resource, err)
	}

	var writes []triggers.PendingWrite
	for _, card := range cards {
		feedback, err := env.Docs.Query(ctx, docstore.Collection(content.FeedbackCollection(card.Path)))
		if err != nil {
			return nil, fmt.Errorf("list feedback of %s: %w", card.Path, err)
		}
		for _, fb := range feedback {
			if fb.Bool(content.FieldLocked) {
				continue
			}
			writes = append(writes, triggers.Update(fb.Path, docstore.Fields{content.FieldLocked: true}, "resource status changed").OnlyIfChanged())
		}
		if cur.Status.ClearsFeedbackPreview() {
			writes = append(writes, triggers.Update(card.Path, clearedPreview(), "status hides feedback preview").OnlyIfChanged())
		}
	}
	return writes, nil
}

func clearedPreview() docstore.Fields {
	return docstore.Fields{
		content.FieldPreviewComment:     docstore.DeleteField,
		content.FieldPreviewCommentPath: docstore.DeleteField,
	}
}
