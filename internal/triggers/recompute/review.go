package recompute

import (
	"context"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/change"
)

// ReviewFlag persists status in (awaiting_review, changes_requested) as one
// boolean so readers can filter on a single equality.
func ReviewFlag() triggers.Handler {
	return triggers.NewHandler("resource.review_flag", triggers.KindDocumentWrite, content.ResourcePattern, deriveReviewFlag)
}

func deriveReviewFlag(_ context.Context, env triggers.Env, ev triggers.Event, _ triggers.Params) ([]triggers.PendingWrite, error) {
	ch := change.Classify(ev.Before, ev.After)
	if !ch.IsCreated() && !(ch.IsUpdated() && ch.Changed(content.FieldStatus)) {
		return nil, nil
	}
	cur := decodeResource(env, ch.After)
	if cur == nil {
		return nil, nil
	}
	flag := cur.Status.AwaitingReviewOrChangesRequested()
	return []triggers.PendingWrite{
		triggers.Update(docstore.Path(ev.Path), docstore.Fields{content.FieldAwaitingReview: flag}, "review flag").OnlyIfChanged(),
	}, nil
}
