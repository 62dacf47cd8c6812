package recompute

import (
	"context"
	"fmt"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

// FeedbackPreview shows the latest unlocked reviewer comment on the card.
func FeedbackPreview() triggers.Handler {
	return triggers.NewHandler("feedback.preview", triggers.KindDocumentWrite, content.FeedbackPattern, selectPreview)
}

func selectPreview(ctx context.Context, env triggers.Env, _ triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	cardPath := content.CardPath(params.Get("languageCode"), params.Get("resourceId"), params.Get("cardId"))
	card, err := env.Docs.Get(ctx, cardPath)
	if err != nil {
		return nil, fmt.Errorf("load card %s: %w", cardPath, err)
	}
	if card == nil {
		logOf(env).Debug("feedback preview skipped; card gone", "card", cardPath.String())
		return nil, nil
	}
	latest, err := env.Docs.Query(ctx, docstore.Collection(content.FeedbackCollection(cardPath)).
		Where(content.FieldReviewerComment, true).
		Where(content.FieldLocked, false).
		OrderByDesc(content.FieldDateUpdated).
		WithLimit(1))
	if err != nil {
		return nil, fmt.Errorf("query feedback of %s: %w", cardPath, err)
	}
	if len(latest) == 0 {
		return []triggers.PendingWrite{
			triggers.Update(cardPath, clearedPreview(), "no open reviewer feedback").OnlyIfChanged(),
		}, nil
	}
	fb := latest[0]
	return []triggers.PendingWrite{
		triggers.Update(cardPath, docstore.Fields{
			content.FieldPreviewComment:     fb.String(content.FieldCommentText),
			content.FieldPreviewCommentPath: fb.Path.String(),
		}, "latest reviewer feedback").OnlyIfChanged(),
	}, nil
}
