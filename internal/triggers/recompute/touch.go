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

var authoredCardFields = []string{content.FieldText, content.FieldAttachmentPath}

// CardTouch bumps the parent resource's dateUpdated when a card is edited.
func CardTouch() triggers.Handler {
	return triggers.NewHandler("card.touch", triggers.KindDocumentWrite, content.CardPattern, touchParent)
}

func touchParent(ctx context.Context, env triggers.Env, ev triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	ch := change.Classify(ev.Before, ev.After)
	if !ch.IsCreated() && !(ch.IsUpdated() && ch.ChangedAny(authoredCardFields...)) {
		return nil, nil
	}
	parentPath := content.ResourcePath(params.Get("languageCode"), params.Get("resourceId"))
	parent, err := env.Docs.Get(ctx, parentPath)
	if err != nil {
		return nil, fmt.Errorf("load parent %s: %w", parentPath, err)
	}
	fields, ok := guard.Touch(parent, content.FieldDateUpdated, env.Now, env.Policy.QuiescenceWindow)
	if !ok {
		return nil, nil
	}
	return []triggers.PendingWrite{triggers.Update(parentPath, fields, "card edited")}, nil
}

// ResourceTouch bumps a resource's own dateUpdated when an authored field changes.
func ResourceTouch() triggers.Handler {
	return triggers.NewHandler("resource.touch", triggers.KindDocumentWrite, content.ResourcePattern, touchSelf)
}

func touchSelf(_ context.Context, env triggers.Env, ev triggers.Event, _ triggers.Params) ([]triggers.PendingWrite, error) {
	ch := change.Classify(ev.Before, ev.After)
	if !ch.IsUpdated() || !ch.ChangedAny(content.AuthoredResourceFields...) {
		return nil, nil
	}
	fields, ok := guard.Touch(ch.After, content.FieldDateUpdated, env.Now, env.Policy.QuiescenceWindow)
	if !ok {
		return nil, nil
	}
	return []triggers.PendingWrite{triggers.Update(docstore.Path(ev.Path), fields, "resource edited")}, nil
}
