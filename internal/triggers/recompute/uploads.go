package recompute

import (
	"context"
	"fmt"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

// MetadataLanguageCode is the custom object metadata key naming the content
// language of an upload; the object key does not carry it.
const MetadataLanguageCode = "languageCode"

// UploadMetadata records a finalized upload on its card.
func UploadMetadata() triggers.Handler {
	return triggers.NewHandler("upload.metadata", triggers.KindObjectFinalize, content.UploadPattern, recordUpload)
}

func recordUpload(ctx context.Context, env triggers.Env, ev triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	if env.Objects == nil {
		return nil, nil
	}
	attrs, err := env.Objects.ObjectAttrs(ctx, ev.Path)
	if err != nil {
		return nil, fmt.Errorf("object attrs %s: %w", ev.Path, err)
	}
	if attrs == nil {
		logOf(env).Debug("upload gone before metadata read", "object", ev.Path)
		return nil, nil
	}
	lang := attrs.Metadata[MetadataLanguageCode]
	if lang == "" && ev.Object != nil {
		lang = ev.Object.Metadata[MetadataLanguageCode]
	}
	if lang == "" {
		logOf(env).Debug("upload has no language metadata", "object", ev.Path)
		return nil, nil
	}
	cardPath := content.CardPath(lang, params.Get("resourceId"), params.Get("cardId"))
	card, err := env.Docs.Get(ctx, cardPath)
	if err != nil {
		return nil, fmt.Errorf("load card %s: %w", cardPath, err)
	}
	if card == nil {
		return nil, nil
	}
	return []triggers.PendingWrite{
		triggers.Update(cardPath, docstore.Fields{
			content.FieldAttachmentPath: params.Get("fileName"),
			content.FieldAttachmentType: attrs.ContentType,
			content.FieldAttachmentSize: attrs.Size,
		}, "upload finalized").OnlyIfChanged(),
	}, nil
}

// UploadRemoved clears attachment fields of a card whose current attachment
// was deleted from the object store.
func UploadRemoved() triggers.Handler {
	return triggers.NewHandler("upload.removed", triggers.KindObjectDelete, content.UploadPattern, clearUpload)
}

func clearUpload(ctx context.Context, env triggers.Env, ev triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	if ev.Object == nil || ev.Object.Metadata[MetadataLanguageCode] == "" {
		return nil, nil
	}
	cardPath := content.CardPath(ev.Object.Metadata[MetadataLanguageCode], params.Get("resourceId"), params.Get("cardId"))
	card, err := env.Docs.Get(ctx, cardPath)
	if err != nil {
		return nil, fmt.Errorf("load card %s: %w", cardPath, err)
	}
	if card == nil {
		return nil, nil
	}
	current := AttachmentKey(card.String(content.FieldAttachmentPath), params.Get("authorId"), params.Get("resourceId"), params.Get("cardId"))
	if current != ev.Path {
		return nil, nil
	}
	return []triggers.PendingWrite{
		triggers.Update(cardPath, docstore.Fields{
			content.FieldAttachmentPath: docstore.DeleteField,
			content.FieldAttachmentType: docstore.DeleteField,
			content.FieldAttachmentSize: docstore.DeleteField,
		}, "attachment deleted").OnlyIfChanged(),
	}, nil
}
