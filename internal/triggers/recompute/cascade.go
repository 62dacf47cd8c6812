package recompute

import (
	"context"
	"fmt"
	"strings"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/change"
)

// ResourceCascade deletes the cards of a deleted resource and their uploads.
// The author comes from the pre-delete snapshot; the resource cannot be read
// afterwards.
func ResourceCascade() triggers.Handler {
	return triggers.NewHandler("resource.cascade", triggers.KindDocumentWrite, content.ResourcePattern, cascadeResource)
}

func cascadeResource(ctx context.Context, env triggers.Env, ev triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	ch := change.Classify(ev.Before, ev.After)
	if !ch.IsDeleted() {
		return nil, nil
	}
	resource := docstore.Path(ev.Path)
	authorID := ch.Before.String(content.FieldAuthorID)
	if authorID == "" {
		logOf(env).Warn("deleted resource has no author; card upload folders left in place", "path", ev.Path)
	}
	cards, err := env.Docs.Query(ctx, docstore.Collection(content.CardsCollection(resource)))
	if err != nil {
		return nil, fmt.Errorf("list cards of %s: %w", resource, err)
	}
	var writes []triggers.PendingWrite
	for _, card := range cards {
		writes = append(writes, cardUploads(card, authorID, params.Get("resourceId"), card.ID(), "resource deleted")...)
		writes = append(writes, triggers.Delete(card.Path, "resource deleted"))
	}
	return writes, nil
}

// cardUploads deletes a card's upload folder and, when its attachment is
// stored elsewhere, that object too.
func cardUploads(card *docstore.Snapshot, authorID, resourceID, cardID, reason string) []triggers.PendingWrite {
	var writes []triggers.PendingWrite
	prefix := ""
	if authorID != "" {
		prefix = content.UploadPrefix(authorID, resourceID, cardID)
		writes = append(writes, triggers.DeleteObjects(prefix, reason))
	}
	if card == nil {
		return writes
	}
	key := AttachmentKey(card.String(content.FieldAttachmentPath), authorID, resourceID, cardID)
	if key != "" && (prefix == "" || !strings.HasPrefix(key, prefix)) {
		writes = append(writes, triggers.DeleteObject(key, reason))
	}
	return writes
}

// CardCascade deletes the feedback and uploads of a deleted card and removes
// a replaced attachment.
func CardCascade() triggers.Handler {
	return triggers.NewHandler("card.cascade", triggers.KindDocumentWrite, content.CardPattern, cascadeCard)
}

func cascadeCard(ctx context.Context, env triggers.Env, ev triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	ch := change.Classify(ev.Before, ev.After)
	switch {
	case ch.IsDeleted():
		return deletedCard(ctx, env, ch.Before, params)
	case ch.IsUpdated() && ch.Changed(content.FieldAttachmentPath):
		return replacedAttachment(ctx, env, ch, params)
	default:
		return nil, nil
	}
}

func deletedCard(ctx context.Context, env triggers.Env, before *docstore.Snapshot, params triggers.Params) ([]triggers.PendingWrite, error) {
	card := before.Path
	authorID, err := parentAuthor(ctx, env, params)
	if err != nil {
		return nil, err
	}
	writes := cardUploads(before, authorID, params.Get("resourceId"), params.Get("cardId"), "card deleted")
	feedback, err := env.Docs.Query(ctx, docstore.Collection(content.FeedbackCollection(card)))
	if err != nil {
		return nil, fmt.Errorf("list feedback of %s: %w", card, err)
	}
	for _, fb := range feedback {
		writes = append(writes, triggers.Delete(fb.Path, "card deleted"))
	}
	return writes, nil
}

func replacedAttachment(ctx context.Context, env triggers.Env, ch change.Change, params triggers.Params) ([]triggers.PendingWrite, error) {
	old := ch.Before.String(content.FieldAttachmentPath)
	if old == "" {
		return nil, nil
	}
	authorID, err := parentAuthor(ctx, env, params)
	if err != nil {
		return nil, err
	}
	oldKey := AttachmentKey(old, authorID, params.Get("resourceId"), params.Get("cardId"))
	if oldKey == "" {
		return nil, nil
	}
	newKey := AttachmentKey(ch.After.String(content.FieldAttachmentPath), authorID, params.Get("resourceId"), params.Get("cardId"))
	if oldKey == newKey {
		return nil, nil
	}
	return []triggers.PendingWrite{triggers.DeleteObject(oldKey, "attachment replaced")}, nil
}

// parentAuthor returns "" when the parent resource is gone or has no author.
func parentAuthor(ctx context.Context, env triggers.Env, params triggers.Params) (string, error) {
	parentPath := content.ResourcePath(params.Get("languageCode"), params.Get("resourceId"))
	parent, err := env.Docs.Get(ctx, parentPath)
	if err != nil {
		return "", fmt.Errorf("load parent %s: %w", parentPath, err)
	}
	if parent == nil {
		logOf(env).Debug("parent resource gone", "resource", parentPath.String())
		return "", nil
	}
	return parent.String(content.FieldAuthorID), nil
}

// AttachmentKey resolves a card attachmentPath to an object key. Values already
// rooted at the uploads folder are used as-is; bare file names live under the
// card's upload prefix and need the author.
func AttachmentKey(attachmentPath, authorID, resourceID, cardID string) string {
	attachmentPath = strings.TrimLeft(strings.TrimSpace(attachmentPath), "/")
	switch {
	case attachmentPath == "":
		return ""
	case strings.HasPrefix(attachmentPath, content.UploadsRoot+"/"):
		return attachmentPath
	case authorID == "":
		return ""
	default:
		return content.UploadKey(authorID, resourceID, cardID, attachmentPath)
	}
}
