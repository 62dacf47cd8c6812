// Package recompute holds the handlers that restore derived state after a
// source document changes. Handlers only read; every write is returned as a
// triggers.PendingWrite.
package recompute

import (
	"context"
	"sort"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

// Handlers returns every recompute handler in registration order.
func Handlers() []triggers.Handler {
	return []triggers.Handler{
		HeaderMirror(),
		FeaturedLesson(),
		PublishedLessonCount(),
		ReviewFlag(),
		ResourceStatusEffects(),
		ResourceCascade(),
		ResourceTouch(),
		CardCascade(),
		CardTouch(),
		FeedbackPreview(),
		SubtopicFeaturedCount(),
		TopicFeaturedCount(),
		UploadMetadata(),
		UploadRemoved(),
		IdentityCreate(),
		IdentityDelete(),
	}
}

func logOf(env triggers.Env) *logger.Logger {
	if env.Log == nil {
		return logger.Nop()
	}
	return env.Log
}

// decodeResource returns nil for an absent or invalid snapshot; invalid is a
// missing-field no-op.
func decodeResource(env triggers.Env, s *docstore.Snapshot) *content.Resource {
	if s == nil {
		return nil
	}
	r, err := content.DecodeResource(s)
	if err != nil {
		logOf(env).Debug("resource snapshot rejected", "path", s.Path.String(), "error", err)
		return nil
	}
	return r
}

func decodeTopic(env triggers.Env, s *docstore.Snapshot) *content.Topic {
	if s == nil {
		return nil
	}
	t, err := content.DecodeTopic(s)
	if err != nil {
		logOf(env).Debug("topic snapshot rejected", "path", s.Path.String(), "error", err)
		return nil
	}
	return t
}

func decodeSubtopic(env triggers.Env, s *docstore.Snapshot) *content.Subtopic {
	if s == nil {
		return nil
	}
	st, err := content.DecodeSubtopic(s)
	if err != nil {
		logOf(env).Debug("subtopic snapshot rejected", "path", s.Path.String(), "error", err)
		return nil
	}
	return st
}

func publishedLessons(ctx context.Context, env triggers.Env, languageCode, subtopic string) ([]*docstore.Snapshot, error) {
	return env.Docs.Query(ctx, docstore.Collection(content.ResourcesCollection(languageCode)).
		Where(content.FieldSubtopic, subtopic).
		Where(content.FieldResourceType, string(content.ResourceTypeLesson)).
		Where(content.FieldStatus, string(content.StatusPublished)))
}

func featuredLessons(ctx context.Context, env triggers.Env, languageCode, subtopic string) ([]*docstore.Snapshot, error) {
	return env.Docs.Query(ctx, docstore.Collection(content.ResourcesCollection(languageCode)).
		Where(content.FieldSubtopic, subtopic).
		Where(content.FieldResourceType, string(content.ResourceTypeLesson)).
		Where(content.FieldStatus, string(content.StatusPublished)).
		Where(content.FieldIsFeatured, true))
}

func uniqueNonEmpty(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
