package recompute

import (
	"context"
	"fmt"
	"sort"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/change"
)

// PublishedLessonCount recounts published lessons for the subtopics a resource
// left and entered. Counts are always recomputed from a query.
func PublishedLessonCount() triggers.Handler {
	return triggers.NewHandler("resource.published_count", triggers.KindDocumentWrite, content.ResourcePattern, countPublishedLessons)
}

func countPublishedLessons(ctx context.Context, env triggers.Env, ev triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	ch := change.Classify(ev.Before, ev.After)
	if !ch.Interesting(featuredInterest...) {
		return nil, nil
	}
	lang := params.Get("languageCode")
	var subtopics []string
	if r := decodeResource(env, ch.Before); r != nil {
		subtopics = append(subtopics, r.Subtopic)
	}
	if r := decodeResource(env, ch.After); r != nil {
		subtopics = append(subtopics, r.Subtopic)
	}

	var writes []triggers.PendingWrite
	for _, sub := range uniqueNonEmpty(subtopics...) {
		lessons, err := publishedLessons(ctx, env, lang, sub)
		if err != nil {
			return nil, fmt.Errorf("count published lessons in %s: %w", sub, err)
		}
		n := len(lessons)
		writes = append(writes, triggers.Update(content.SubtopicPath(lang, sub), docstore.Fields{content.FieldPublishedLessonCount: n}, "published lesson count"))
		for _, l := range lessons {
			if l.Bool(content.FieldIsFeatured) {
				writes = append(writes, triggers.Update(l.Path, docstore.Fields{content.FieldSubtopicCount: n}, "published lesson count"))
			}
		}
	}
	return writes, nil
}

// SubtopicFeaturedCount recounts featured subtopics for every topic listing
// the subtopic.
func SubtopicFeaturedCount() triggers.Handler {
	return triggers.NewHandler("subtopic.featured_count", triggers.KindDocumentWrite, content.SubtopicPattern, countForSubtopic)
}

func countForSubtopic(ctx context.Context, env triggers.Env, ev triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	ch := change.Classify(ev.Before, ev.After)
	if !ch.Interesting(content.FieldIsFeatured) {
		return nil, nil
	}
	lang, id := params.Get("languageCode"), params.Get("subtopicId")
	topics, err := env.Docs.Query(ctx, docstore.Collection(content.TopicsCollection(lang)).
		Where(content.FieldSubtopics+"."+id, true))
	if err != nil {
		return nil, fmt.Errorf("query topics containing %s: %w", id, err)
	}
	var writes []triggers.PendingWrite
	for _, t := range topics {
		w, err := featuredSubtopicCount(ctx, env, lang, t)
		if err != nil {
			return nil, err
		}
		writes = append(writes, w...)
	}
	return writes, nil
}

// TopicFeaturedCount recounts when a topic's membership map changes.
func TopicFeaturedCount() triggers.Handler {
	return triggers.NewHandler("topic.featured_count", triggers.KindDocumentWrite, content.TopicPattern, countForTopic)
}

func countForTopic(ctx context.Context, env triggers.Env, ev triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	ch := change.Classify(ev.Before, ev.After)
	if ch.IsDeleted() || !ch.Interesting(content.FieldSubtopics) {
		return nil, nil
	}
	return featuredSubtopicCount(ctx, env, params.Get("languageCode"), ch.After)
}

func featuredSubtopicCount(ctx context.Context, env triggers.Env, lang string, topicSnap *docstore.Snapshot) ([]triggers.PendingWrite, error) {
	topic := decodeTopic(env, topicSnap)
	if topic == nil {
		return nil, nil
	}
	members := topic.Members()
	sort.Strings(members)
	n := 0
	for _, id := range members {
		snap, err := env.Docs.Get(ctx, content.SubtopicPath(lang, id))
		if err != nil {
			return nil, fmt.Errorf("load subtopic %s: %w", id, err)
		}
		if st := decodeSubtopic(env, snap); st != nil && st.IsFeatured {
			n++
		}
	}
	return []triggers.PendingWrite{
		triggers.Update(topicSnap.Path, docstore.Fields{content.FieldFeaturedSubtopics: n}, "featured subtopic count"),
	}, nil
}
