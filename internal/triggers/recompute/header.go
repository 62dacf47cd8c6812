package recompute

import (
	"context"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/change"
)

// HeaderMirror copies the header field subset of a resource into the header
// document under its topic and subtopic.
func HeaderMirror() triggers.Handler {
	return triggers.NewHandler("resource.header", triggers.KindDocumentWrite, content.ResourcePattern, mirrorHeader)
}

func mirrorHeader(_ context.Context, env triggers.Env, ev triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	lang, id := params.Get("languageCode"), params.Get("resourceId")
	ch := change.Classify(ev.Before, ev.After)

	var previous docstore.Path
	if prev := decodeResource(env, ch.Before); prev != nil {
		if topic, sub, err := prev.Location(); err == nil {
			previous = content.HeaderPath(lang, topic, sub, id)
		}
	}

	var writes []triggers.PendingWrite
	if ch.IsDeleted() {
		if env.Policy.DeleteHeadersOnSourceDelete && previous != "" {
			writes = append(writes, triggers.Delete(previous, "source resource deleted"))
		}
		return writes, nil
	}
	if ch.Kind == change.NoOp {
		return nil, nil
	}

	var target docstore.Path
	if cur := decodeResource(env, ch.After); cur != nil {
		if topic, sub, err := cur.Location(); err == nil {
			target = content.HeaderPath(lang, topic, sub, id)
		} else {
			logOf(env).Debug("header mirror skipped", "path", ev.Path, "error", err)
		}
	}
	if target != "" {
		writes = append(writes, triggers.Set(target, content.Header(ch.After, env.Policy.HeaderFields), "mirror resource header").OnlyIfChanged())
	}
	if previous != "" && previous != target {
		writes = append(writes, triggers.Delete(previous, "resource moved out of subtopic"))
	}
	return writes, nil
}
