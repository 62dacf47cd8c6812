package recompute_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/testutil"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/recompute"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func env(t *testing.T, store docstore.Store) triggers.Env {
	t.Helper()
	return triggers.Env{Docs: store, Now: now, Policy: triggers.DefaultPolicy(), Log: testutil.Logger(t)}
}

func snap(path docstore.Path, version int64, f docstore.Fields) *docstore.Snapshot {
	data, _ := docstore.Normalize(f)
	return &docstore.Snapshot{Path: path, Data: data, Version: version}
}

func docEvent(path docstore.Path, before, after *docstore.Snapshot) triggers.Event {
	return triggers.Event{ID: "ev", Kind: triggers.KindDocumentWrite, Path: path.String(), Time: now, Before: before, After: after}
}

func run(t *testing.T, h triggers.Handler, e triggers.Env, ev triggers.Event) []triggers.PendingWrite {
	t.Helper()
	reg := triggers.NewRegistry()
	if err := reg.Register(h); err != nil {
		t.Fatalf("register: %v", err)
	}
	matches := reg.Match(ev)
	if len(matches) != 1 {
		t.Fatalf("%s should match %s", h.Name(), ev.Path)
	}
	writes, err := h.Handle(context.Background(), e, ev, matches[0].Params)
	if err != nil {
		t.Fatalf("%s: %v", h.Name(), err)
	}
	return writes
}

func TestHandlersHaveUniqueNames(t *testing.T) {
	reg := triggers.NewRegistry()
	if err := reg.RegisterAll(recompute.Handlers()...); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
}

func TestHeaderMirrorSkipsResourceWithoutLocation(t *testing.T) {
	p := content.ResourcePath("en", "r1")
	after := snap(p, 1, docstore.Fields{"title": "No home", "subtopic": "s1"})
	writes := run(t, recompute.HeaderMirror(), env(t, testutil.Store(t)), docEvent(p, nil, after))
	if len(writes) != 0 {
		t.Fatalf("missing topic must be a no-op: %v", writes)
	}
}

func TestHeaderMirrorDeletesOnSourceDeleteWhenEnabled(t *testing.T) {
	p := content.ResourcePath("en", "r1")
	before := snap(p, 3, docstore.Fields{"topic": "t1", "subtopic": "s1"})
	e := env(t, testutil.Store(t))

	if writes := run(t, recompute.HeaderMirror(), e, docEvent(p, before, nil)); len(writes) != 0 {
		t.Fatalf("headers are kept by default: %v", writes)
	}
	e.Policy.DeleteHeadersOnSourceDelete = true
	writes := run(t, recompute.HeaderMirror(), e, docEvent(p, before, nil))
	if len(writes) != 1 || writes[0].Op != triggers.OpDelete || writes[0].Path != content.HeaderPath("en", "t1", "s1", "r1") {
		t.Fatalf("want header delete got=%v", writes)
	}
}

func TestHeaderMirrorHonorsFieldOverride(t *testing.T) {
	p := content.ResourcePath("en", "r1")
	after := snap(p, 1, docstore.Fields{"topic": "t1", "subtopic": "s1", "title": "T", "summary": "S"})
	e := env(t, testutil.Store(t))
	e.Policy.HeaderFields = []string{"title"}
	writes := run(t, recompute.HeaderMirror(), e, docEvent(p, nil, after))
	if len(writes) != 1 || !writes[0].IfChanged {
		t.Fatalf("want one conditional set got=%v", writes)
	}
	if _, ok := writes[0].Fields["summary"]; ok {
		t.Fatalf("summary is outside the override: %v", writes[0].Fields)
	}
	if writes[0].Fields["title"] != "T" || writes[0].Fields["resourcePath"] != p.String() {
		t.Fatalf("unexpected header: %v", writes[0].Fields)
	}
}

func TestFeaturedLessonIgnoresUninterestingUpdate(t *testing.T) {
	p := content.ResourcePath("en", "r1")
	base := docstore.Fields{"resourceType": "lesson", "status": "published", "subtopic": "s1", "isFeatured": false, "title": "a"}
	before := snap(p, 1, base)
	after := snap(p, 2, docstore.Merge(base, docstore.Fields{"title": "b"}))
	if writes := run(t, recompute.FeaturedLesson(), env(t, testutil.Store(t)), docEvent(p, before, after)); len(writes) != 0 {
		t.Fatalf("title edits must not feature: %v", writes)
	}
}

func TestReviewFlagOnlyOnCreateOrStatusChange(t *testing.T) {
	p := content.ResourcePath("en", "r1")
	before := snap(p, 1, docstore.Fields{"status": "draft", "title": "a"})
	after := snap(p, 2, docstore.Fields{"status": "draft", "title": "b"})
	e := env(t, testutil.Store(t))
	if writes := run(t, recompute.ReviewFlag(), e, docEvent(p, before, after)); len(writes) != 0 {
		t.Fatalf("non-status update wrote flag: %v", writes)
	}
	after = snap(p, 2, docstore.Fields{"status": "awaiting_review"})
	writes := run(t, recompute.ReviewFlag(), e, docEvent(p, before, after))
	if len(writes) != 1 || writes[0].Fields[content.FieldAwaitingReview] != true {
		t.Fatalf("want flag=true got=%v", writes)
	}
}

func TestResourceTouchRespectsQuiescence(t *testing.T) {
	p := content.ResourcePath("en", "r1")
	e := env(t, testutil.Store(t))
	recent := docstore.Fields{"title": "b", "dateUpdated": now.Add(-time.Minute)}
	writes := run(t, recompute.ResourceTouch(), e, docEvent(p, snap(p, 1, docstore.Fields{"title": "a"}), snap(p, 2, recent)))
	if len(writes) != 0 {
		t.Fatalf("touch inside the window: %v", writes)
	}
	stale := docstore.Fields{"title": "b", "dateUpdated": now.Add(-time.Hour)}
	writes = run(t, recompute.ResourceTouch(), e, docEvent(p, snap(p, 1, docstore.Fields{"title": "a"}), snap(p, 2, stale)))
	if len(writes) != 1 {
		t.Fatalf("want one touch got=%v", writes)
	}
	if got, _ := writes[0].Fields[content.FieldDateUpdated].(time.Time); !got.Equal(now) {
		t.Fatalf("dateUpdated: want=%v got=%v", now, got)
	}
}

func TestCardCascadeWithoutParentSkipsUploads(t *testing.T) {
	ctx := context.Background()
	store := testutil.Store(t)
	card := content.CardPath("en", "gone", "c1")
	_ = store.Set(ctx, content.FeedbackCollection(card).Child("f1"), docstore.Fields{"commentText": "x"})
	writes := run(t, recompute.CardCascade(), env(t, store), docEvent(card, snap(card, 2, docstore.Fields{"text": "t"}), nil))
	if len(writes) != 1 || writes[0].Op != triggers.OpDelete {
		t.Fatalf("want only the feedback delete got=%v", writes)
	}
}

func TestResourceCascadeDeletesAttachmentOutsideCardFolder(t *testing.T) {
	ctx := context.Background()
	store := testutil.Store(t)
	res := content.ResourcePath("en", "r1")
	elsewhere := "user_uploads/u1/r0/c9/shared.png"
	_ = store.Set(ctx, content.CardPath("en", "r1", "c1"), docstore.Fields{"attachmentPath": elsewhere})
	_ = store.Set(ctx, content.CardPath("en", "r1", "c2"), docstore.Fields{"attachmentPath": "own.png"})

	writes := run(t, recompute.ResourceCascade(), env(t, store), docEvent(res, snap(res, 3, docstore.Fields{"authorId": "u1"}), nil))

	var objects []string
	cardDeletes := 0
	for _, w := range writes {
		switch w.Op {
		case triggers.OpDeleteObject, triggers.OpDeleteObjects:
			objects = append(objects, w.Object)
		case triggers.OpDelete:
			cardDeletes++
		}
	}
	want := []string{"user_uploads/u1/r1/c1/", elsewhere, "user_uploads/u1/r1/c2/"}
	if fmt.Sprint(objects) != fmt.Sprint(want) {
		t.Fatalf("object deletes: want=%v got=%v", want, objects)
	}
	if cardDeletes != 2 {
		t.Fatalf("card deletes: want=2 got=%d", cardDeletes)
	}
}

func TestCardCascadeDeletesOutOfFolderAttachmentWithoutParent(t *testing.T) {
	store := testutil.Store(t)
	card := content.CardPath("en", "gone", "c1")
	key := "user_uploads/u1/other/c1/pic.png"
	writes := run(t, recompute.CardCascade(), env(t, store), docEvent(card, snap(card, 2, docstore.Fields{"attachmentPath": key}), nil))
	if len(writes) != 1 || writes[0].Op != triggers.OpDeleteObject || writes[0].Object != key {
		t.Fatalf("want single object delete of %s got=%v", key, writes)
	}
}

func TestUploadMetadataNeedsLanguage(t *testing.T) {
	ctx := context.Background()
	store := testutil.Store(t)
	_ = store.Set(ctx, content.CardPath("en", "r1", "c1"), docstore.Fields{"text": "t"})
	e := env(t, store)
	e.Objects = objectsFunc(func(_ context.Context, key string) (*triggers.ObjectAttrs, error) {
		return &triggers.ObjectAttrs{Key: key, Size: 3, ContentType: "image/png"}, nil
	})
	key := content.UploadKey("u1", "r1", "c1", "a.png")
	ev := triggers.Event{ID: "o", Kind: triggers.KindObjectFinalize, Path: key, Time: now, Object: &triggers.Object{Key: key}}
	if writes := run(t, recompute.UploadMetadata(), e, ev); len(writes) != 0 {
		t.Fatalf("no language metadata should be a no-op: %v", writes)
	}
	ev.Object.Metadata = map[string]string{recompute.MetadataLanguageCode: "en"}
	writes := run(t, recompute.UploadMetadata(), e, ev)
	if len(writes) != 1 || writes[0].Fields[content.FieldAttachmentPath] != "a.png" {
		t.Fatalf("want attachment update got=%v", writes)
	}
}

func TestAttachmentKey(t *testing.T) {
	cases := []struct {
		in, author, want string
	}{
		{"x.png", "u1", "user_uploads/u1/r1/c1/x.png"},
		{"/user_uploads/u2/r1/c1/x.png", "u1", "user_uploads/u2/r1/c1/x.png"},
		{"x.png", "", ""},
		{"  ", "u1", ""},
	}
	for _, tc := range cases {
		if got := recompute.AttachmentKey(tc.in, tc.author, "r1", "c1"); got != tc.want {
			t.Fatalf("AttachmentKey(%q,%q): want=%q got=%q", tc.in, tc.author, tc.want, got)
		}
	}
}

type objectsFunc func(ctx context.Context, key string) (*triggers.ObjectAttrs, error)

func (f objectsFunc) ObjectAttrs(ctx context.Context, key string) (*triggers.ObjectAttrs, error) {
	return f(ctx, key)
}
