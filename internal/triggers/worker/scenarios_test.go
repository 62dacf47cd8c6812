package worker_test

import (
	"strings"
	"testing"
	"time"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/dbctx"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

func lesson(status, subtopic string, featured bool) docstore.Fields {
	return docstore.Fields{
		"resourceType": "lesson",
		"status":       status,
		"subtopic":     subtopic,
		"topic":        "t1",
		"isFeatured":   featured,
		"authorId":     "u1",
		"title":        "Adding fractions",
	}
}

func seedTopic(h *harness) {
	h.set(content.SubtopicPath("en", "s1"), docstore.Fields{"name": "Fractions", "isFeatured": true})
	h.set(content.SubtopicPath("en", "s2"), docstore.Fields{"name": "Decimals", "isFeatured": false})
	h.set(content.TopicPath("en", "t1"), docstore.Fields{"name": "Numbers", "subtopics": map[string]any{"s1": true, "s2": true}})
	h.drain()
}

func TestFirstPublishedLessonIsFeaturedAndCounted(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	r1 := content.ResourcePath("en", "r1")

	h.set(r1, lesson("published", "s1", false))
	h.drain()

	got := h.get(r1)
	if !got.Bool("isFeatured") {
		t.Fatalf("only published lesson in subtopic should be featured: %v", got.Data)
	}
	if n := got.Data["subtopicPublishedLessonCount"]; n != 1.0 {
		t.Fatalf("subtopicPublishedLessonCount: want=1 got=%v", n)
	}
	if n := h.get(content.SubtopicPath("en", "s1")).Data["publishedLessonCount"]; n != 1.0 {
		t.Fatalf("publishedLessonCount: want=1 got=%v", n)
	}
	if v, ok := got.Lookup("isAwaitingReviewOrHasChangesRequested"); !ok || v != false {
		t.Fatalf("review flag should be written false on create: %v", v)
	}
	header := h.get(content.HeaderPath("en", "t1", "s1", "r1"))
	if header == nil || !header.Bool("isFeatured") || header.String("title") != "Adding fractions" {
		t.Fatalf("header not mirrored: %+v", header)
	}
	if header.String("resourcePath") != r1.String() {
		t.Fatalf("header resourcePath: got=%q", header.String("resourcePath"))
	}
	if n := h.get(content.TopicPath("en", "t1")).Data["featuredSubtopicCount"]; n != 1.0 {
		t.Fatalf("featuredSubtopicCount: want=1 got=%v", n)
	}
}

func TestFeaturingLessonUnfeaturesSibling(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	r1, r2 := content.ResourcePath("en", "r1"), content.ResourcePath("en", "r2")
	h.set(r1, lesson("published", "s1", false))
	h.drain()

	h.set(r2, lesson("published", "s1", true))
	h.drain()

	if h.get(r1).Bool("isFeatured") {
		t.Fatalf("r1 should have been unfeatured")
	}
	if !h.get(r2).Bool("isFeatured") {
		t.Fatalf("r2 should stay featured")
	}
	if n := h.get(r2).Data["subtopicPublishedLessonCount"]; n != 2.0 {
		t.Fatalf("featured lesson count: want=2 got=%v", n)
	}
	if h.get(content.HeaderPath("en", "t1", "s1", "r1")).Bool("isFeatured") {
		t.Fatalf("r1 header should follow the unfeature")
	}
}

func TestUnpublishingFeaturedLessonPromotesReplacement(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	r1, r2 := content.ResourcePath("en", "r1"), content.ResourcePath("en", "r2")
	h.set(r1, lesson("published", "s1", false))
	h.drain()
	h.set(r2, lesson("published", "s1", true))
	h.drain()

	h.update(r2, docstore.Fields{"status": "draft"})
	h.drain()

	if !h.get(r1).Bool("isFeatured") {
		t.Fatalf("remaining published lesson should be featured")
	}
	if n := h.get(content.SubtopicPath("en", "s1")).Data["publishedLessonCount"]; n != 1.0 {
		t.Fatalf("publishedLessonCount: want=1 got=%v", n)
	}
}

func TestMovingLessonBetweenSubtopicsMovesHeaderAndCounts(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	r1 := content.ResourcePath("en", "r1")
	h.set(r1, lesson("published", "s1", false))
	h.drain()

	h.update(r1, docstore.Fields{"subtopic": "s2"})
	h.drain()

	if h.get(content.HeaderPath("en", "t1", "s1", "r1")) != nil {
		t.Fatalf("old header should be removed")
	}
	if h.get(content.HeaderPath("en", "t1", "s2", "r1")) == nil {
		t.Fatalf("new header should exist")
	}
	if n := h.get(content.SubtopicPath("en", "s1")).Data["publishedLessonCount"]; n != 0.0 {
		t.Fatalf("s1 count: want=0 got=%v", n)
	}
	if n := h.get(content.SubtopicPath("en", "s2")).Data["publishedLessonCount"]; n != 1.0 {
		t.Fatalf("s2 count: want=1 got=%v", n)
	}
	if !h.get(r1).Bool("isFeatured") {
		t.Fatalf("lesson should stay featured in its new subtopic")
	}
}

func TestReviewFlagFollowsStatus(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	r1 := content.ResourcePath("en", "r1")
	h.set(r1, lesson("awaiting_review", "s1", false))
	h.drain()
	if !h.get(r1).Bool("isAwaitingReviewOrHasChangesRequested") {
		t.Fatalf("awaiting_review should set the flag")
	}
	h.update(r1, docstore.Fields{"status": "changes_requested"})
	h.drain()
	if !h.get(r1).Bool("isAwaitingReviewOrHasChangesRequested") {
		t.Fatalf("changes_requested should keep the flag")
	}
	h.update(r1, docstore.Fields{"status": "published"})
	h.drain()
	if h.get(r1).Bool("isAwaitingReviewOrHasChangesRequested") {
		t.Fatalf("published should clear the flag")
	}
}

func TestDeletingResourceCascadesToCardsFeedbackAndUploads(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	r3 := content.ResourcePath("en", "r3")
	card := content.CardPath("en", "r3", "c1")
	fb := content.FeedbackCollection(card).Child("f1")
	h.set(r3, lesson("draft", "s1", false))
	h.set(card, docstore.Fields{"text": "Step one", "attachmentPath": "x.png"})
	h.set(fb, docstore.Fields{"reviewerComment": true, "locked": false, "commentText": "ok", "dateUpdated": h.clock.Now()})
	h.drain()
	dbc := dbctx.Context{Ctx: h.ctx}
	for _, key := range []string{"user_uploads/u1/r3/c1/x.png", "user_uploads/u1/r3/c1/old.png", "user_uploads/u1/r30/c1/keep.png"} {
		if err := h.bucket.UploadFile(dbc, key, strings.NewReader("img"), nil); err != nil {
			t.Fatalf("upload %s: %v", key, err)
		}
	}

	h.remove(r3)
	h.drain()

	if h.get(card) != nil {
		t.Fatalf("card should be deleted with its resource")
	}
	if h.get(fb) != nil {
		t.Fatalf("feedback should be deleted with its card")
	}
	keys, _ := h.bucket.ListKeys(h.ctx, "user_uploads/")
	if len(keys) != 1 || keys[0] != "user_uploads/u1/r30/c1/keep.png" {
		t.Fatalf("only unrelated uploads should remain: %v", keys)
	}
	if h.get(content.HeaderPath("en", "t1", "s1", "r3")) == nil {
		t.Fatalf("headers are kept on source delete by default")
	}
}

func TestCardEditsTouchParentOutsideQuiescenceWindow(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	r1 := content.ResourcePath("en", "r1")
	card := content.CardPath("en", "r1", "c1")
	h.set(r1, lesson("draft", "s1", false))
	h.drain()

	t0 := h.clock.Now()
	h.set(card, docstore.Fields{"text": "v1"})
	h.drain()
	if got := h.get(r1).Time("dateUpdated"); !got.Equal(t0) {
		t.Fatalf("dateUpdated after card create: want=%v got=%v", t0, got)
	}

	h.clock.Advance(2 * time.Minute)
	h.update(card, docstore.Fields{"text": "v2"})
	h.drain()
	if got := h.get(r1).Time("dateUpdated"); !got.Equal(t0) {
		t.Fatalf("edit inside the window must not touch: want=%v got=%v", t0, got)
	}

	h.clock.Advance(6 * time.Minute)
	h.update(card, docstore.Fields{"text": "v3"})
	h.drain()
	if got := h.get(r1).Time("dateUpdated"); !got.Equal(t0.Add(8 * time.Minute)) {
		t.Fatalf("edit outside the window should touch: got=%v", got)
	}

	// preview-only card changes never touch the parent
	h.clock.Advance(10 * time.Minute)
	h.update(card, docstore.Fields{"feedbackPreviewComment": "x"})
	h.drain()
	if got := h.get(r1).Time("dateUpdated"); !got.Equal(t0.Add(8 * time.Minute)) {
		t.Fatalf("non-authored card field touched parent: got=%v", got)
	}
}

func TestFeedbackPreviewAndStatusLock(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	r4 := content.ResourcePath("en", "r4")
	card := content.CardPath("en", "r4", "c1")
	feedback := content.FeedbackCollection(card)
	h.set(r4, lesson("changes_requested", "s1", false))
	h.set(card, docstore.Fields{"text": "Step"})
	h.drain()

	base := h.clock.Now()
	h.set(feedback.Child("f1"), docstore.Fields{"reviewerComment": true, "locked": false, "dateUpdated": base, "commentText": "first"})
	h.drain()
	if got := h.get(card).String("feedbackPreviewComment"); got != "first" {
		t.Fatalf("preview: want=first got=%q", got)
	}
	h.set(feedback.Child("f2"), docstore.Fields{"reviewerComment": true, "locked": false, "dateUpdated": base.Add(time.Hour), "commentText": "second"})
	h.set(feedback.Child("f3"), docstore.Fields{"reviewerComment": false, "locked": false, "dateUpdated": base.Add(2 * time.Hour), "commentText": "author reply"})
	h.drain()
	c := h.get(card)
	if c.String("feedbackPreviewComment") != "second" || c.String("feedbackPreviewCommentPath") != feedback.Child("f2").String() {
		t.Fatalf("preview should be the latest reviewer comment: %v", c.Data)
	}

	h.update(r4, docstore.Fields{"status": "awaiting_review"})
	h.drain()
	for _, id := range []string{"f1", "f2", "f3"} {
		if !h.get(feedback.Child(id)).Bool("locked") {
			t.Fatalf("feedback %s should be locked after status change", id)
		}
	}
	if _, ok := h.get(card).Lookup("feedbackPreviewComment"); ok {
		t.Fatalf("preview should be cleared while awaiting review")
	}
}

func TestUploadFinalizeAndDeleteMaintainAttachmentFields(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	r5 := content.ResourcePath("en", "r5")
	card := content.CardPath("en", "r5", "c1")
	h.set(r5, lesson("draft", "s1", false))
	h.set(card, docstore.Fields{"text": "Look at this"})
	h.drain()

	key := content.UploadKey("u1", "r5", "c1", "pic.png")
	meta := map[string]string{"languageCode": "en"}
	if err := h.bucket.UploadFile(dbctx.Context{Ctx: h.ctx}, key, strings.NewReader("pixels"), meta); err != nil {
		t.Fatalf("upload: %v", err)
	}
	h.execute(triggers.Event{ID: "obj-1", Kind: triggers.KindObjectFinalize, Path: key, Time: h.clock.Now(), Object: &triggers.Object{Key: key, Metadata: meta}})

	c := h.get(card)
	if c.String("attachmentPath") != "pic.png" || c.String("attachmentContentType") != "image/png" || c.Data["attachmentSize"] != 6.0 {
		t.Fatalf("attachment fields not recorded: %v", c.Data)
	}

	// a replacement upload removes the previous object
	next := content.UploadKey("u1", "r5", "c1", "pic2.png")
	if err := h.bucket.UploadFile(dbctx.Context{Ctx: h.ctx}, next, strings.NewReader("pixels2"), meta); err != nil {
		t.Fatalf("upload: %v", err)
	}
	h.execute(triggers.Event{ID: "obj-2", Kind: triggers.KindObjectFinalize, Path: next, Time: h.clock.Now(), Object: &triggers.Object{Key: next, Metadata: meta}})
	if attrs, _ := h.bucket.ObjectAttrs(h.ctx, key); attrs != nil {
		t.Fatalf("replaced attachment should be deleted")
	}
	if got := h.get(card).String("attachmentPath"); got != "pic2.png" {
		t.Fatalf("attachmentPath: want=pic2.png got=%q", got)
	}

	// deleting a non-current object leaves the card alone
	h.execute(triggers.Event{ID: "obj-3", Kind: triggers.KindObjectDelete, Path: key, Time: h.clock.Now(), Object: &triggers.Object{Key: key, Metadata: meta}})
	if got := h.get(card).String("attachmentPath"); got != "pic2.png" {
		t.Fatalf("stale delete cleared attachment: %q", got)
	}

	if err := h.bucket.DeleteObject(h.ctx, next); err != nil {
		t.Fatalf("delete: %v", err)
	}
	h.execute(triggers.Event{ID: "obj-4", Kind: triggers.KindObjectDelete, Path: next, Time: h.clock.Now(), Object: &triggers.Object{Key: next, Metadata: meta}})
	if _, ok := h.get(card).Lookup("attachmentPath"); ok {
		t.Fatalf("attachment fields should be cleared: %v", h.get(card).Data)
	}
}

func TestIdentityLifecycleMirrorsUserDocument(t *testing.T) {
	h := newHarness(t)
	user := &triggers.User{UID: "u9", DisplayName: "Ada", Email: "ada@example.com"}
	h.execute(triggers.Event{ID: "id-1", Kind: triggers.KindIdentityCreate, Path: "users/u9", Time: h.clock.Now(), User: user})

	got := h.get(content.UserPath("u9"))
	if got == nil || got.String("email") != "ada@example.com" || got.String("displayName") != "Ada" {
		t.Fatalf("user document not created: %+v", got)
	}
	if _, ok := got.Lookup("phoneNumber"); ok {
		t.Fatalf("empty profile fields must not be written")
	}

	h.execute(triggers.Event{ID: "id-2", Kind: triggers.KindIdentityDelete, Path: "users/u9", Time: h.clock.Now(), User: user})
	if h.get(content.UserPath("u9")) != nil {
		t.Fatalf("user document should be deleted")
	}
}

func TestFeaturedSubtopicCountFollowsSubtopicAndMembershipChanges(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	topic := content.TopicPath("en", "t1")
	count := func() any { return h.get(topic).Data["featuredSubtopicCount"] }

	h.update(content.SubtopicPath("en", "s2"), docstore.Fields{"isFeatured": true})
	h.drain()
	if n := count(); n != 2.0 {
		t.Fatalf("after featuring s2: want=2 got=%v", n)
	}

	h.update(topic, docstore.Fields{"subtopics.s1": docstore.DeleteField})
	h.drain()
	if n := count(); n != 1.0 {
		t.Fatalf("after dropping s1 from the topic: want=1 got=%v", n)
	}

	h.update(content.SubtopicPath("en", "s1"), docstore.Fields{"isFeatured": false})
	h.drain()
	if n := count(); n != 1.0 {
		t.Fatalf("s1 is no longer a member and must not count: want=1 got=%v", n)
	}

	h.remove(content.SubtopicPath("en", "s2"))
	h.drain()
	if n := count(); n != 0.0 {
		t.Fatalf("after deleting s2: want=0 got=%v", n)
	}

	h.update(content.SubtopicPath("en", "s1"), docstore.Fields{"isFeatured": true})
	h.update(topic, docstore.Fields{"subtopics.s1": true})
	h.drain()
	if n := count(); n != 1.0 {
		t.Fatalf("after re-adding featured s1: want=1 got=%v", n)
	}
}

func TestDeletingResourceRemovesAttachmentStoredOutsideCardFolder(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	r4 := content.ResourcePath("en", "r4")
	shared := "user_uploads/u1/library/c0/diagram.png"
	h.set(r4, lesson("draft", "s1", false))
	h.set(content.CardPath("en", "r4", "c1"), docstore.Fields{"text": "Look", "attachmentPath": shared})
	h.drain()
	dbc := dbctx.Context{Ctx: h.ctx}
	for _, key := range []string{shared, "user_uploads/u1/library/c0/other.png"} {
		if err := h.bucket.UploadFile(dbc, key, strings.NewReader("img"), nil); err != nil {
			t.Fatalf("upload %s: %v", key, err)
		}
	}

	h.remove(r4)
	h.drain()

	keys, _ := h.bucket.ListKeys(h.ctx, "user_uploads/")
	if len(keys) != 1 || keys[0] != "user_uploads/u1/library/c0/other.png" {
		t.Fatalf("the card's attachment should be deleted and nothing else: %v", keys)
	}
}
