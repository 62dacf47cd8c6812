package content

import (
	"errors"
	"testing"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
)

func TestDecodeResourceValidatesEnums(t *testing.T) {
	snap := &docstore.Snapshot{
		Path: ResourcePath("en", "r1"),
		Data: docstore.Fields{"resourceType": "lesson", "status": "published", "subtopic": "s1", "isFeatured": true},
	}
	r, err := DecodeResource(snap)
	if err != nil {
		t.Fatalf("DecodeResource: %v", err)
	}
	if !r.IsPublishedLesson() || !r.IsFeatured {
		t.Fatalf("expected featured published lesson: %+v", r)
	}

	snap.Data["status"] = "archived"
	if _, err := DecodeResource(snap); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("unknown status: want ErrInvalidDocument got=%v", err)
	}

	snap.Data["status"] = "draft"
	snap.Data["isFeatured"] = "yes"
	if _, err := DecodeResource(snap); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("wrong type: want ErrInvalidDocument got=%v", err)
	}

	if _, err := DecodeResource(nil); !errors.Is(err, ErrMissingField) {
		t.Fatalf("nil snapshot: want ErrMissingField got=%v", err)
	}
}

func TestResourceLocationRequiresTopicAndSubtopic(t *testing.T) {
	r := &Resource{Topic: "t1"}
	if _, _, err := r.Location(); !errors.Is(err, ErrMissingField) {
		t.Fatalf("want ErrMissingField got=%v", err)
	}
	r.Subtopic = "s1"
	topic, sub, err := r.Location()
	if err != nil || topic != "t1" || sub != "s1" {
		t.Fatalf("Location: got=(%q,%q,%v)", topic, sub, err)
	}
}

func TestStatusFlags(t *testing.T) {
	cases := []struct {
		status Status
		flag   bool
		clears bool
	}{
		{StatusDraft, false, false},
		{StatusAwaitingReview, true, true},
		{StatusChangesRequested, true, false},
		{StatusPublished, false, true},
	}
	for _, tc := range cases {
		if got := tc.status.AwaitingReviewOrChangesRequested(); got != tc.flag {
			t.Fatalf("%s flag: want=%v got=%v", tc.status, tc.flag, got)
		}
		if got := tc.status.ClearsFeedbackPreview(); got != tc.clears {
			t.Fatalf("%s clears: want=%v got=%v", tc.status, tc.clears, got)
		}
	}
}

func TestPaths(t *testing.T) {
	if got := HeaderPath("en", "t1", "s1", "r1"); got != "localizedContent/en/topics/t1/subtopics/s1/headers/r1" {
		t.Fatalf("HeaderPath: got=%q", got)
	}
	if got := FeedbackCollection(CardPath("en", "r1", "c1")); got != "localizedContent/en/resources/r1/cards/c1/feedback" {
		t.Fatalf("FeedbackCollection: got=%q", got)
	}
	if got := UploadKey("a1", "r1", "c1", "x.png"); got != "user_uploads/a1/r1/c1/x.png" {
		t.Fatalf("UploadKey: got=%q", got)
	}
}

func TestHeaderCopiesPresentFieldsOnly(t *testing.T) {
	snap := &docstore.Snapshot{
		Path: ResourcePath("en", "r1"),
		Data: docstore.Fields{"title": "Fractions", "status": "draft", "cards": 3},
	}
	h := Header(snap, nil)
	if h.String("title") != "Fractions" || h.String(FieldResourcePath) != "localizedContent/en/resources/r1" {
		t.Fatalf("unexpected header: %#v", h)
	}
	if _, ok := h["summary"]; ok {
		t.Fatalf("absent source field must stay absent")
	}
	if _, ok := h["cards"]; ok {
		t.Fatalf("unlisted field must not be mirrored")
	}
}

func TestValidateUser(t *testing.T) {
	if err := ValidateUser(User{Email: "a@example.com", PhoneNumber: "+15555550100"}); err != nil {
		t.Fatalf("ValidateUser: %v", err)
	}
	if err := ValidateUser(User{Email: "not-an-email"}); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("want ErrInvalidDocument got=%v", err)
	}
}
