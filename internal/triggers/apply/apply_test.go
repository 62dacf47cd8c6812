package apply_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/testutil"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/dbctx"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/gcp"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/apply"
)

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) NotifyWrite(context.Context, docstore.Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

func TestApplySkipsUnchangedAndMissingTargets(t *testing.T) {
	ctx := context.Background()
	notes := &countingNotifier{}
	store := testutil.Store(t, docstore.WithNotifier(notes))
	card := docstore.Path("localizedContent/en/resources/r1/cards/c1")
	if err := store.Set(ctx, card, docstore.Fields{"feedbackPreviewComment": "hi"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	notes.count = 0

	a := apply.New(store, apply.BucketObjects(gcp.NewMemoryBucket()), testutil.Logger(t))
	res, err := a.Apply(ctx, []triggers.PendingWrite{
		triggers.Update(card, docstore.Fields{"feedbackPreviewComment": "hi"}, "same").OnlyIfChanged(),
		triggers.Update("localizedContent/en/resources/r1/cards/gone", docstore.Fields{"a": 1}, "missing"),
		triggers.Update(card, docstore.Fields{"feedbackPreviewComment": "new"}, "changed").OnlyIfChanged(),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied != 1 || res.Skipped != 2 {
		t.Fatalf("result: want applied=1 skipped=2 got=%+v", res)
	}
	if notes.count != 1 {
		t.Fatalf("writes committed: want=1 got=%d", notes.count)
	}
}

func TestApplySetIfChangedComparesWholeDocument(t *testing.T) {
	ctx := context.Background()
	store := testutil.Store(t)
	header := docstore.Path("localizedContent/en/topics/t1/subtopics/s1/headers/r1")
	a := apply.New(store, nil, testutil.Logger(t))

	w := triggers.Set(header, docstore.Fields{"title": "A", "status": "draft"}, "mirror").OnlyIfChanged()
	if res, err := a.Apply(ctx, []triggers.PendingWrite{w}); err != nil || res.Applied != 1 {
		t.Fatalf("first Set: res=%+v err=%v", res, err)
	}
	if res, err := a.Apply(ctx, []triggers.PendingWrite{w}); err != nil || res.Skipped != 1 {
		t.Fatalf("repeat Set should skip: res=%+v err=%v", res, err)
	}
	snap, _ := store.Get(ctx, header)
	if snap.Version != 1 {
		t.Fatalf("version: want=1 got=%d", snap.Version)
	}
}

func TestApplyDeletesObjectsBeforeFollowingDocuments(t *testing.T) {
	ctx := context.Background()
	store := testutil.Store(t)
	bucket := gcp.NewMemoryBucket()
	for _, key := range []string{"user_uploads/a/r/c1/x.png", "user_uploads/a/r/c2/y.png", "user_uploads/a/r/c3/z.png"} {
		if err := bucket.UploadFile(dbctx.Context{Ctx: ctx}, key, strings.NewReader("x"), nil); err != nil {
			t.Fatalf("upload: %v", err)
		}
	}
	card := docstore.Path("localizedContent/en/resources/r/cards/c1")
	if err := store.Set(ctx, card, docstore.Fields{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	a := apply.New(store, apply.BucketObjects(bucket), testutil.Logger(t), apply.WithObjectConcurrency(2))
	res, err := a.Apply(ctx, []triggers.PendingWrite{
		triggers.DeleteObjects("user_uploads/a/r/c1/", "cascade"),
		triggers.DeleteObjects("user_uploads/a/r/c2/", "cascade"),
		triggers.Delete(card, "cascade"),
		triggers.DeleteObject("user_uploads/a/r/c3/z.png", "replaced"),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied != 4 {
		t.Fatalf("applied: want=4 got=%d", res.Applied)
	}
	keys, _ := bucket.ListKeys(ctx, "user_uploads/")
	if len(keys) != 0 {
		t.Fatalf("objects left: %v", keys)
	}
	if snap, _ := store.Get(ctx, card); snap != nil {
		t.Fatalf("card should be deleted")
	}
}

type failingObjects struct{ apply.ObjectStore }

func (failingObjects) DeletePrefix(context.Context, string) error { return errors.New("bucket down") }

func TestApplyStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	store := testutil.Store(t)
	card := docstore.Path("localizedContent/en/resources/r/cards/c1")
	if err := store.Set(ctx, card, docstore.Fields{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	a := apply.New(store, failingObjects{apply.BucketObjects(gcp.NewMemoryBucket())}, testutil.Logger(t))
	_, err := a.Apply(ctx, []triggers.PendingWrite{
		triggers.DeleteObjects("user_uploads/a/r/c1/", "cascade"),
		triggers.Delete(card, "cascade"),
	})
	if err == nil || !strings.Contains(err.Error(), "bucket down") {
		t.Fatalf("want bucket failure got=%v", err)
	}
	if snap, _ := store.Get(ctx, card); snap == nil {
		t.Fatalf("document write after a failed object delete must not run")
	}
}
