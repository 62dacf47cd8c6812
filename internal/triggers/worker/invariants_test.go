package worker_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/testutil"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/worker"
)

var (
	lessonIDs   = []string{"r0", "r1", "r2", "r3"}
	subtopicIDs = []string{"s1", "s2"}
)

// featuredViolations lists every subtopic where the featured lesson rules do
// not hold for the current documents.
func featuredViolations(h *harness) []string {
	h.t.Helper()
	published := map[string]int{}
	featured := map[string][]*docstore.Snapshot{}
	for _, id := range lessonIDs {
		snap := h.get(content.ResourcePath("en", id))
		if snap == nil || snap.String("resourceType") != "lesson" || snap.String("status") != "published" {
			continue
		}
		sub := snap.String("subtopic")
		published[sub]++
		if snap.Bool("isFeatured") {
			featured[sub] = append(featured[sub], snap)
		}
	}

	var out []string
	for _, sub := range subtopicIDs {
		n := published[sub]
		switch {
		case len(featured[sub]) > 1:
			out = append(out, fmt.Sprintf("%s: %d featured lessons", sub, len(featured[sub])))
		case n > 0 && len(featured[sub]) == 0:
			out = append(out, fmt.Sprintf("%s: %d published lessons and none featured", sub, n))
		}
		for _, f := range featured[sub] {
			if got := f.Data["subtopicPublishedLessonCount"]; got != float64(n) {
				out = append(out, fmt.Sprintf("%s: featured %s count=%v live=%d", sub, f.Path, got, n))
			}
		}
		got, ok := h.get(content.SubtopicPath("en", sub)).Lookup("publishedLessonCount")
		if (ok || n > 0) && got != float64(n) {
			out = append(out, fmt.Sprintf("%s: publishedLessonCount=%v live=%d", sub, got, n))
		}
	}
	return out
}

func randomLesson(rng *rand.Rand) docstore.Fields {
	status := "draft"
	if rng.Intn(3) > 0 {
		status = "published"
	}
	return lesson(status, subtopicIDs[rng.Intn(len(subtopicIDs))], rng.Intn(2) == 0)
}

func randomUpdate(rng *rand.Rand) docstore.Fields {
	switch rng.Intn(4) {
	case 0:
		return docstore.Fields{"isFeatured": rng.Intn(2) == 0}
	case 1:
		return docstore.Fields{"status": []string{"draft", "awaiting_review", "published"}[rng.Intn(3)]}
	case 2:
		return docstore.Fields{"subtopic": subtopicIDs[rng.Intn(len(subtopicIDs))]}
	default:
		return docstore.Fields{"title": fmt.Sprintf("Edit %d", rng.Intn(100))}
	}
}

func TestFeaturedLessonRulesHoldForRandomWriteSequences(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			h := newHarness(t)
			seedTopic(h)

			for step := 0; step < 30; step++ {
				h.clock.Advance(time.Second)
				path := content.ResourcePath("en", lessonIDs[rng.Intn(len(lessonIDs))])
				var op string
				switch {
				case h.get(path) == nil:
					op = "set"
					h.set(path, randomLesson(rng))
				case rng.Intn(5) == 0:
					op = "delete"
					h.remove(path)
				default:
					op = "update"
					h.update(path, randomUpdate(rng))
				}
				h.drain()
				if v := featuredViolations(h); len(v) > 0 {
					t.Fatalf("step %d (%s %s): %v", step, op, path, v)
				}
			}
		})
	}
}

func TestConcurrentWorkersConvergeOnOneFeaturedLesson(t *testing.T) {
	h := newHarness(t)
	seedTopic(h)
	for _, id := range lessonIDs {
		h.set(content.ResourcePath("en", id), lesson("published", "s1", true))
	}

	var inflight, executed atomic.Int64
	exec := worker.ExecutorFunc(func(ctx context.Context, ev triggers.Event) error {
		inflight.Add(1)
		defer inflight.Add(-1)
		defer executed.Add(1)
		return h.exec.Execute(ctx, ev)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := worker.NewWorker(h.bus, exec, testutil.Logger(t), nil, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	idle := func() bool {
		before := executed.Load()
		if h.bus.Len() != 0 || inflight.Load() != 0 {
			return false
		}
		time.Sleep(50 * time.Millisecond)
		return h.bus.Len() == 0 && inflight.Load() == 0 && executed.Load() == before
	}
	deadline := time.Now().Add(10 * time.Second)
	for !idle() {
		if time.Now().After(deadline) {
			t.Fatalf("workers did not go idle; queued=%d", h.bus.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if v := featuredViolations(h); len(v) > 0 {
		t.Fatalf("after concurrent processing: %v", v)
	}
	if n := h.get(content.SubtopicPath("en", "s1")).Data["publishedLessonCount"]; n != 4.0 {
		t.Fatalf("publishedLessonCount: want=4 got=%v", n)
	}
}
