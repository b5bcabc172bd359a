package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/any-hub/asset-hub/internal/upstream"
)

func TestMissingPathsUsesLogicalPaths(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.js": "a", "b.js": "b", "/": "index"})
	w := env.deploy(map[string]string{"a.js": "h1", "b.js": "h2", "/": "h0"}, "a.js")
	if _, err := env.get(w, env.origin.URL); err != nil {
		t.Fatalf("prime entry: %v", err)
	}

	missing, err := w.MissingPaths(context.Background())
	if err != nil {
		t.Fatalf("missing paths: %v", err)
	}
	if !equalStrings(missing, []string{"b.js"}) {
		t.Fatalf("missing = %v, want [b.js]", missing)
	}
}

func TestDownloadOfflineFetchesOnlyMissing(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.js": "a", "b.js": "b", "c.js": "c"})
	w := env.deploy(map[string]string{"a.js": "h1", "b.js": "h2", "c.js": "h3"}, "a.js")
	aHits := env.origin.hitCount("a.js")

	if err := w.DownloadOffline(context.Background()); err != nil {
		t.Fatalf("download offline: %v", err)
	}
	if got := env.paths(env.keys(ContentStore)); !equalStrings(got, []string{"a.js", "b.js", "c.js"}) {
		t.Fatalf("content after prefetch = %v", got)
	}
	if env.origin.hitCount("a.js") != aHits {
		t.Fatalf("cached paths must not be fetched again")
	}

	missing, err := w.MissingPaths(context.Background())
	if err != nil || len(missing) != 0 {
		t.Fatalf("nothing should be missing after prefetch, got %v (%v)", missing, err)
	}
}

func TestDownloadOfflineIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.js": "a", "b.js": "b"})
	w := env.deploy(map[string]string{"a.js": "h1", "b.js": "h2", "gone.js": "h3"}, "a.js")

	err := w.DownloadOffline(context.Background())
	if !errors.Is(err, upstream.ErrBadStatus) {
		t.Fatalf("expected bad status error, got %v", err)
	}
	if got := env.paths(env.keys(ContentStore)); !equalStrings(got, []string{"a.js"}) {
		t.Fatalf("failed batch must not store partial results, got %v", got)
	}
}

func TestHandleMessageDownloadOfflineRunsInBackground(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.js": "a", "b.js": "b"})
	w := env.deploy(map[string]string{"a.js": "h1", "b.js": "h2"}, "a.js")

	ctx, cancel := context.WithCancel(context.Background())
	if !w.HandleMessage(ctx, MessageDownloadOffline) {
		t.Fatalf("downloadOffline should be recognised")
	}
	cancel()
	w.Wait()

	if got := env.paths(env.keys(ContentStore)); !equalStrings(got, []string{"a.js", "b.js"}) {
		t.Fatalf("content after background prefetch = %v", got)
	}
}

func TestHandleMessageSkipWaitingAndUnknown(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.js": "a"})
	w := env.newWorker(map[string]string{"a.js": "h1"}, "a.js")

	if w.SkipWaitingRequested() {
		t.Fatalf("fresh worker should not request skip waiting")
	}
	if !w.HandleMessage(context.Background(), MessageSkipWaiting) {
		t.Fatalf("skipWaiting should be recognised")
	}
	if !w.SkipWaitingRequested() {
		t.Fatalf("skipWaiting message should set the flag")
	}
	if w.HandleMessage(context.Background(), "reload") {
		t.Fatalf("unknown messages are ignored")
	}
	if names := env.storeNames(); len(names) != 0 {
		t.Fatalf("ignored messages must not touch storage, got %v", names)
	}
}
