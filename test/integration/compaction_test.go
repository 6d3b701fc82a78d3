package integration

import (
	"context"
	"testing"
	"time"

	"github.com/webindex/webindex/pkg/webindex"
)

// TestDefragmentPreservesQueryResults covers S6: populating one
// partition with several part files, defragmenting it, and checking
// that a simple query against it returns the same latest page as before.
func TestDefragmentPreservesQueryResults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 8, 15, 9, 0, 0, 0, time.UTC)
	const n = 5
	for i := 0; i < n; i++ {
		insertAttempt(t, store, "http://z/", base.Add(time.Duration(i)*time.Hour), 50)
	}

	before, err := store.QueryBatch(ctx, []webindex.Query{
		{Kind: webindex.KindSimple, Stream: webindex.StreamGet, URL: "http://z/"},
	})
	if err != nil {
		t.Fatalf("pre-defrag query failed: %v", err)
	}
	if before[0].Page == nil {
		t.Fatalf("expected a page before defrag, got %+v", before[0])
	}
	wantTS := before[0].Page.Hops[0].Timestamp

	if err := store.Defragment(ctx, webindex.StreamGet, base.Year(), int(base.Month()), "z"); err != nil {
		t.Fatalf("defragment failed: %v", err)
	}

	after, err := store.QueryBatch(ctx, []webindex.Query{
		{Kind: webindex.KindSimple, Stream: webindex.StreamGet, URL: "http://z/"},
	})
	if err != nil {
		t.Fatalf("post-defrag query failed: %v", err)
	}
	if after[0].Page == nil || !after[0].Page.Hops[0].Timestamp.Equal(wantTS) {
		t.Fatalf("expected the same latest page after defrag, got %+v", after[0])
	}
}
