package integration

import (
	"context"
	"testing"
	"time"

	"github.com/webindex/webindex/pkg/webindex"
)

func insertAttempt(t *testing.T, store webindex.Store, url string, ts time.Time, calibre uint8) {
	t.Helper()
	_, err := store.Insert(context.Background(), webindex.InsertRequest{
		Type:      webindex.StreamGet,
		URL:       url,
		Timestamp: ts,
		Metadata:  webindex.MetadataRow{State: webindex.StateSuccess},
		DataRows: []webindex.DataRow{
			{
				RequestURL:     url,
				StatusCode:     200,
				Headers:        `{}`,
				IsFinal:        true,
				FetcherCalibre: webindex.Calibre(calibre),
			},
		},
	})
	if err != nil {
		t.Fatalf("insert at %s calibre %d failed: %v", ts, calibre, err)
	}
}

// TestSimpleLatestRespectsCalibreFloor covers S3: a simple query filters
// out attempts below the requested calibre and returns the latest
// surviving one; omitting calibre returns the true latest.
func TestSimpleLatestRespectsCalibreFloor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 8, 15, 9, 0, 0, 0, time.UTC)
	t1, t2, t3 := base, base.Add(time.Hour), base.Add(2*time.Hour)
	insertAttempt(t, store, "http://x/", t1, 30)
	insertAttempt(t, store, "http://x/", t2, 70)
	insertAttempt(t, store, "http://x/", t3, 20)

	calibre := webindex.Calibre(50)
	results, err := store.QueryBatch(ctx, []webindex.Query{
		{Kind: webindex.KindSimple, Stream: webindex.StreamGet, URL: "http://x/", Calibre: &calibre, CalibreStrict: false},
		{Kind: webindex.KindSimple, Stream: webindex.StreamGet, URL: "http://x/"},
	})
	if err != nil {
		t.Fatalf("query batch failed: %v", err)
	}

	if results[0].Page == nil || !results[0].Page.Hops[0].Timestamp.Equal(t2) {
		t.Fatalf("expected the T2 page with calibre floor 50, got %+v", results[0])
	}
	if results[1].Page == nil || !results[1].Page.Hops[0].Timestamp.Equal(t3) {
		t.Fatalf("expected the T3 page with no calibre filter, got %+v", results[1])
	}
}

// TestTimeBoundedNearestToTarget covers S4: a time-bounded query picks
// the one attempt inside [not_before, not_after] nearest the target.
func TestTimeBoundedNearestToTarget(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC)
	insertAttempt(t, store, "http://y/", day.Add(9*time.Hour), 50)
	insertAttempt(t, store, "http://y/", day.Add(10*time.Hour), 50)
	insertAttempt(t, store, "http://y/", day.Add(11*time.Hour), 50)

	results, err := store.QueryBatch(ctx, []webindex.Query{
		{
			Kind:      webindex.KindTimeBounded,
			Stream:    webindex.StreamGet,
			URL:       "http://y/",
			NotBefore: day.Add(9*time.Hour + 30*time.Minute),
			NotAfter:  day.Add(10*time.Hour + 30*time.Minute),
			Target:    day.Add(10*time.Hour + 20*time.Minute),
		},
	})
	if err != nil {
		t.Fatalf("query batch failed: %v", err)
	}
	want := day.Add(10 * time.Hour)
	if results[0].Page == nil || !results[0].Page.Hops[0].Timestamp.Equal(want) {
		t.Fatalf("expected the 10:00 attempt, got %+v", results[0])
	}
}
