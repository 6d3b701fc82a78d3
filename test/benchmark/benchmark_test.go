// Package benchmark measures throughput of the hot paths of the
// webindex engine: inserts, batch queries, the bloom filter predicate
// push-down, and the local object-store backend underneath both.
package benchmark

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/webindex/webindex/internal/codec/bloom"
	"github.com/webindex/webindex/internal/config"
	"github.com/webindex/webindex/internal/objstore"
	"github.com/webindex/webindex/pkg/webindex"
)

func newBenchStore(b *testing.B) webindex.Store {
	b.Helper()
	tmpDir, err := os.MkdirTemp("", "webindex-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { os.RemoveAll(tmpDir) })

	cfg := config.DefaultConfig()
	cfg.Bucket = "bench"
	cfg.Storage.Path = tmpDir

	store, err := webindex.New(context.Background(), cfg)
	if err != nil {
		b.Fatal(err)
	}
	return store
}

// BenchmarkInsert measures single-attempt insert throughput: one
// metadata row plus one data hop per attempt, cycling through 100
// domains (i%100) to spread writes across partitions the way a live crawl fleet would.
func BenchmarkInsert(b *testing.B) {
	store := newBenchStore(b)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		url := fmt.Sprintf("http://site%d.example/page", i%100)
		_, err := store.Insert(ctx, webindex.InsertRequest{
			Type:      webindex.StreamGet,
			URL:       url,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Metadata:  webindex.MetadataRow{State: webindex.StateSuccess},
			DataRows: []webindex.DataRow{
				{
					RequestURL:     url,
					StatusCode:     200,
					Headers:        `{"content-type":"text/html"}`,
					Data:           []byte("<html></html>"),
					IsFinal:        true,
					FetcherCalibre: 80,
				},
			},
		})
		if err != nil {
			b.Fatal(err)
		}
	}
	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "inserts/sec")
}

// BenchmarkSimpleQuery measures latest-attempt query throughput after
// pre-loading one domain with a month's worth of attempts.
func BenchmarkSimpleQuery(b *testing.B) {
	store := newBenchStore(b)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	const url = "http://bench.example/page"

	for i := 0; i < 200; i++ {
		_, err := store.Insert(ctx, webindex.InsertRequest{
			Type:      webindex.StreamGet,
			URL:       url,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Metadata:  webindex.MetadataRow{State: webindex.StateSuccess},
			DataRows: []webindex.DataRow{
				{RequestURL: url, StatusCode: 200, Headers: `{}`, IsFinal: true, FetcherCalibre: 80},
			},
		})
		if err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		results, err := store.QueryBatch(ctx, []webindex.Query{
			{Kind: webindex.KindSimple, Stream: webindex.StreamGet, URL: url},
		})
		if err != nil {
			b.Fatal(err)
		}
		if results[0].Page == nil {
			b.Fatal("expected a page")
		}
	}
}

// BenchmarkBloomFilterLookup measures predicate push-down lookup cost
// against a filter sized for 10,000 distinct URLs.
func BenchmarkBloomFilterLookup(b *testing.B) {
	filter := bloom.NewWithEstimates(10000, 0.01)
	for i := 0; i < 10000; i++ {
		filter.Add([]byte(fmt.Sprintf("http://site%d.example/page", i)))
	}
	key := []byte("http://site5000.example/page")

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		filter.Contains(key)
	}
}

// BenchmarkBloomFilterFalsePositiveRate checks the filter holds its
// advertised false-positive rate under load; not a pure throughput
// benchmark, but run via `go test -bench` like the others.
func BenchmarkBloomFilterFalsePositiveRate(b *testing.B) {
	const numItems = 10000
	filter := bloom.NewWithEstimates(numItems, 0.01)
	for i := 0; i < numItems; i++ {
		filter.Add([]byte(fmt.Sprintf("http://site%d.example/page", i)))
	}

	falsePositives := 0
	const testCount = 100000
	for i := 0; i < testCount; i++ {
		key := []byte(fmt.Sprintf("http://absent%d.example/page", i))
		if filter.Contains(key) {
			falsePositives++
		}
	}

	rate := float64(falsePositives) / float64(testCount)
	b.ReportMetric(rate*100, "FPR%")
	if rate > 0.011 {
		b.Errorf("false positive rate %.4f exceeds target 1.1%%", rate)
	}
}

// BenchmarkLocalStorePutGet measures the object-store round trip
// underneath every partition read and write.
func BenchmarkLocalStorePutGet(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "webindex-bench-store-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := objstore.NewLocalStore(tmpDir)
	if err != nil {
		b.Fatal(err)
	}

	body := make([]byte, 1<<20)
	for i := range body {
		body[i] = byte(i % 256)
	}
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		key, err := store.PutUnique(ctx, "get/2024/01/bench", body)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := store.Get(ctx, key); err != nil {
			b.Fatal(err)
		}
	}
}
