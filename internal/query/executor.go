package query

import (
	"context"
	"sync"
	"time"

	"github.com/webindex/webindex/internal/codec"
	"github.com/webindex/webindex/internal/observability"
	"github.com/webindex/webindex/internal/partition"
	"github.com/webindex/webindex/internal/partition/domain"
	"github.com/webindex/webindex/internal/wmodel"
	"github.com/webindex/webindex/internal/wxerr"
)

// Executor runs a Plan's partition reads with a bounded worker pool: a
// semaphore-guarded goroutine per unit of work, capped at
// config.ReadConcurrency.
type Executor struct {
	manager     *partition.Manager
	concurrency int
	stats       *observability.QueryStats
}

// NewExecutor creates an Executor reading through manager, running at
// most concurrency partition reads at once.
func NewExecutor(manager *partition.Manager, concurrency int) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Executor{manager: manager, concurrency: concurrency, stats: observability.NewQueryStats()}
}

// Stats exposes the executor's per-query-kind latency tracker.
func (e *Executor) Stats() *observability.QueryStats {
	return e.stats
}

// Execute answers every query in the batch that plan was built from,
// returning a result vector of the same length and order.
func (e *Executor) Execute(ctx context.Context, plan *Plan, queries []Query) []Result {
	results := make([]Result, len(queries))
	for i, err := range plan.errs {
		results[i] = Result{Err: err}
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for key, indices := range plan.deterministicGroups {
		wg.Add(1)
		go func(key partition.Key, indices []int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				for _, idx := range indices {
					results[idx] = Result{Err: wxerr.Cancelled()}
				}
				return
			}
			start := time.Now()
			e.executeDeterministicGroup(ctx, key, indices, queries, results)
			elapsed := time.Since(start)
			for _, idx := range indices {
				e.stats.Record("deterministic", elapsed, results[idx].Found, results[idx].Err)
			}
		}(key, indices)
	}

	for _, idx := range plan.other {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = Result{Err: wxerr.Cancelled()}
				return
			}
			start := time.Now()
			results[idx] = e.executeSingle(ctx, queries[idx])
			e.stats.Record(queryKindLabel(queries[idx]), time.Since(start), results[idx].Found, results[idx].Err)
		}(idx)
	}

	wg.Wait()
	return results
}

func queryKindLabel(q Query) string {
	switch q.Kind {
	case KindSimple:
		return "simple"
	case KindTimeBounded:
		return "time_bounded"
	default:
		return "other"
	}
}

func (e *Executor) executeDeterministicGroup(ctx context.Context, key partition.Key, indices []int, queries []Query, results []Result) {
	if key.Stream.IsData() {
		rows, err := e.manager.ReadData(ctx, key, codec.Predicate{})
		if err != nil {
			for _, idx := range indices {
				results[idx] = Result{Err: err}
			}
			return
		}
		byRequestID := groupDataByRequestID(rows)
		for _, idx := range indices {
			results[idx] = resolveDeterministicData(queries[idx], byRequestID)
		}
		return
	}

	rows, err := e.manager.ReadMetadata(ctx, key, codec.Predicate{})
	if err != nil {
		for _, idx := range indices {
			results[idx] = Result{Err: err}
		}
		return
	}
	byRequestID := make(map[string]wmodel.MetadataRow, len(rows))
	for _, r := range rows {
		byRequestID[r.RequestID.Raw()] = r
	}
	for _, idx := range indices {
		results[idx] = resolveDeterministicMetadata(queries[idx], byRequestID)
	}
}

func resolveDeterministicData(q Query, byRequestID map[string][]wmodel.DataRow) Result {
	rid, ok := wmodel.ParseRequestID(q.RequestID)
	if !ok {
		return Result{Err: wxerr.Structural(wxerr.CodeInvalidRequestID, "malformed request_id in query")}
	}
	hops, ok := byRequestID[rid.Raw()]
	if !ok {
		return Result{Found: false}
	}
	if q.PresenceOnly {
		return Result{Found: true}
	}
	page, err := wmodel.AssembleChain(hops)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Page: &page, Found: true}
}

func resolveDeterministicMetadata(q Query, byRequestID map[string]wmodel.MetadataRow) Result {
	rid, ok := wmodel.ParseRequestID(q.RequestID)
	if !ok {
		return Result{Err: wxerr.Structural(wxerr.CodeInvalidRequestID, "malformed request_id in query")}
	}
	row, ok := byRequestID[rid.Raw()]
	if !ok {
		return Result{Found: false}
	}
	if q.PresenceOnly {
		return Result{Found: true}
	}
	return Result{Metadata: &row, Found: true}
}

// executeSingle dispatches a simple or time-bounded query; deterministic
// queries never reach here (they're answered by executeDeterministicGroup).
func (e *Executor) executeSingle(ctx context.Context, q Query) Result {
	switch q.Kind {
	case KindSimple:
		return e.executeSimple(ctx, q)
	case KindTimeBounded:
		return e.executeTimeBounded(ctx, q)
	default:
		return Result{Err: wxerr.Internal("unknown query kind", nil)}
	}
}

// executeSimple implements spec §4.4.2: scan months from most to least
// recent, tracking the latest-timestamp match, stopping at the first
// month that produced one (no later month can beat it).
func (e *Executor) executeSimple(ctx context.Context, q Query) Result {
	dom, err := domain.Extract(q.URL)
	if err != nil {
		return Result{Err: err}
	}
	months, err := e.manager.DiscoverMonths(ctx, q.Stream, dom)
	if err != nil {
		return Result{Err: err}
	}

	pred := codec.Predicate{URL: &q.URL, Calibre: q.Calibre, CalibreStrict: q.CalibreStrict}

	if q.Stream.IsData() {
		for _, ym := range months {
			key := partition.Key{Stream: q.Stream, Year: ym.Year, Month: ym.Month, Domain: dom}
			rows, err := e.manager.ReadData(ctx, key, pred)
			if err != nil {
				return Result{Err: err}
			}
			if hops := latestChain(groupDataByRequestID(rows)); hops != nil {
				if q.PresenceOnly {
					return Result{Found: true}
				}
				page, err := wmodel.AssembleChain(hops)
				if err != nil {
					return Result{Err: err}
				}
				return Result{Page: &page, Found: true}
			}
		}
		return Result{Found: false}
	}

	for _, ym := range months {
		key := partition.Key{Stream: q.Stream, Year: ym.Year, Month: ym.Month, Domain: dom}
		rows, err := e.manager.ReadMetadata(ctx, key, pred)
		if err != nil {
			return Result{Err: err}
		}
		if winner := latestMetadata(rows); winner != nil {
			if q.PresenceOnly {
				return Result{Found: true}
			}
			return Result{Metadata: winner, Found: true}
		}
	}
	return Result{Found: false}
}

// executeTimeBounded implements spec §4.4.3: read every month
// intersecting [not_before, not_after], keep survivors within that
// window, and return the one nearest to the target instant.
func (e *Executor) executeTimeBounded(ctx context.Context, q Query) Result {
	dom, err := domain.Extract(q.URL)
	if err != nil {
		return Result{Err: err}
	}

	months := monthsBetween(q.NotBefore, q.NotAfter)
	notBefore, notAfter := q.NotBefore, q.NotAfter
	pred := codec.Predicate{
		URL:           &q.URL,
		Calibre:       q.Calibre,
		CalibreStrict: q.CalibreStrict,
		TimestampMin:  &notBefore,
		TimestampMax:  &notAfter,
	}

	if q.Stream.IsData() {
		var candidates []candidateChain
		for _, ym := range months {
			key := partition.Key{Stream: q.Stream, Year: ym.Year, Month: ym.Month, Domain: dom}
			rows, err := e.manager.ReadData(ctx, key, pred)
			if err != nil {
				return Result{Err: err}
			}
			if q.PresenceOnly && len(rows) > 0 {
				return Result{Found: true}
			}
			for rid, hops := range groupDataByRequestID(rows) {
				candidates = append(candidates, candidateChain{requestID: rid, timestamp: hops[0].Timestamp, hops: hops})
			}
		}
		winner := nearestChain(candidates, q.Target)
		if winner == nil {
			return Result{Found: false}
		}
		if q.PresenceOnly {
			return Result{Found: true}
		}
		page, err := wmodel.AssembleChain(winner.hops)
		if err != nil {
			return Result{Err: err}
		}
		return Result{Page: &page, Found: true}
	}

	var survivors []wmodel.MetadataRow
	for _, ym := range months {
		key := partition.Key{Stream: q.Stream, Year: ym.Year, Month: ym.Month, Domain: dom}
		rows, err := e.manager.ReadMetadata(ctx, key, pred)
		if err != nil {
			return Result{Err: err}
		}
		if q.PresenceOnly && len(rows) > 0 {
			return Result{Found: true}
		}
		survivors = append(survivors, rows...)
	}
	winner := nearestMetadata(survivors, q.Target)
	if winner == nil {
		return Result{Found: false}
	}
	if q.PresenceOnly {
		return Result{Found: true}
	}
	return Result{Metadata: winner, Found: true}
}

func groupDataByRequestID(rows []wmodel.DataRow) map[string][]wmodel.DataRow {
	grouped := make(map[string][]wmodel.DataRow)
	for _, r := range rows {
		rid := r.RequestID.Raw()
		grouped[rid] = append(grouped[rid], r)
	}
	return grouped
}

// latestChain picks the chain with the greatest timestamp, taking each
// chain's timestamp from the first of its rows as read, breaking ties by the
// greatest request_id lexicographically per spec §9 Open Question 2.
func latestChain(grouped map[string][]wmodel.DataRow) []wmodel.DataRow {
	var bestRows []wmodel.DataRow
	var bestRequestID wmodel.RequestID
	var bestTimestamp time.Time
	first := true

	for rid, rows := range grouped {
		if len(rows) == 0 {
			continue
		}
		parsed, _ := wmodel.ParseRequestID(rid)
		ts := rows[0].Timestamp
		if first || ts.After(bestTimestamp) || (ts.Equal(bestTimestamp) && bestRequestID.Less(parsed)) {
			bestRows, bestRequestID, bestTimestamp, first = rows, parsed, ts, false
		}
	}
	return bestRows
}

func latestMetadata(rows []wmodel.MetadataRow) *wmodel.MetadataRow {
	var best *wmodel.MetadataRow
	for i := range rows {
		r := &rows[i]
		if best == nil || r.Timestamp.After(best.Timestamp) || (r.Timestamp.Equal(best.Timestamp) && best.RequestID.Less(r.RequestID)) {
			best = r
		}
	}
	return best
}

type candidateChain struct {
	requestID string
	timestamp time.Time
	hops      []wmodel.DataRow
}

// nearestChain picks the candidate minimizing |timestamp - target|,
// ties broken by later timestamp then greatest request_id (spec §4.4.3).
func nearestChain(candidates []candidateChain, target time.Time) *candidateChain {
	var best *candidateChain
	var bestDist time.Duration
	for i := range candidates {
		c := &candidates[i]
		dist := absDuration(c.timestamp.Sub(target))
		if best == nil || dist < bestDist || (dist == bestDist && betterTimeBoundedTie(c.timestamp, c.requestID, best.timestamp, best.requestID)) {
			best, bestDist = c, dist
		}
	}
	return best
}

func nearestMetadata(rows []wmodel.MetadataRow, target time.Time) *wmodel.MetadataRow {
	var best *wmodel.MetadataRow
	var bestDist time.Duration
	for i := range rows {
		r := &rows[i]
		dist := absDuration(r.Timestamp.Sub(target))
		if best == nil || dist < bestDist || (dist == bestDist && betterTimeBoundedTie(r.Timestamp, r.RequestID.Raw(), best.Timestamp, best.RequestID.Raw())) {
			best, bestDist = r, dist
		}
	}
	return best
}

func betterTimeBoundedTie(ts time.Time, requestID string, bestTS time.Time, bestRequestID string) bool {
	if ts.After(bestTS) {
		return true
	}
	if ts.Before(bestTS) {
		return false
	}
	return requestID > bestRequestID
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// monthsBetween enumerates every (year, month) whose calendar month
// intersects [from, to], inclusive, descending (matching the order the
// retrieval algorithms and their presence variants read partitions in).
func monthsBetween(from, to time.Time) []partition.YearMonth {
	if to.Before(from) {
		from, to = to, from
	}
	var months []partition.YearMonth
	cursor := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	floor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.Before(floor) {
		months = append(months, partition.YearMonth{Year: cursor.Year(), Month: int(cursor.Month())})
		cursor = cursor.AddDate(0, -1, 0)
	}
	return months
}
