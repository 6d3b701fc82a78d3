// Package query implements the planner and executor of spec §4.4: a
// batch of queries in, a result vector of the same length and order
// out, with the four query algorithms (deterministic, simple, time-
// bounded, presence) and chain assembly.
package query

import (
	"time"

	"github.com/webindex/webindex/internal/wmodel"
)

// Kind selects one of the three retrieval algorithms of spec §4.4; the
// presence variant (§4.4.4) is selected by Query.PresenceOnly on top of
// any Kind.
type Kind int

const (
	KindDeterministic Kind = iota
	KindSimple
	KindTimeBounded
)

// Query is one slot of a QueryBatch request.
type Query struct {
	Kind   Kind
	Stream wmodel.Stream
	URL    string

	// Deterministic (§4.4.1): exact attempt identity.
	Timestamp time.Time
	RequestID string

	// Simple (§4.4.2) and time-bounded (§4.4.3).
	Calibre       *wmodel.Calibre
	CalibreStrict bool

	// Time-bounded only (§4.4.3).
	NotBefore time.Time
	NotAfter  time.Time
	Target    time.Time

	// PresenceOnly implements §4.4.4: same planning and partition order
	// as the corresponding retrieval query, but the result carries only
	// Found, short-circuiting on the first match.
	PresenceOnly bool
}

// Result answers one Query slot: a Page, a Metadata row, a presence
// boolean, or an error — never more than one of Page/Metadata is set.
type Result struct {
	Page     *wmodel.Page
	Metadata *wmodel.MetadataRow
	Found    bool
	Err      error
}
