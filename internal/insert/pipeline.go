// Package insert implements the insert pipeline of spec §4.5: stamp a
// fresh opaque request_id, validate the incoming chain, compute its
// partition, and emit the data and metadata part files via put_unique.
// The pipeline is callable from any external interface, not tied to
// one transport.
package insert

import (
	"context"
	"time"

	"github.com/webindex/webindex/internal/partition"
	"github.com/webindex/webindex/internal/partition/domain"
	"github.com/webindex/webindex/internal/wmodel"
	"github.com/webindex/webindex/internal/wxerr"
)

// Request is one attempt to record: a type (get/head), the attempt key
// (url, timestamp), its metadata record, and zero or more data hops
// (zero for a failed attempt that produced no response).
type Request struct {
	Type      wmodel.Stream // StreamGet or StreamHead
	URL       string
	Timestamp time.Time
	Metadata  wmodel.MetadataRow
	DataRows  []wmodel.DataRow
}

// DeterministicQuery is the retrieval key returned on a successful
// insert (spec §4.5 step 6).
type DeterministicQuery struct {
	Stream    wmodel.Stream
	URL       string
	Timestamp time.Time
	RequestID string
}

// Pipeline implements spec.md §4.5 steps 1-6 atop a partition.Manager.
type Pipeline struct {
	manager *partition.Manager
	// MetadataFirst controls the write order of step 5: false (the
	// default) writes data then metadata; true writes the opposite
	// skew. The choice is fixed per deployment, not per call.
	MetadataFirst bool
}

// NewPipeline creates a Pipeline writing through manager.
func NewPipeline(manager *partition.Manager) *Pipeline {
	return &Pipeline{manager: manager}
}

// Insert implements spec.md §4.5. On success the data part file (if
// any) and the metadata part file are both durably visible; on
// metadata-write failure after a successful data write, the data part
// file is left in place (M1 can be violated transiently) and the
// caller is expected to retry with the same logical content, which
// mints a new request_id.
func (p *Pipeline) Insert(ctx context.Context, req Request) (DeterministicQuery, error) {
	if !req.Type.IsData() {
		return DeterministicQuery{}, wxerr.Structural(wxerr.CodeInvalidRequestID, "insert type must be a data stream (get/head)")
	}

	for _, row := range req.DataRows {
		if !row.RequestID.IsZero() {
			return DeterministicQuery{}, wxerr.Structural(wxerr.CodeDuplicateRequestID, "data row already carries a request_id")
		}
	}
	if !req.Metadata.RequestID.IsZero() {
		return DeterministicQuery{}, wxerr.Structural(wxerr.CodeDuplicateRequestID, "metadata row already carries a request_id")
	}

	requestID := wmodel.NewRequestID()

	stampedRows := make([]wmodel.DataRow, len(req.DataRows))
	for i, row := range req.DataRows {
		row.RequestID = requestID
		row.URL = req.URL
		if row.Timestamp.IsZero() {
			row.Timestamp = req.Timestamp
		}
		stampedRows[i] = row
	}

	if err := wmodel.ValidateD1(stampedRows); err != nil {
		return DeterministicQuery{}, err
	}

	dom, err := domain.Extract(req.URL)
	if err != nil {
		return DeterministicQuery{}, wxerr.Structural(wxerr.CodeInvalidRequestID, "cannot derive domain from url: "+err.Error())
	}

	key := partition.Key{
		Stream: req.Type,
		Year:   req.Timestamp.Year(),
		Month:  int(req.Timestamp.Month()),
		Domain: dom,
	}
	metadataKey := partition.Key{
		Stream: wmodel.MetadataStreamFor(req.Type),
		Year:   key.Year,
		Month:  key.Month,
		Domain: dom,
	}

	metadata := req.Metadata
	metadata.RequestID = requestID
	metadata.URL = req.URL
	metadata.Timestamp = req.Timestamp

	writeData := func() error {
		if len(stampedRows) == 0 {
			return nil
		}
		_, err := p.manager.WriteDataPart(ctx, key, stampedRows)
		return err
	}
	writeMetadata := func() error {
		_, err := p.manager.WriteMetadataPart(ctx, metadataKey, []wmodel.MetadataRow{metadata})
		return err
	}

	if p.MetadataFirst {
		if err := writeMetadata(); err != nil {
			return DeterministicQuery{}, err
		}
		if err := writeData(); err != nil {
			return DeterministicQuery{}, err
		}
	} else {
		if err := writeData(); err != nil {
			return DeterministicQuery{}, err
		}
		if err := writeMetadata(); err != nil {
			return DeterministicQuery{}, err
		}
	}

	return DeterministicQuery{
		Stream:    req.Type,
		URL:       req.URL,
		Timestamp: req.Timestamp,
		RequestID: requestID.String(),
	}, nil
}
