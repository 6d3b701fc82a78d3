package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/webindex/webindex/pkg/webindex"
)

// insertEnvelope is the JSON wire form of one attempt to record,
// mirroring pkg/webindex/envelope.go's flat, field-per-case style for
// the query envelope.
type insertEnvelope struct {
	Type      string         `json:"type"`
	URL       string         `json:"url"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  metadataRowEnv `json:"metadata"`
	DataRows  []dataRowEnv   `json:"data_rows,omitempty"`
}

type dataRowEnv struct {
	RequestURL     string `json:"request_url"`
	StatusCode     uint16 `json:"status_code"`
	Data           []byte `json:"data,omitempty"`
	Headers        string `json:"headers"`
	IsFinal        bool   `json:"is_final"`
	FetcherName    string `json:"fetcher_name"`
	FetcherVersion string `json:"fetcher_version"`
	FetcherCalibre uint8  `json:"fetcher_calibre"`
}

type metadataRowEnv struct {
	State     string   `json:"state"`
	Logs      *string  `json:"logs,omitempty"`
	Traceback *string  `json:"traceback,omitempty"`
	RunTime   *float64 `json:"run_time,omitempty"`
}

// ingestResponse is the deterministic query that retrieves exactly the
// record just written (spec §4.5 step 6).
type ingestResponse struct {
	Stream    string `json:"stream"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
}

// IngestHandler handles POST /v1/insert requests, translating the wire
// envelope into an InsertRequest and delegating to a webindex.Store.
type IngestHandler struct {
	store webindex.Store
}

// NewIngestHandler creates a handler inserting through store.
func NewIngestHandler(store webindex.Store) *IngestHandler {
	return &IngestHandler{store: store}
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var env insertEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	req, err := toInsertRequest(env)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	result, err := h.store.Insert(r.Context(), req)
	if err != nil {
		writeStoreError(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Stream:    string(result.Stream),
		URL:       result.URL,
		Timestamp: result.Timestamp.Format(time.RFC3339Nano),
		RequestID: result.RequestID,
	})
}

func toInsertRequest(env insertEnvelope) (webindex.InsertRequest, error) {
	var stream webindex.Stream
	switch env.Type {
	case "get":
		stream = webindex.StreamGet
	case "head":
		stream = webindex.StreamHead
	default:
		return webindex.InsertRequest{}, fmt.Errorf("type must be \"get\" or \"head\", got %q", env.Type)
	}

	dataRows := make([]webindex.DataRow, len(env.DataRows))
	for i, d := range env.DataRows {
		dataRows[i] = webindex.DataRow{
			RequestURL:     d.RequestURL,
			StatusCode:     d.StatusCode,
			Data:           d.Data,
			Headers:        d.Headers,
			IsFinal:        d.IsFinal,
			FetcherName:    d.FetcherName,
			FetcherVersion: d.FetcherVersion,
			FetcherCalibre: webindex.Calibre(d.FetcherCalibre),
		}
	}

	return webindex.InsertRequest{
		Type:      stream,
		URL:       env.URL,
		Timestamp: env.Timestamp,
		Metadata: webindex.MetadataRow{
			State:     webindex.AttemptState(env.Metadata.State),
			Logs:      env.Metadata.Logs,
			Traceback: env.Metadata.Traceback,
			RunTime:   env.Metadata.RunTime,
		},
		DataRows: dataRows,
	}, nil
}
