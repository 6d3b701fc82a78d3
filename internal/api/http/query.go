package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/webindex/webindex/pkg/webindex"
)

// QueryHandler handles POST /v1/query requests: a JSON array of query
// envelopes (pkg/webindex.UnmarshalQueryBatch) in, a JSON array of
// result envelopes (pkg/webindex.MarshalResult) out, same length and
// order (spec §6).
type QueryHandler struct {
	store webindex.Store
}

// NewQueryHandler creates a handler answering batches through store.
func NewQueryHandler(store webindex.Store) *QueryHandler {
	return &QueryHandler{store: store}
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read request body: %v", err), requestID)
		return
	}

	queries, err := webindex.UnmarshalQueryBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	results, err := h.store.QueryBatch(r.Context(), queries)
	if err != nil {
		writeStoreError(w, err, requestID)
		return
	}

	raw := make([]json.RawMessage, len(results))
	for i, res := range results {
		encoded, err := webindex.MarshalResult(res)
		if err != nil {
			writeStoreError(w, err, requestID)
			return
		}
		raw[i] = encoded
	}

	writeJSON(w, http.StatusOK, raw)
}
