package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/webindex/webindex/pkg/webindex"
)

// defragmentRequest names the partition to compact (spec §4.3): one
// (stream, year, month, domain) unit, the same key Insert and
// QueryBatch route reads and writes through.
type defragmentRequest struct {
	Stream string `json:"stream"`
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Domain string `json:"domain"`
}

// DefragmentHandler handles POST /v1/defragment requests, triggering
// the human-held lease/merge/replace sequence on demand for one
// partition.
type DefragmentHandler struct {
	store webindex.Store
}

// NewDefragmentHandler creates a handler defragmenting through store.
func NewDefragmentHandler(store webindex.Store) *DefragmentHandler {
	return &DefragmentHandler{store: store}
}

func (h *DefragmentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req defragmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.Stream == "" || req.Domain == "" || req.Year == 0 || req.Month == 0 {
		writeError(w, http.StatusBadRequest, "stream, year, month and domain are all required", requestID)
		return
	}

	if err := h.store.Defragment(r.Context(), webindex.Stream(req.Stream), req.Year, req.Month, req.Domain); err != nil {
		writeStoreError(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}
