package httpapi

import (
	"net/http"
	"strings"

	"agrotrace.org/internal/access"
	"agrotrace.org/internal/obs"
	"agrotrace.org/internal/stream"
)

func (a *API) handleBatchesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	principal, ok := requirePrincipal(w, r, a)
	if !ok {
		return
	}
	if err := a.policy.Authorize(r.Context(), principal, access.OpCreateBatch); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req struct {
		BatchID    string   `json:"batch_id"`
		ProductIDs []uint64 `json:"product_ids"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	b, err := a.batches.Create(r.Context(), principal, req.BatchID, req.ProductIDs)
	obs.CountLedgerOp(string(access.OpCreateBatch), err)
	if err != nil {
		handleBatchError(w, r, err)
		return
	}

	a.audit(r.Context(), "batch.created", "batch", b.ID, nil)
	a.stream.Publish(stream.Event{
		Type:    stream.EventBatchCreated,
		BatchID: b.ID,
		Actor:   principal,
	})

	w.Header().Set("Location", "/v1/batches/"+b.ID)
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) handleBatchResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	batchID := strings.TrimPrefix(r.URL.Path, "/v1/batches/")
	if batchID == "" || strings.Contains(batchID, "/") {
		http.NotFound(w, r)
		return
	}

	b, err := a.batches.Get(r.Context(), batchID)
	if err != nil {
		handleBatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
