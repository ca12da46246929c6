package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tillpoint/posgo/internal/models"
	"github.com/tillpoint/posgo/internal/receipt"
	"github.com/tillpoint/posgo/internal/server"
	"github.com/tillpoint/posgo/internal/store"
	"github.com/tillpoint/posgo/internal/sync"
)

// createSale runs a sale through the offline interceptor. A queued result
// returns HTTP 202 so the UI can show the provisional state.
func (r *Router) createSale(w http.ResponseWriter, req *http.Request) {
	var draft models.SaleDraft
	if err := json.NewDecoder(req.Body).Decode(&draft); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid sale draft: %v", err))
		return
	}
	if draft.TerminalID == "" {
		draft.TerminalID = r.cfg.TerminalID
	}

	result, err := r.interceptor.CreateSale(req.Context(), draft)
	if err != nil {
		respondSaleError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Source != sync.SourceServer {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

// respondSaleError maps the write-path error taxonomy onto HTTP codes
func respondSaleError(w http.ResponseWriter, err error) {
	var bizErr *server.BusinessRejection
	var valErr *server.ValidationConflict

	switch {
	case errors.Is(err, store.ErrStorageUnavailable):
		respondError(w, http.StatusInsufficientStorage, err.Error())
	case errors.As(err, &valErr):
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "validation conflict",
			"conflicts": valErr.Resources,
		})
	case errors.As(err, &bizErr):
		respondError(w, bizErr.StatusCode, bizErr.Message)
	default:
		respondError(w, http.StatusBadRequest, err.Error())
	}
}

// getReceipt renders the receipt PDF for a queued or synced sale
func (r *Router) getReceipt(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	tx, err := r.store.GetTransaction(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	rec, err := receipt.FromTransaction(tx, r.cfg.TerminalID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pdf, err := receipt.Generate(rec)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "receipt-"+id+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// discardSale deletes a failed or abandoned transaction after explicit user
// confirmation. The optimistic local effect is the caller's to reverse.
func (r *Router) discardSale(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	if err := r.store.DiscardFailed(id); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"discarded": id})
}
