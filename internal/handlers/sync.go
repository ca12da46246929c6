package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tillpoint/posgo/internal/sync"
	"github.com/tillpoint/posgo/internal/utils"
)

// syncNow requests an immediate drain of the offline queue
func (r *Router) syncNow(w http.ResponseWriter, req *http.Request) {
	r.engine.SyncNow("manual")
	respondJSON(w, http.StatusAccepted, map[string]string{"sync": "requested"})
}

// recheckConnectivity forces a reachability probe (e.g. on foreground resume)
func (r *Router) recheckConnectivity(w http.ResponseWriter, req *http.Request) {
	r.monitor.Recheck()
	respondJSON(w, http.StatusAccepted, map[string]string{"recheck": "requested"})
}

// getSyncLog returns the audit trail for one transaction
func (r *Router) getSyncLog(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	entries, err := r.store.ListSyncLog(id)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transaction_id": id,
		"entries":        entries,
	})
}

// listConflicts returns unresolved conflicts grouped by transaction
func (r *Router) listConflicts(w http.ResponseWriter, req *http.Request) {
	groups, err := r.conflicts.ListPending()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(groups),
		"groups": groups,
	})
}

// resolveRequest is the body of POST /api/conflicts/{id}/resolve
type resolveRequest struct {
	sync.Decision
	OperatorPIN string `json:"operatorPin,omitempty"`
}

// resolveConflict applies a user decision to a conflict record. When an
// operator PIN hash is configured, the decision must carry a matching PIN.
func (r *Router) resolveConflict(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	var body resolveRequest
	if err := decodeJSON(req, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if hash := r.cfg.Server.OperatorPINHash; hash != "" {
		if !utils.CheckPINHash(body.OperatorPIN, hash) {
			respondError(w, http.StatusForbidden, "operator PIN required")
			return
		}
	}

	if err := r.conflicts.Resolve(id, body.Decision); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"resolved": id})
}
