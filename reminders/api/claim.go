package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/remindfi/remind-network/reminders"
)

func (s *Server) handleClaimSign(w http.ResponseWriter, r *http.Request) {
	auth, err := s.svc.AuthorizeClaim(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeResp(w, auth)
}

func (s *Server) handleClaimSubmit(w http.ResponseWriter, r *http.Request) {
	type response struct {
		*reminders.ClaimAuthorization
		TxHash string `json:"tx_hash"`
	}

	auth, hash, err := s.svc.SubmitClaim(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeResp(w, response{ClaimAuthorization: auth, TxHash: hash.Hex()})
}

func (s *Server) handleTaskReclaim(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	hash, err := s.svc.Reclaim(r.Context(), id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeResp(w, map[string]string{"tx_hash": hash.Hex()})
}

func (s *Server) handleTaskBurn(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	hash, err := s.svc.Burn(r.Context(), id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeResp(w, map[string]string{"tx_hash": hash.Hex()})
}

func parseTaskID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeErr(w, 400, "incorrect task id")
		return 0, false
	}
	return id, true
}
