package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/remindfi/remind-network/reminders"
)

func (s *Server) handleVerificationCreate(w http.ResponseWriter, r *http.Request) {
	type request struct {
		TaskID            uint64 `json:"task_id"`
		ClaimantAccountID string `json:"claimant_account_id"`
		ClaimantAddress   string `json:"claimant_address"`
		TargetHandle      string `json:"target_handle"`
		TTLSec            int64  `json:"ttl_sec"`
	}

	var req request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeErr(w, 400, "incorrect request body: "+err.Error())
		return
	}

	v, err := s.svc.CreateVerification(r.Context(), reminders.CreateRequest{
		TaskID:            req.TaskID,
		ClaimantAccountID: req.ClaimantAccountID,
		ClaimantAddress:   req.ClaimantAddress,
		TargetHandle:      req.TargetHandle,
		TTL:               time.Duration(req.TTLSec) * time.Second,
	})
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeResp(w, v)
}

func (s *Server) handleVerificationGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.GetVerification(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeResp(w, v)
}

func (s *Server) handleVerificationCheck(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.CheckVerification(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeResp(w, v)
}
