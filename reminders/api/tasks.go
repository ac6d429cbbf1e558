package api

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/remindfi/remind-network/reminders/chain"
	"github.com/rs/zerolog/hlog"
	"github.com/xssnick/tonutils-go/tlb"
)

type Task struct {
	ID              uint64    `json:"id"`
	Creator         string    `json:"creator"`
	CommitAmount    string    `json:"commit_amount"`
	RewardPool      string    `json:"reward_pool"`
	Deadline        time.Time `json:"deadline"`
	Resolved        bool      `json:"resolved"`
	Description     string    `json:"description"`
	FarcasterHandle string    `json:"farcaster_handle"`
}

func (s *Server) handleTasksList(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Tasks       []Task    `json:"tasks"`
		Refresh     string    `json:"refresh"`
		LastRefresh time.Time `json:"last_refresh"`
	}

	if s.tasks == nil {
		writeErr(w, 501, "chain access is not configured")
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	res, err := s.tasks.Refresh(r.Context(), force)
	if err != nil {
		// stale snapshot is still served
		hlog.FromRequest(r).Warn().Err(err).Msg("task refresh failed")
	}

	snap := s.tasks.Snapshot()
	if err != nil && len(snap) == 0 {
		s.writeServiceErr(w, r, err)
		return
	}

	list := make([]Task, 0, len(snap))
	for _, t := range snap {
		list = append(list, s.convertTask(t))
	}
	writeResp(w, response{Tasks: list, Refresh: string(res), LastRefresh: s.tasks.LastRefresh()})
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeErr(w, 501, "chain access is not configured")
		return
	}

	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeResp(w, s.convertTask(t))
}

func (s *Server) convertTask(t *chain.Task) Task {
	return Task{
		ID:              t.ID,
		Creator:         t.Creator.Hex(),
		CommitAmount:    s.formatAmount(t.CommitAmount),
		RewardPool:      s.formatAmount(t.RewardPool),
		Deadline:        t.Deadline.UTC(),
		Resolved:        t.Resolved,
		Description:     t.Description,
		FarcasterHandle: t.FarcasterHandle,
	}
}

func (s *Server) formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}

	c, err := tlb.FromNano(v, s.cfg.TokenDecimals)
	if err != nil {
		return v.String()
	}
	return c.String()
}
