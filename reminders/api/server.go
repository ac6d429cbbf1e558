package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/remindfi/remind-network/reminders"
	"github.com/remindfi/remind-network/reminders/chain"
	"github.com/remindfi/remind-network/reminders/chain/client"
	"github.com/remindfi/remind-network/reminders/db"
	"github.com/remindfi/remind-network/reminders/oracle"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type Service interface {
	CreateVerification(ctx context.Context, req reminders.CreateRequest) (*db.Verification, error)
	GetVerification(ctx context.Context, id string) (*db.Verification, error)
	CheckVerification(ctx context.Context, id string) (*db.Verification, error)
	HandlePostEvent(ctx context.Context, ev reminders.PostEvent) int

	AuthorizeClaim(ctx context.Context, id string) (*reminders.ClaimAuthorization, error)
	SubmitClaim(ctx context.Context, id string) (*reminders.ClaimAuthorization, common.Hash, error)
	Reclaim(ctx context.Context, taskID uint64) (common.Hash, error)
	Burn(ctx context.Context, taskID uint64) (common.Hash, error)
}

type Tasks interface {
	Refresh(ctx context.Context, force bool) (chain.RefreshResult, error)
	Get(ctx context.Context, id uint64) (*chain.Task, error)
	Snapshot() []*chain.Task
	LastRefresh() time.Time
}

type Accounts interface {
	LookupAccountByAddress(ctx context.Context, address string) (*oracle.Account, error)
}

type Success struct {
	Success bool `json:"success"`
}

type Error struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

type Credentials struct {
	Login    string
	Password string
}

type Config struct {
	WebhookSecret  string
	Credentials    *Credentials
	TokenDecimals  int
	MetricsEnabled bool
}

type Server struct {
	svc      Service
	tasks    Tasks
	accounts Accounts
	cfg      Config
	log      zerolog.Logger
	srv      http.Server
}

// NewServer builds the http api, tasks may be nil when no chain endpoints are configured.
func NewServer(addr string, svc Service, tasks Tasks, cfg Config, logger zerolog.Logger) *Server {
	s := &Server{
		svc:   svc,
		tasks: tasks,
		cfg:   cfg,
		log:   logger.With().Str("source", "api").Logger(),
	}

	s.srv = http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetAccounts enables social account lookups for clients resolving their account id.
func (s *Server) SetAccounts(a Accounts) {
	s.accounts = a
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeResp(w, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/verification", s.handleVerificationCreate)
		r.Get("/verification/{id}", s.handleVerificationGet)
		r.Post("/verification/{id}/check", s.handleVerificationCheck)

		r.Post("/webhook/cast", s.handleWebhookCast)

		r.Get("/account/{address}", s.handleAccountGet)

		r.Post("/claim/{id}/sign", s.handleClaimSign)
		r.Post("/claim/{id}/submit", s.checkCredentials(s.handleClaimSubmit))

		r.Get("/tasks", s.handleTasksList)
		r.Get("/tasks/{id}", s.handleTaskGet)
		r.Post("/tasks/{id}/reclaim", s.checkCredentials(s.handleTaskReclaim))
		r.Post("/tasks/{id}/burn", s.checkCredentials(s.handleTaskBurn))
	})

	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) Start() error {
	s.srv.Handler = s.Handler()
	s.log.Info().Str("addr", s.srv.Addr).Msg("api server starting")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) checkCredentials(handler func(w http.ResponseWriter, r *http.Request)) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Credentials != nil {
			login, password, ok := r.BasicAuth()
			if !ok {
				writeErr(w, 401, "unauthorized")
				return
			}

			if s.cfg.Credentials.Password != password || s.cfg.Credentials.Login != login {
				writeErr(w, 401, "unauthorized")
				return
			}
		}

		handler(w, r)
	}
}

// writeServiceErr maps service failures to http statuses.
func (s *Server) writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, reminders.ErrValidation):
		writeErr(w, 400, err.Error())
	case errors.Is(err, db.ErrNotFound):
		writeErr(w, 404, "not found")
	case errors.Is(err, reminders.ErrNotVerified):
		writeJSON(w, 409, Error{Error: err.Error(), Status: "not_verified"})
	case errors.Is(err, reminders.ErrExpired):
		writeJSON(w, 410, Error{Error: err.Error(), Status: "expired"})
	case errors.Is(err, oracle.ErrUnavailable):
		writeErr(w, 503, "social graph is unavailable, retry later")
	case errors.Is(err, chain.ErrFatal):
		writeJSON(w, 422, Error{Error: err.Error(), Status: "rejected"})
	case errors.Is(err, chain.ErrChainExhausted):
		writeErr(w, 502, "chain endpoints are unavailable, retry later")
	case errors.Is(err, reminders.ErrNoSigner), errors.Is(err, reminders.ErrNoLedger), errors.Is(err, client.ErrNoRelayer):
		writeErr(w, 501, err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeErr(w, 500, "internal error")
	}
}

func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request) {
	type response struct {
		ID          string   `json:"id"`
		Handle      string   `json:"handle"`
		DisplayName string   `json:"display_name"`
		Score       *float64 `json:"score,omitempty"`
	}

	if s.accounts == nil {
		writeErr(w, 501, "account lookup is not configured")
		return
	}

	addr := chi.URLParam(r, "address")
	if !common.IsHexAddress(addr) {
		writeErr(w, 400, "incorrect address")
		return
	}

	acc, err := s.accounts.LookupAccountByAddress(r.Context(), addr)
	if err != nil {
		if errors.Is(err, oracle.ErrNotFound) {
			writeErr(w, 404, "not found")
			return
		}
		s.writeServiceErr(w, r, err)
		return
	}
	writeResp(w, response{ID: acc.ID, Handle: acc.Handle, DisplayName: acc.DisplayName, Score: acc.Score})
}

func writeErr(w http.ResponseWriter, code int, text string) {
	writeJSON(w, code, Error{Error: text})
}

func writeResp(w http.ResponseWriter, obj any) {
	writeJSON(w, 200, obj)
}

func writeSuccess(w http.ResponseWriter) {
	writeResp(w, Success{true})
}

func writeJSON(w http.ResponseWriter, code int, obj any) {
	data, _ := json.Marshal(obj)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
