package api

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/remindfi/remind-network/reminders"
	"github.com/remindfi/remind-network/reminders/oracle"
	"github.com/rs/zerolog/hlog"
)

const SignatureHeader = "X-Neynar-Signature"

const castCreatedEvent = "cast.created"

type castEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleWebhookCast answers 200 to anything it could authenticate, the feed
// must not redeliver and the poll path covers whatever is dropped here.
func (s *Server) handleWebhookCast(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		log.Warn().Err(err).Msg("failed to read webhook body")
		writeSuccess(w)
		return
	}

	if s.cfg.WebhookSecret != "" && !VerifySignature([]byte(s.cfg.WebhookSecret), body, r.Header.Get(SignatureHeader)) {
		writeErr(w, 401, "invalid signature")
		return
	}

	var ev castEvent
	if err = json.Unmarshal(body, &ev); err != nil {
		log.Warn().Err(err).Msg("failed to parse webhook event")
		writeSuccess(w)
		return
	}

	if ev.Type != castCreatedEvent {
		log.Debug().Str("type", ev.Type).Msg("webhook event skipped")
		writeSuccess(w)
		return
	}

	post, err := oracle.DecodePost(ev.Data)
	if err != nil {
		log.Warn().Err(err).Msg("failed to decode cast")
		writeSuccess(w)
		return
	}

	s.svc.HandlePostEvent(r.Context(), reminders.PostEvent{ID: post.ID, Post: *post})
	writeSuccess(w)
}

// VerifySignature checks a hex HMAC-SHA512 of body.
func VerifySignature(secret, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}

	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
