package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"tapduel/auth"
	"tapduel/match"
	"tapduel/payment"
)

var errNegativeStake = errors.New("stake must be non-negative")

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := s.auth.Login(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": res.Token,
		"user": map[string]any{
			"id":            res.User.ID,
			"walletAddress": res.User.WalletAddress,
			"username":      res.User.Username,
			"wins":          res.User.Wins,
			"losses":        res.User.Losses,
			"avgReactionMs": res.User.AvgReactionMs,
		},
	})
}

type enqueueRequest struct {
	Stake decimal.Decimal `json:"stake"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.Stake.IsNegative() {
		s.writeError(w, http.StatusBadRequest, "bad_request", errNegativeStake)
		return
	}
	res, err := s.queue.Enqueue(r.Context(), auth.UserID(r.Context()), req.Stake)
	if err != nil {
		s.respondError(w, err)
		return
	}
	body := map[string]any{"status": res.Status}
	if res.MatchID != "" {
		body["matchId"] = res.MatchID
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCancelQueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := s.queue.Cancel(r.Context(), auth.UserID(r.Context()), req.Stake); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

type confirmStakeRequest struct {
	MatchID          string `json:"matchId"`
	PaymentReference string `json:"paymentReference"`
}

func (s *Server) handleConfirmStake(w http.ResponseWriter, r *http.Request) {
	var req confirmStakeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := s.orch.ConfirmStake(r.Context(), req.MatchID, auth.UserID(r.Context()), req.PaymentReference)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"bothStaked": res.BothStaked,
		"canStart":   res.CanStart,
	})
}

type matchIDRequest struct {
	MatchID string `json:"matchId"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	var req matchIDRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := s.orch.Ready(r.Context(), req.MatchID, auth.UserID(r.Context()))
	if err != nil {
		s.respondError(w, err)
		return
	}
	body := map[string]any{"success": true, "bothReady": res.BothReady}
	if res.GreenLightTime != nil {
		body["greenLightTime"] = *res.GreenLightTime
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	view, err := s.orch.GetState(r.Context(), matchID, auth.UserID(r.Context()))
	if err != nil {
		s.respondError(w, err)
		return
	}

	// Polling endpoint: any intermediary caching would serve stale countdown
	// state.
	w.Header().Set("Cache-Control", "no-store")

	body := map[string]any{
		"state":            string(view.Phase),
		"status":           string(view.Status),
		"greenLightActive": view.Phase == match.PhaseGo,
		"countdown":        view.CountdownSeconds,
		"playerTapped":     view.YourReactionMs != nil,
		"opponentTapped":   view.OpponentReactionMs != nil,
		"serverTime":       s.clock.NowMillis(),
		"stake":            view.Stake,
		"stateLocked":      view.Status.Terminal(),
		"opponent": map[string]any{
			"userId": view.OpponentID,
		},
		"youReady":      view.YouReady,
		"opponentReady": view.OpponentReady,
	}
	if view.GreenLightTime != nil {
		body["greenLightTime"] = *view.GreenLightTime
	}
	if view.WinnerID != nil {
		body["winnerId"] = *view.WinnerID
	}
	if view.ResultType != nil {
		body["resultType"] = *view.ResultType
	}
	if view.CancelReason != nil {
		body["cancelReason"] = *view.CancelReason
	}
	if view.ClaimStatus != nil {
		body["claimStatus"] = *view.ClaimStatus
	}
	if view.ClaimDeadline != nil {
		body["claimDeadline"] = view.ClaimDeadline.UnixMilli()
	}
	writeJSON(w, http.StatusOK, body)
}

type tapRequest struct {
	MatchID         string `json:"matchId"`
	ClientTimestamp *int64 `json:"clientTimestamp,omitempty"`
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	var req tapRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := s.orch.Tap(r.Context(), req.MatchID, auth.UserID(r.Context()), req.ClientTimestamp)
	if err != nil {
		s.respondError(w, err)
		return
	}
	tap := map[string]any{
		"reactionMs":   res.Tap.ReactionMs,
		"isValid":      res.Tap.IsValid,
		"disqualified": res.Tap.Disqualified,
	}
	if res.Tap.DQReason != nil {
		tap["reason"] = *res.Tap.DQReason
	}
	body := map[string]any{
		"success":            true,
		"tap":                tap,
		"waitingForOpponent": res.WaitingForOpponent,
	}
	if res.Disqualified {
		body["disqualified"] = true
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	userID := auth.UserID(r.Context())
	m, taps, err := s.orch.Result(r.Context(), matchID, userID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	tapViews := make([]map[string]any, 0, len(taps))
	for i := range taps {
		tapViews = append(tapViews, map[string]any{
			"userId":       taps[i].UserID,
			"reactionMs":   taps[i].ReactionMs,
			"isValid":      taps[i].IsValid,
			"disqualified": taps[i].Disqualified,
		})
	}

	body := map[string]any{
		"matchId":  m.ID,
		"status":   string(m.Status),
		"isWinner": m.WinnerID != nil && *m.WinnerID == userID,
		"taps":     tapViews,
		"stake":    m.StakeAmount,
	}
	if m.WinnerID != nil {
		body["winnerId"] = *m.WinnerID
	}
	if m.ResultType != nil {
		body["resultType"] = *m.ResultType
	}
	if m.Player1ReactionMs != nil {
		body["player1ReactionMs"] = *m.Player1ReactionMs
	}
	if m.Player2ReactionMs != nil {
		body["player2ReactionMs"] = *m.Player2ReactionMs
	}
	if m.PlatformFee != nil {
		body["platformFee"] = m.PlatformFee
	}
	if m.ClaimStatus != nil {
		body["claimStatus"] = *m.ClaimStatus
	}
	if m.ClaimDeadline != nil {
		body["claimDeadline"] = m.ClaimDeadline.UnixMilli()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req matchIDRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := s.orch.Heartbeat(r.Context(), req.MatchID, auth.UserID(r.Context())); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"ping":    s.clock.NowMillis(),
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req matchIDRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := s.orch.Claim(r.Context(), req.MatchID, auth.UserID(r.Context()))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "txHash": res.TxHash})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req matchIDRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := s.orch.ProcessRefund(r.Context(), req.MatchID, auth.UserID(r.Context()))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "txHash": res.TxHash})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	userID := auth.UserID(r.Context())
	matches, err := s.orch.History(r.Context(), userID, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(matches))
	for i := range matches {
		m := &matches[i]
		entry := map[string]any{
			"matchId":   m.ID,
			"status":    string(m.Status),
			"stake":     m.StakeAmount,
			"isWinner":  m.WinnerID != nil && *m.WinnerID == userID,
			"createdAt": m.CreatedAt.Format(time.RFC3339),
		}
		if m.ResultType != nil {
			entry["resultType"] = *m.ResultType
		}
		if m.CancelReason != nil {
			entry["cancelReason"] = *m.CancelReason
		}
		if m.ClaimStatus != nil {
			entry["claimStatus"] = *m.ClaimStatus
		}
		if m.ClaimDeadline != nil {
			entry["claimDeadline"] = m.ClaimDeadline.UnixMilli()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": out})
}

type initiatePaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	intent, err := s.payments.Initiate(r.Context(), auth.UserID(r.Context()), req.Amount)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": intent.Reference})
}

type confirmPaymentRequest struct {
	Payload struct {
		Reference     string `json:"reference"`
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
	} `json:"payload"`
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	intent, err := s.payments.Confirm(r.Context(), auth.UserID(r.Context()), payment.ConfirmParams{
		Reference:     req.Payload.Reference,
		TransactionID: req.Payload.TransactionID,
		RawStatus:     req.Payload.Status,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	body := map[string]any{
		"success": intent.Confirmed(),
		"payment": intentView(intent),
	}
	if !intent.Terminal() {
		body["pending"] = true
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	intent, err := s.payments.Get(r.Context(), auth.UserID(r.Context()), reference)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intentView(intent))
}

func intentView(i payment.Intent) map[string]any {
	view := map[string]any{
		"reference":    i.Reference,
		"amount":       i.Amount,
		"status":       i.NormalizedStatus,
		"refundStatus": i.RefundStatus,
	}
	if i.MatchID != nil {
		view["matchId"] = *i.MatchID
	}
	if i.TxHash != nil {
		view["txHash"] = *i.TxHash
	}
	if i.RefundDeadline != nil {
		view["refundDeadline"] = i.RefundDeadline.UnixMilli()
	}
	return view
}
