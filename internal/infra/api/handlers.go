package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/infra/adapters/payment"
	"gym-membership/internal/infra/logging"
	red "gym-membership/internal/infra/redis"
	"gym-membership/internal/usecase"
)

type checkoutRequest struct {
	UserID      string `json:"userId"`
	PriceID     string `json:"priceId"`
	SuccessPath string `json:"successPath"`
	CancelPath  string `json:"cancelPath"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId"`
	PurchaseID  string `json:"purchaseId"`
}

type purchaseView struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	TargetRole string     `json:"targetRole"`
	Amount     int64      `json:"amount,omitempty"`
	Currency   string     `json:"currency,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	PaidAt     *time.Time `json:"paidAt,omitempty"`
}

type userView struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type verifyResponse struct {
	Settled       bool          `json:"settled"`
	Purchase      *purchaseView `json:"purchase,omitempty"`
	User          *userView     `json:"user,omitempty"`
	NewlyUpgraded bool          `json:"newlyUpgraded"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFrom(ctx)

	var req checkoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = claims.Subject
	}
	if req.UserID != claims.Subject {
		writeError(w, http.StatusForbidden, domain.ErrForbidden.Error())
		return
	}

	res, err := s.checkout.Initiate(ctx, usecase.CheckoutRequest{
		UserID:      req.UserID,
		PriceID:     req.PriceID,
		SuccessPath: req.SuccessPath,
		CancelPath:  req.CancelPath,
	})
	if err != nil {
		code := checkoutStatus(err)
		if code >= 500 {
			logging.With(ctx, s.log).Error().Err(err).Msg("checkout failed")
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		CheckoutURL: res.CheckoutURL,
		SessionID:   res.SessionID,
		PurchaseID:  res.PurchaseID,
	})
}

func checkoutStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyAtOrAboveTarget):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayUnavailable), errors.Is(err, domain.ErrGatewayRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, payment.MaxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	ack, err := s.settlement.HandleWebhook(ctx, body, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	case err != nil:
		// non-2xx makes the gateway redeliver
		logging.With(ctx, s.log).Error().Err(err).Msg("webhook reconciliation failed")
		writeError(w, http.StatusInternalServerError, "retry")
		return
	}

	resp := map[string]any{"received": true}
	if ack.Ignored {
		resp["ignored"] = true
	} else if ack.Result != nil {
		resp["outcome"] = ack.Result.Outcome
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session_id")
	}
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	ctx = logging.WithSessID(ctx, logging.Redact(sessionID, s.dev))

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, red.VerifyKey(clientIP(r)))
		if err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Msg("rate limiter unavailable; allowing")
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
	}

	out, err := s.settlement.Verify(ctx, sessionID)
	if err != nil {
		code := verifyStatus(err)
		logging.With(ctx, s.log).Warn().Err(err).Int("status", code).Msg("verify failed")
		writeError(w, code, http.StatusText(code))
		return
	}
	if out.Outcome == model.OutcomeUnresolved {
		writeJSON(w, http.StatusNotFound, map[string]any{"settled": false, "error": "unknown session"})
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Settled: out.Settled,
		Purchase: &purchaseView{
			ID:         out.PurchaseID,
			Status:     string(out.Status),
			TargetRole: string(out.TargetRole),
		},
		User:          &userView{ID: out.UserID, Role: string(out.UserRole)},
		NewlyUpgraded: out.NewlyUpgraded,
	})
}

func verifyStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrGatewayRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := s.settlement.ListPurchases(ctx, claimsFrom(ctx).Subject, limit)
	if err != nil {
		logging.With(ctx, s.log).Error().Err(err).Msg("list purchases")
		writeError(w, http.StatusInternalServerError, "failed to list purchases")
		return
	}
	items := make([]purchaseView, 0, len(list))
	for _, p := range list {
		created := p.CreatedAt
		items = append(items, purchaseView{
			ID:         p.ID,
			Status:     string(p.Status),
			TargetRole: string(p.TargetRole),
			Amount:     p.Amount,
			Currency:   p.Currency,
			CreatedAt:  &created,
			PaidAt:     p.PaidAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleDevPay(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = "USD"
	}
	if err := s.devPayer.Pay(sessionID, amount, currency); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paid": true, "sessionId": sessionID})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
