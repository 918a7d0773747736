package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"arenapay/distribute"
	"arenapay/settlement"
)

// Server exposes the settlement engine over HTTP to game backends and
// operators.
type Server struct {
	service *settlement.Service
	auth    *Authenticator
	log     *slog.Logger
	router  chi.Router
}

// New constructs the HTTP server around the settlement service.
func New(service *settlement.Service, auth *Authenticator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{service: service, auth: auth, log: log}
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/v1/entries/{entryID}/verify", s.handleVerifyEntry)
		r.Post("/v1/entries/{entryID}/refund", s.handleRefundEntry)
		r.Post("/v1/contests/{contestID}/settle", s.handleSettleContest)
		r.Post("/v1/admin/pause", s.handlePause)
		r.Post("/v1/admin/resume", s.handleResume)
	})
	s.router = r
	return s
}

// Handler returns the root handler with tracing instrumentation attached.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "settlementd")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"paused": s.service.Paused(),
	})
}

type verifyRequest struct {
	TxHash string `json:"txHash"`
}

func (s *Server) handleVerifyEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := parseID(w, chi.URLParam(r, "entryID"))
	if !ok {
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payment, failure, err := s.service.VerifyEntryPayment(r.Context(), entryID, req.TxHash)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if failure != nil {
		writeJSON(w, http.StatusUnprocessableEntity, settlement.NewVerificationFailureResponse(failure))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"data": map[string]any{
			"payerAddress": payment.PayerAddress,
			"blockNumber":  payment.BlockNumber,
			"matchCount":   payment.MatchCount,
		},
	})
}

type settleRequest struct {
	Winners []distribute.WinnerEntry `json:"winners"`
}

func (s *Server) handleSettleContest(w http.ResponseWriter, r *http.Request) {
	contestID, ok := parseID(w, chi.URLParam(r, "contestID"))
	if !ok {
		return
	}
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	response, err := s.service.SettleContest(r.Context(), contestID, req.Winners)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRefundEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := parseID(w, chi.URLParam(r, "entryID"))
	if !ok {
		return
	}
	result, err := s.service.RefundEntry(r.Context(), entryID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": result})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.service.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.service.Resume()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation *distribute.ValidationError
		noWallet   *distribute.NoWalletError
		balance    *distribute.InsufficientBalanceError
		partial    *distribute.PartialFailureError
	)
	switch {
	case errors.Is(err, settlement.ErrContestNotFound), errors.Is(err, settlement.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, settlement.ErrSettlementConflict), errors.Is(err, settlement.ErrRefundConflict):
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "code": "CONFLICT", "error": err.Error()})
	case errors.Is(err, settlement.ErrPaused):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, settlement.ErrPayerUnknown):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "code": "VALIDATION_ERROR", "error": err.Error()})
	case errors.As(err, &noWallet):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"ok": false, "code": "NO_WALLET_FOR_USER", "error": err.Error()})
	case errors.As(err, &balance):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"ok":    false,
			"code":  "INSUFFICIENT_BALANCE",
			"error": err.Error(),
			"diagnostics": map[string]string{
				"required":  balance.Required.String(),
				"available": balance.Available.String(),
			},
		})
	case errors.As(err, &partial):
		// Real funds were partially disbursed; return the hashes already
		// submitted so the caller can reconcile.
		s.log.Error("partial transfer failure surfaced to caller", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":       false,
			"code":     "PARTIAL_TRANSFER_FAILURE",
			"error":    err.Error(),
			"txHashes": partial.TxHashes,
		})
	default:
		s.log.Error("settlement request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid identifier")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}
