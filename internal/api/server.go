// Package api serves the presentation state and transfer action over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vietddude/walletd/internal/control"
	"github.com/vietddude/walletd/internal/core/domain"
	"golang.org/x/time/rate"
)

// Wallet is the presentation surface the server exposes.
type Wallet interface {
	State() control.ViewState
	Transfer(ctx context.Context, destination, amount string) (string, error)
	LookupTransfer(id string) (domain.TransferUpdate, bool)
}

// Server provides the HTTP endpoints.
type Server struct {
	health  control.HealthMonitor
	wallet  Wallet
	limiter *rate.Limiter
	server  *http.Server
	log     *slog.Logger
}

// NewServer creates a server on port. limiter bounds transfer requests; nil
// disables limiting.
func NewServer(health control.HealthMonitor, wallet Wallet, port int, limiter *rate.Limiter) *Server {
	mux := http.NewServeMux()
	s := &Server{
		health:  health,
		wallet:  wallet,
		limiter: limiter,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: slog.Default(),
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /transfers", s.handleTransfer)
	mux.HandleFunc("GET /transfers/{id}", s.handleGetTransfer)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler returns the server's handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health.GetHealth()
	status := http.StatusOK
	if h.Status == "down" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": h.Status})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.GetHealth())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.wallet.State())
}

type transferRequest struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

type transferResponse struct {
	domain.TransferUpdate
	Error string           `json:"error,omitempty"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

type errorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many transfer requests"})
		return
	}

	var req transferRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: domain.KindInvalidInput})
		return
	}

	// the submission outlives the request
	id, err := s.wallet.Transfer(context.WithoutCancel(r.Context()), req.Destination, req.Amount)
	if err != nil {
		kind := domain.KindOf(err)
		s.log.Warn("Transfer request rejected", "kind", kind, "error", err)
		writeJSON(w, statusFor(kind), errorResponse{Error: domain.UserMessage(err), Kind: kind})
		return
	}

	resp := transferResponse{TransferUpdate: domain.TransferUpdate{ID: id}}
	if u, ok := s.wallet.LookupTransfer(id); ok {
		resp = toResponse(u)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	u, ok := s.wallet.LookupTransfer(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "transfer not found"})
		return
	}
	writeJSON(w, http.StatusOK, toResponse(u))
}

func toResponse(u domain.TransferUpdate) transferResponse {
	resp := transferResponse{TransferUpdate: u}
	if u.Err != nil {
		resp.Error = domain.UserMessage(u.Err)
		resp.Kind = domain.KindOf(u.Err)
	}
	return resp
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindBusy:
		return http.StatusConflict
	case domain.KindAuthorizationDenied:
		return http.StatusForbidden
	case domain.KindConnection, domain.KindSubscription:
		return http.StatusServiceUnavailable
	case domain.KindSubmission, domain.KindOutcomeUnknown:
		return http.StatusBadGateway
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
