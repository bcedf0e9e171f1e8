// Package httpapi exposes expense validation over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Veraticus/expense-flow/internal/authz"
	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Server serves the validation API.
type Server struct {
	validator *validation.Service
	logger    *slog.Logger
	devBypass bool
}

// NewServer creates an API server. devBypass lets the x-user-sub header
// stand in for a token.
func NewServer(validator *validation.Service, devBypass bool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{validator: validator, devBypass: devBypass, logger: logger}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/expenses", func(r chi.Router) {
		r.Post("/validate", s.handleValidate)
		r.Get("/{id}", s.handleGetExpense)
	})

	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("validation API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	}
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	userID, err := authz.FromHTTPRequest(r, s.devBypass)
	if err != nil {
		writeError(w, err)
		return
	}

	var req validation.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, common.NewUserError("invalid JSON body", fmt.Errorf("%w: %v", common.ErrValidation, err)))
		return
	}

	expense, err := s.validator.Validate(r.Context(), userID, req)
	if err != nil {
		s.logFailure(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewExpenseView(expense))
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	userID, err := authz.FromHTTPRequest(r, s.devBypass)
	if err != nil {
		writeError(w, err)
		return
	}

	expense, err := s.validator.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		s.logFailure(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewExpenseView(expense))
}

func (s *Server) logFailure(r *http.Request, err error) {
	if StatusCode(err) == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}
