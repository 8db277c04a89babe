package server

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/core"
	"github.com/furgapp/furgo/internal/logger"
	"github.com/furgapp/furgo/internal/models"
)

// Server is the thin HTTP surface over the core. Authentication is a
// collaborator concern; the user id arrives in the request body.
type Server struct {
	core *core.Core
	log  *zap.Logger
}

func New(c *core.Core, log *zap.Logger) *Server {
	return &Server{core: c, log: log}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/usage/{userID}", s.handleUsage)
		r.Post("/transactions/categorize", s.handleCategorize)
	})

	return r
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Text       string  `json:"text"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
	Fallback   bool    `json:"fallback,omitempty"`
	CostUSD    float64 `json:"cost_usd"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger(s.log, requestID(r))

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	resp, err := s.core.Chat(r.Context(), &core.ChatRequest{
		UserID:   req.UserID,
		ClientIP: clientIP(r),
		Message:  req.Message,
	})
	if err != nil {
		if models.IsRefusal(err) {
			log.Info("request refused",
				zap.String("user_id", req.UserID),
				zap.String("kind", string(models.KindOf(err))))
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		log.Error("chat dispatch failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Text:       resp.Text,
		Intent:     string(resp.Intent.Intent),
		Confidence: resp.Intent.Confidence,
		Model:      string(resp.Model),
		Fallback:   resp.Fallback,
		CostUSD:    resp.CostUSD,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	rem, err := s.core.Remaining(r.Context(), userID)
	if err != nil {
		s.log.Error("usage lookup failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "usage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

type categorizeRequest struct {
	UserID       string               `json:"user_id"`
	Transactions []models.Transaction `json:"transactions"`
}

func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var req categorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || len(req.Transactions) == 0 {
		writeError(w, http.StatusBadRequest, "user_id and transactions are required")
		return
	}

	categories, err := s.core.CategorizeBatch(r.Context(), req.UserID, req.Transactions)
	if err != nil {
		s.log.Warn("categorization failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "categorization unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.New().String()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
