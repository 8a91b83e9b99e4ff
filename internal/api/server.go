// Package api provides the HTTP API over the realm.
// GET endpoints are public and rate limited per IP.
// POST endpoints require the admin bearer token; they are meant for a trusted
// gateway that has already authenticated the player it acts for.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/mini-realm/internal/clock"
	"github.com/talgya/mini-realm/internal/engine"
	"github.com/talgya/mini-realm/internal/persistence"
	"github.com/talgya/mini-realm/internal/realm"
)

const maxBodyBytes = 64 << 10

// Server serves the realm over HTTP.
type Server struct {
	DB       *persistence.DB
	Engine   *engine.Engine // optional; status reports the loop state when set
	Queue    *engine.Queue
	Research *engine.Research
	Clock    clock.Clock

	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
	Limiter  *RateLimiter

	srv  *http.Server
	stop chan struct{}
}

// Handler builds the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	if s.Limiter == nil {
		s.Limiter = NewRateLimiter(5, 10)
	}
	if s.Clock == nil {
		s.Clock = clock.System{}
	}
	public := func(h http.HandlerFunc) http.HandlerFunc { return RateLimitMiddleware(s.Limiter, h) }

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", public(s.handleStatus))
	mux.HandleFunc("GET /api/v1/players/{id}", public(s.handlePlayer))
	mux.HandleFunc("GET /api/v1/players/{id}/settlements", public(s.handlePlayerSettlements))
	mux.HandleFunc("GET /api/v1/players/{id}/army", public(s.handlePlayerArmy))
	mux.HandleFunc("GET /api/v1/players/{id}/research", public(s.handlePlayerResearch))
	mux.HandleFunc("GET /api/v1/players/{id}/actions", public(s.handlePlayerActions))
	mux.HandleFunc("GET /api/v1/research/nodes", public(s.handleResearchNodes))
	mux.HandleFunc("GET /api/v1/neighbors", public(s.handleNeighbors))
	mux.HandleFunc("GET /api/v1/settlements/{id}", public(s.handleSettlement))
	mux.HandleFunc("GET /api/v1/settlements/{id}/garrison", public(s.handleGarrison))
	mux.HandleFunc("GET /api/v1/settlements/{id}/battle-reports", public(s.handleSettlementReports))
	mux.HandleFunc("GET /api/v1/battle-reports/{uuid}", public(s.handleBattleReport))

	// Admin endpoints.
	mux.HandleFunc("POST /api/v1/actions", s.adminOnly(s.handleEnqueue))
	mux.HandleFunc("POST /api/v1/research/unlock", s.adminOnly(s.handleUnlock))
	mux.HandleFunc("POST /api/v1/snapshots", s.adminOnly(s.handleSnapshot))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.stop = make(chan struct{})
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if n := s.Limiter.Sweep(); n > 0 {
					slog.Debug("rate limiter swept", "clients", n)
				}
			case <-s.stop:
				return
			}
		}
	}()

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	close(s.stop)
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no admin key set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	status := map[string]any{
		"name":  "mini-realm",
		"now":   s.Clock.Now(),
		"world": stats,
	}
	if s.Engine != nil {
		status["running"] = s.Engine.Running()
		status["sweeps"] = s.Engine.Sweeps()
		status["last_sweep"] = s.Engine.LastSweep()
	}
	writeJSON(w, status)
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.DB.Player(id)
	respond(w, p, err)
}

func (s *Server) handlePlayerSettlements(w http.ResponseWriter, r *http.Request) {
	id, ok := s.existingPlayer(w, r)
	if !ok {
		return
	}
	ss, err := s.DB.PlayerSettlements(id)
	respond(w, ss, err)
}

func (s *Server) handlePlayerArmy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.existingPlayer(w, r)
	if !ok {
		return
	}
	army, err := s.DB.PlayerArmy(id)
	respond(w, army, err)
}

func (s *Server) handlePlayerResearch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.existingPlayer(w, r)
	if !ok {
		return
	}
	unlocks, err := s.DB.PlayerResearch(id)
	respond(w, unlocks, err)
}

func (s *Server) handlePlayerActions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.existingPlayer(w, r)
	if !ok {
		return
	}
	actions, err := s.DB.PlayerActions(id, queryLimit(r, 50))
	respond(w, actions, err)
}

func (s *Server) handleResearchNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.DB.ResearchNodes()
	respond(w, nodes, err)
}

// handleNeighbors lists the NPC settlements players can attack.
func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	ss, err := s.DB.NPCSettlements()
	respond(w, ss, err)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := s.DB.Settlement(id)
	if err != nil {
		writeError(w, err)
		return
	}
	buildings, err := s.DB.Buildings(id)
	respond(w, map[string]any{"settlement": st, "buildings": buildings}, err)
}

func (s *Server) handleGarrison(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.DB.Settlement(id); err != nil {
		writeError(w, err)
		return
	}
	g, err := s.DB.Garrison(id)
	respond(w, g, err)
}

func (s *Server) handleSettlementReports(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	reports, err := s.DB.BattleReports(id, queryLimit(r, 20))
	respond(w, reports, err)
}

func (s *Server) handleBattleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.DB.BattleReport(r.PathValue("uuid"))
	respond(w, rep, err)
}

type actionRequest struct {
	PlayerID        int64            `json:"player_id"`
	SettlementID    int64            `json:"settlement_id"`
	TargetID        int64            `json:"target_settlement_id"`
	Kind            realm.ActionKind `json:"action_type"`
	Payload         json.RawMessage  `json:"payload"`
	DurationSeconds int64            `json:"duration_seconds"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := s.Queue.Enqueue(r.Context(), realm.Order{
		PlayerID:     req.PlayerID,
		SettlementID: req.SettlementID,
		TargetID:     req.TargetID,
		Kind:         req.Kind,
		Payload:      req.Payload,
		Duration:     time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/players/%d/actions", entry.PlayerID))
	writeJSONStatus(w, http.StatusCreated, entry)
}

type unlockRequest struct {
	PlayerID int64 `json:"player_id"`
	NodeID   int64 `json:"node_id"`
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := s.Research.Unlock(r.Context(), req.PlayerID, req.NodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, u)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.DB.TakeSnapshot(s.Clock.Now())
	if err != nil {
		slog.Error("snapshot failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusCreated, snap)
}

func (s *Server) existingPlayer(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return 0, false
	}
	if _, err := s.DB.Player(id); err != nil {
		writeError(w, err)
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, v)
}

// writeError maps domain errors onto status codes. Rejections carry their
// reason; anything unrecognized is logged and hidden behind a 500.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, realm.ErrRejected):
		status = http.StatusConflict
	case errors.Is(err, realm.ErrInvalidOrder), errors.Is(err, realm.ErrInvalidPayload):
		status = http.StatusBadRequest
	case errors.Is(err, realm.ErrNotFound):
		status = http.StatusNotFound
	default:
		slog.Error("request failed", "error", err)
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSONStatus(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
