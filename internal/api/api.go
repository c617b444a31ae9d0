// Package api exposes the verification network over HTTP: wallet sessions,
// network directory, uploads through the duplicate-detection engine, file
// listings and the duplicate alert feed.
package api

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashguard-labs/hashguard/internal/auth"
	"github.com/hashguard-labs/hashguard/internal/db"
	"github.com/hashguard-labs/hashguard/internal/pinata"
	"github.com/hashguard-labs/hashguard/internal/session"
	"github.com/hashguard-labs/hashguard/internal/verify"
	"github.com/hashguard-labs/hashguard/pkg/audit"
)

// UploadRateLimiter bounds POST /api/upload (20 req/60s per IP).
var UploadRateLimiter = NewRateLimiter(20, 60*time.Second)

type API struct {
	db       *db.DB
	auth     *auth.Auth
	engine   *verify.Engine
	store    *pinata.Client
	hub      *Hub
	auditLog audit.Logger
}

func New(database *db.DB, a *auth.Auth, engine *verify.Engine, store *pinata.Client) *API {
	return &API{
		db:     database,
		auth:   a,
		engine: engine,
		store:  store,
		hub:    NewHub(),
	}
}

// SetAuditLogger enables the audit trail for mutating endpoints.
func (a *API) SetAuditLogger(l audit.Logger) {
	a.auditLog = l
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	// Wallet session
	mux.HandleFunc("POST /api/auth/challenge", a.handleChallenge)
	mux.HandleFunc("POST /api/auth/verify", a.handleVerify)
	mux.HandleFunc("GET /api/me", a.handleGetMe)

	// Network directory
	mux.HandleFunc("POST /api/networks", a.handleCreateNetwork)
	mux.HandleFunc("POST /api/networks/join", a.handleJoinNetwork)
	mux.HandleFunc("POST /api/networks/{id}/leave", a.handleLeaveNetwork)
	mux.HandleFunc("GET /api/networks", a.handleListNetworks)
	mux.HandleFunc("GET /api/networks/{id}/members", a.handleGetMembers)
	mux.HandleFunc("GET /api/networks/{id}/role", a.handleGetRole)

	// Upload & files
	mux.HandleFunc("POST /api/upload", RateLimitMiddleware(UploadRateLimiter, a.handleUpload))
	mux.HandleFunc("GET /api/files", a.handleListFiles)
	mux.HandleFunc("GET /api/storage/stats", a.handleStorageStats)
	mux.HandleFunc("GET /api/storage/pins", a.handleListPins)

	// Duplicate alerts
	mux.HandleFunc("GET /api/networks/{id}/alerts", a.handleListAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/read", a.handleMarkAlertRead)
	mux.HandleFunc("GET /api/ws/alerts", a.handleAlertSocket)

	mux.HandleFunc("GET /api/health", a.handleHealth)
}

// --- Wallet session ---

func (a *API) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		jsonError(w, "address is required", http.StatusBadRequest)
		return
	}

	nonce, err := a.auth.NewChallenge(req.Address)
	if err != nil {
		slog.Error("issuing challenge", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	jsonResp(w, http.StatusOK, map[string]string{
		"nonce":   nonce,
		"message": string(auth.ChallengeMessage(req.Address, nonce)),
	})
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Signature string `json:"signature"`
		Username  string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Address == "" || req.Signature == "" {
		jsonError(w, "address and signature are required", http.StatusBadRequest)
		return
	}

	if err := a.auth.VerifyChallenge(req.Address, req.Signature); err != nil {
		jsonError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := a.db.UpsertUser(req.Address, req.Username); err != nil {
		slog.Error("upserting user", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	token, err := a.auth.GenerateToken(req.Address, req.Username)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	elo, err := a.db.GetElo(req.Address)
	if err != nil {
		slog.Error("reading elo at login", "error", err)
		elo = db.DefaultElo
	}

	jsonResp(w, http.StatusOK, map[string]any{
		"token":    token,
		"address":  req.Address,
		"username": req.Username,
		"elo":      elo,
	})
}

func (a *API) handleGetMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	user, err := a.db.GetUser(sess.Principal)
	if err == sql.ErrNoRows {
		// First touch initializes the score row.
		elo, eloErr := a.db.GetElo(sess.Principal)
		if eloErr != nil {
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
		jsonResp(w, http.StatusOK, map[string]any{
			"address": sess.Principal, "username": sess.DisplayName, "elo": elo,
		})
		return
	}
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	jsonResp(w, http.StatusOK, user)
}

// --- Storage & health ---

func (a *API) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.sessionFrom(r); !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	stats, err := a.store.StorageStats(r.Context())
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, stats)
}

func (a *API) handleListPins(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.sessionFrom(r); !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	pins, err := a.store.ListPinned(r.Context())
	if err != nil {
		jsonError(w, "content store unavailable", http.StatusServiceUnavailable)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"pins": pins})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.db.Ping(); err != nil {
		jsonError(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helpers ---

func (a *API) sessionFrom(r *http.Request) (session.Context, bool) {
	claims := a.auth.ExtractClaims(r)
	if claims == nil {
		return session.Context{}, false
	}
	return session.Context{Principal: claims.Address, DisplayName: claims.Username}, true
}

func (a *API) audit(entry *audit.Entry) {
	if a.auditLog != nil {
		a.auditLog.LogAsync(entry)
	}
}

func jsonResp(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
