package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hashguard-labs/hashguard/internal/db"
	"github.com/hashguard-labs/hashguard/pkg/audit"
)

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	networkID := r.PathValue("id")
	if _, err := a.memberNetwork(networkID, sess.Principal); err != nil {
		jsonError(w, err.Error(), http.StatusForbidden)
		return
	}

	alerts, err := a.db.AlertsByNetwork(networkID)
	if err != nil {
		slog.Error("listing alerts", "network", networkID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// handleMarkAlertRead is idempotent: marking an already-read alert succeeds.
func (a *API) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	alertID := r.PathValue("id")
	err := a.db.MarkAlertRead(alertID)
	if errors.Is(err, db.ErrAlertNotFound) {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("marking alert read", "alert", alertID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	a.audit(&audit.Entry{
		Action:    "mark_alert_read",
		Principal: sess.Principal,
		Result:    alertID,
	})

	jsonResp(w, http.StatusOK, map[string]bool{"read": true})
}
