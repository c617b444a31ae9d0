package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/hashguard-labs/hashguard/internal/db"
	"github.com/hashguard-labs/hashguard/pkg/audit"
)

func (a *API) handleCreateNetwork(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		jsonError(w, "network name is required", http.StatusBadRequest)
		return
	}

	network, err := a.db.CreateNetwork(req.Name, sess.Principal, sess.Name())
	if err != nil {
		slog.Error("creating network", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	a.audit(&audit.Entry{
		Action:    "create_network",
		Principal: sess.Principal,
		Scope:     network.ID,
		Result:    network.Name,
	})

	// The creator is the admin; the join secret is included so it can be
	// shared out-of-band.
	jsonResp(w, http.StatusCreated, network)
}

func (a *API) handleJoinNetwork(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req struct {
		Name    string `json:"name"`
		JoinKey string `json:"join_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.JoinKey == "" {
		jsonError(w, "network name and join key are required", http.StatusBadRequest)
		return
	}

	network, err := a.db.JoinNetwork(req.Name, req.JoinKey, sess.Principal, sess.Name())
	switch {
	case errors.Is(err, db.ErrNetworkNotFound):
		// Deliberately the same answer for a wrong name and a wrong key.
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, db.ErrAlreadyMember):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		slog.Error("joining network", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	a.audit(&audit.Entry{
		Action:    "join_network",
		Principal: sess.Principal,
		Scope:     network.ID,
	})

	jsonResp(w, http.StatusOK, a.redactNetwork(network, sess.Principal))
}

func (a *API) handleLeaveNetwork(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	networkID := r.PathValue("id")

	err := a.db.LeaveNetwork(networkID, sess.Principal)
	switch {
	case errors.Is(err, db.ErrNetworkNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, db.ErrAdminCannotLeave):
		jsonError(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		slog.Error("leaving network", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	a.audit(&audit.Entry{
		Action:    "leave_network",
		Principal: sess.Principal,
		Scope:     networkID,
	})

	jsonResp(w, http.StatusOK, map[string]bool{"left": true})
}

func (a *API) handleListNetworks(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	networks, err := a.db.NetworksFor(sess.Principal)
	if err != nil {
		slog.Error("listing networks", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]*db.Network, 0, len(networks))
	for _, n := range networks {
		out = append(out, a.redactNetwork(n, sess.Principal))
	}
	jsonResp(w, http.StatusOK, map[string]any{"networks": out})
}

// handleGetMembers returns the member roster sorted by in-network reputation,
// highest first.
func (a *API) handleGetMembers(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	network, err := a.memberNetwork(r.PathValue("id"), sess.Principal)
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	members := make([]db.Member, len(network.Members))
	copy(members, network.Members)
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Reputation > members[j].Reputation
	})
	jsonResp(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	role, err := a.db.Role(r.PathValue("id"), sess.Principal)
	if errors.Is(err, db.ErrNetworkNotFound) {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"role": role})
}

// memberNetwork loads a network and hides its existence from non-members.
func (a *API) memberNetwork(networkID, address string) (*db.Network, error) {
	network, err := a.db.GetNetwork(networkID)
	if err != nil {
		return nil, db.ErrNetworkNotFound
	}
	for _, m := range network.Members {
		if m.Address == address {
			return network, nil
		}
	}
	return nil, db.ErrNetworkNotFound
}

// redactNetwork strips the join secret for everyone but the admin.
func (a *API) redactNetwork(n *db.Network, viewer string) *db.Network {
	if n.AdminAddress == viewer {
		return n
	}
	redacted := *n
	redacted.JoinSecret = ""
	return &redacted
}
