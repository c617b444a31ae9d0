package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashguard-labs/hashguard/internal/db"
	"github.com/hashguard-labs/hashguard/internal/pinata"
	"github.com/hashguard-labs/hashguard/internal/verify"
	"github.com/hashguard-labs/hashguard/pkg/audit"
)

// maxUploadBytes caps one multipart upload (100 MiB).
const maxUploadBytes = 100 << 20

// handleUpload pins the file to the content store, runs the verdict and
// returns the outcome. A duplicate is a business outcome, not an HTTP error:
// the response is 200 with accepted=false.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		jsonError(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	scope := r.FormValue("network_id")
	if scope == "" {
		scope = db.ScopePersonal
	}
	if scope != db.ScopePersonal {
		if _, err := a.memberNetwork(scope, sess.Principal); err != nil {
			jsonError(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, "reading upload", http.StatusBadRequest)
		return
	}

	pin, err := a.store.Upload(r.Context(), data, header.Filename)
	switch {
	case errors.Is(err, pinata.ErrStoreUnavailable):
		jsonError(w, "content store unavailable", http.StatusServiceUnavailable)
		return
	case errors.Is(err, pinata.ErrUploadRejected):
		jsonError(w, "content store rejected upload", http.StatusBadGateway)
		return
	case err != nil:
		slog.Error("pinning upload", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	digest := sha256.Sum256(data)
	outcome, err := a.engine.SubmitUpload(r.Context(), scope, verify.Descriptor{
		FileName:     header.Filename,
		Fingerprint:  pin.Fingerprint,
		Sha256Hash:   hex.EncodeToString(digest[:]),
		Size:         pin.Size,
		RetrievalURL: pin.RetrievalURL,
	}, sess.Principal, sess.Name())
	if err != nil {
		slog.Error("processing upload", "scope", scope, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	a.audit(&audit.Entry{
		Action:     "upload",
		Principal:  sess.Principal,
		Scope:      scope,
		Parameters: header.Filename,
		Result:     fmt.Sprintf("accepted=%t delta=%d", outcome.Accepted, outcome.EloDelta),
		DurationMs: time.Since(start).Milliseconds(),
	})

	if outcome.Alert != nil {
		a.hub.Broadcast(outcome.Alert.NetworkID, outcome.Alert)
	}

	jsonResp(w, http.StatusOK, outcome)
}

// handleListFiles returns the caller's personal vault by default, or a
// network's records with ?scope=<network id>.
func (a *API) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	scope := r.URL.Query().Get("scope")
	if scope == "" || scope == db.ScopePersonal {
		files, err := a.db.PersonalFiles(sess.Principal)
		if err != nil {
			slog.Error("listing personal files", "error", err)
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
		jsonResp(w, http.StatusOK, map[string]any{"files": files})
		return
	}

	if _, err := a.memberNetwork(scope, sess.Principal); err != nil {
		jsonError(w, err.Error(), http.StatusForbidden)
		return
	}
	files, err := a.db.FilesByScope(scope)
	if err != nil {
		slog.Error("listing network files", "scope", scope, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"files": files})
}
