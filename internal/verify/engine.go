// Package verify implements the duplicate-detection and reputation write path.
//
// Every upload runs through one decision procedure: look up the fingerprint in
// the target scope, classify the upload as new or duplicate, apply the
// reputation deltas to both the global score and the in-network member score,
// persist the record or the alert, and best-effort anchor new fingerprints on
// the external ledger. The anchor step can never change the verdict.
package verify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashguard-labs/hashguard/internal/anchor"
	"github.com/hashguard-labs/hashguard/internal/db"
)

// Reputation deltas applied per verdict. The floor of zero is enforced by the
// ledger writes, not here.
const (
	DeltaNew       = 4
	DeltaDuplicate = -8
)

// Store is the durable state the engine reads and writes. *db.DB satisfies it.
type Store interface {
	FindFileByFingerprint(scopeID, fingerprint string) (*db.FileRecord, error)
	InsertFile(f *db.FileRecord) error
	GetElo(address string) (int, error)
	SetElo(address string, score int) error
	AdjustMemberReputation(networkID, address string, delta int) error
	AppendAlert(a *db.DuplicateAlert) error
}

// Anchor records fingerprint existence on an external ledger. Every failure
// mode is recovered inside the engine.
type Anchor interface {
	AnchorFingerprint(ctx context.Context, scopeID string, meta anchor.FileMeta, payer string) (string, error)
}

// Descriptor is what the content store returned for the uploaded bytes.
type Descriptor struct {
	FileName     string
	Fingerprint  string
	Sha256Hash   string
	Size         int64
	RetrievalURL string
}

// DuplicateInfo names the original record a rejected upload collided with.
type DuplicateInfo struct {
	OriginalUploader string `json:"original_uploader"`
	OriginalAddress  string `json:"original_uploader_address"`
	OriginalDate     string `json:"original_date"`
	FileName         string `json:"file_name"`
}

// Outcome is the result of one submitUpload call. Anchored is a captured
// partial-success flag, never an error.
type Outcome struct {
	Accepted  bool               `json:"accepted"`
	Anchored  bool               `json:"anchored"`
	EloDelta  int                `json:"elo_delta"`
	Record    *db.FileRecord     `json:"record,omitempty"`
	Duplicate *DuplicateInfo     `json:"duplicate,omitempty"`
	Alert     *db.DuplicateAlert `json:"-"`
}

type Engine struct {
	store  Store
	anchor Anchor // nil disables anchoring
}

func New(store Store, anchor Anchor) *Engine {
	return &Engine{store: store, anchor: anchor}
}

// SubmitUpload classifies one upload within a scope and applies the verdict.
//
// Network scope: a fingerprint already recorded for the scope is a duplicate.
// The uploader takes DeltaDuplicate on both ledgers, one alert is appended and
// no record is written. Otherwise the fingerprint is best-effort anchored, the
// record is persisted (fatal on failure) and the uploader earns DeltaNew on
// both ledgers.
//
// Personal scope performs no duplicate check and no reputation change: it
// always records and best-effort anchors. The two paths are deliberately
// asymmetric (see DESIGN.md).
//
// The lookup and the subsequent writes are separate round-trips with no
// spanning transaction; two racing uploads of one fingerprint can both see
// "not found". The unique (scope, fingerprint) index makes the loser surface
// as a persistence error rather than a second accepted record.
func (e *Engine) SubmitUpload(ctx context.Context, scope string, desc Descriptor, uploader, uploaderName string) (*Outcome, error) {
	if scope == "" {
		scope = db.ScopePersonal
	}
	if desc.Fingerprint == "" {
		return nil, errors.New("missing fingerprint")
	}

	if scope != db.ScopePersonal {
		original, err := e.store.FindFileByFingerprint(scope, desc.Fingerprint)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("duplicate lookup: %w", err)
		}
		if original != nil {
			return e.rejectDuplicate(scope, desc, uploader, uploaderName, original)
		}
	}

	return e.acceptNew(ctx, scope, desc, uploader, uploaderName)
}

func (e *Engine) rejectDuplicate(scope string, desc Descriptor, uploader, uploaderName string, original *db.FileRecord) (*Outcome, error) {
	e.applyDelta(scope, uploader, DeltaDuplicate)

	alert := &db.DuplicateAlert{
		NetworkID:                scope,
		DuplicateFileName:        desc.FileName,
		DuplicateUploader:        uploaderName,
		DuplicateUploaderAddress: uploader,
		OriginalUploader:         original.UploaderName,
		OriginalUploaderAddress:  original.UploaderAddress,
		OriginalDate:             original.UploadedAt.UTC().Format(time.RFC3339),
		Fingerprint:              desc.Fingerprint,
	}
	if err := e.store.AppendAlert(alert); err != nil {
		return nil, fmt.Errorf("appending duplicate alert: %w", err)
	}

	slog.Info("duplicate upload rejected",
		"scope", scope, "fingerprint", desc.Fingerprint,
		"uploader", uploader, "original_uploader", original.UploaderAddress)

	return &Outcome{
		Accepted: false,
		EloDelta: DeltaDuplicate,
		Alert:    alert,
		Duplicate: &DuplicateInfo{
			OriginalUploader: original.UploaderName,
			OriginalAddress:  original.UploaderAddress,
			OriginalDate:     alert.OriginalDate,
			FileName:         original.FileName,
		},
	}, nil
}

func (e *Engine) acceptNew(ctx context.Context, scope string, desc Descriptor, uploader, uploaderName string) (*Outcome, error) {
	anchorTx := e.tryAnchor(ctx, scope, desc, uploader)

	if uploaderName == "" {
		uploaderName = uploader
	}
	record := &db.FileRecord{
		ScopeID:         scope,
		FileName:        desc.FileName,
		Fingerprint:     desc.Fingerprint,
		Sha256Hash:      desc.Sha256Hash,
		Size:            desc.Size,
		UploaderAddress: uploader,
		UploaderName:    uploaderName,
		RetrievalURL:    desc.RetrievalURL,
		AnchorTx:        anchorTx,
	}
	if err := e.store.InsertFile(record); err != nil {
		return nil, fmt.Errorf("storing file record: %w", err)
	}

	delta := 0
	if scope != db.ScopePersonal {
		delta = DeltaNew
		e.applyDelta(scope, uploader, DeltaNew)
	}

	return &Outcome{
		Accepted: true,
		Anchored: anchorTx != "",
		EloDelta: delta,
		Record:   record,
	}, nil
}

// tryAnchor writes the fingerprint to the external ledger. Failure is logged
// and downgraded to an empty tx ref; it never aborts the branch.
func (e *Engine) tryAnchor(ctx context.Context, scope string, desc Descriptor, payer string) string {
	if e.anchor == nil {
		return ""
	}
	anchorScope := scope
	if scope == db.ScopePersonal {
		anchorScope = ""
	}
	tx, err := e.anchor.AnchorFingerprint(ctx, anchorScope, anchor.FileMeta{
		Fingerprint:  desc.Fingerprint,
		Sha256Hash:   desc.Sha256Hash,
		FileName:     desc.FileName,
		Size:         desc.Size,
		RetrievalURL: desc.RetrievalURL,
	}, payer)
	if err != nil {
		slog.Warn("anchor write failed, continuing without tx ref",
			"scope", scope, "fingerprint", desc.Fingerprint, "error", err)
		return ""
	}
	return tx
}

// applyDelta mirrors one delta onto the global score and, for network scopes,
// the member's in-network reputation. Both writes are tolerant: a failed
// reputation update is logged but does not abort the verdict.
func (e *Engine) applyDelta(scope, address string, delta int) {
	elo, err := e.store.GetElo(address)
	if err != nil {
		slog.Error("reading elo", "address", address, "error", err)
	} else if err := e.store.SetElo(address, elo+delta); err != nil {
		slog.Error("updating elo", "address", address, "error", err)
	}

	if scope != db.ScopePersonal {
		if err := e.store.AdjustMemberReputation(scope, address, delta); err != nil {
			slog.Error("updating member reputation", "network", scope, "address", address, "error", err)
		}
	}
}
