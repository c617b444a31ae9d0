package db

import (
	"database/sql"
	"time"
)

// ScopePersonal is the sentinel scope for uploads made outside any network.
const ScopePersonal = "personal"

type FileRecord struct {
	ID              string    `json:"id"`
	ScopeID         string    `json:"scope_id"`
	FileName        string    `json:"file_name"`
	Fingerprint     string    `json:"fingerprint"`
	Sha256Hash      string    `json:"sha256_hash,omitempty"`
	Size            int64     `json:"size"`
	UploaderAddress string    `json:"uploader_address"`
	UploaderName    string    `json:"uploader_name"`
	RetrievalURL    string    `json:"retrieval_url"`
	AnchorTx        string    `json:"anchor_tx,omitempty"`
	UploadedAt      time.Time `json:"uploaded_at"`
}

// FindFileByFingerprint returns the earliest accepted record for the
// fingerprint in the given scope, or sql.ErrNoRows when none exists.
func (db *DB) FindFileByFingerprint(scopeID, fingerprint string) (*FileRecord, error) {
	return db.scanFile(db.QueryRow(`
		SELECT id, scope_id, file_name, fingerprint, sha256_hash, size,
		       uploader_address, uploader_name, retrieval_url, anchor_tx, uploaded_at
		FROM files WHERE scope_id = ? AND fingerprint = ?
		ORDER BY uploaded_at ASC LIMIT 1`, scopeID, fingerprint))
}

// InsertFile persists an accepted upload. Records are immutable once written.
func (db *DB) InsertFile(f *FileRecord) error {
	if f.ID == "" {
		f.ID = "file_" + NewID()
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}
	_, err := db.Exec(`
		INSERT INTO files (id, scope_id, file_name, fingerprint, sha256_hash, size,
			uploader_address, uploader_name, retrieval_url, anchor_tx, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ScopeID, f.FileName, f.Fingerprint, f.Sha256Hash, f.Size,
		f.UploaderAddress, f.UploaderName, f.RetrievalURL, f.AnchorTx, f.UploadedAt)
	return err
}

// FilesByScope lists a network's records, newest first.
func (db *DB) FilesByScope(scopeID string) ([]*FileRecord, error) {
	rows, err := db.Query(`
		SELECT id, scope_id, file_name, fingerprint, sha256_hash, size,
		       uploader_address, uploader_name, retrieval_url, anchor_tx, uploaded_at
		FROM files WHERE scope_id = ?
		ORDER BY uploaded_at DESC`, scopeID)
	if err != nil {
		return nil, err
	}
	return db.collectFiles(rows)
}

// PersonalFiles lists one principal's records in the personal scope,
// newest first.
func (db *DB) PersonalFiles(address string) ([]*FileRecord, error) {
	rows, err := db.Query(`
		SELECT id, scope_id, file_name, fingerprint, sha256_hash, size,
		       uploader_address, uploader_name, retrieval_url, anchor_tx, uploaded_at
		FROM files WHERE scope_id = ? AND uploader_address = ?
		ORDER BY uploaded_at DESC`, ScopePersonal, address)
	if err != nil {
		return nil, err
	}
	return db.collectFiles(rows)
}

func (db *DB) scanFile(row rowScanner) (*FileRecord, error) {
	f := &FileRecord{}
	err := row.Scan(&f.ID, &f.ScopeID, &f.FileName, &f.Fingerprint, &f.Sha256Hash, &f.Size,
		&f.UploaderAddress, &f.UploaderName, &f.RetrievalURL, &f.AnchorTx, &f.UploadedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (db *DB) collectFiles(rows *sql.Rows) ([]*FileRecord, error) {
	defer rows.Close()
	var files []*FileRecord
	for rows.Next() {
		f, err := db.scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
