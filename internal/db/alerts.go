package db

import (
	"errors"
	"time"
)

var ErrAlertNotFound = errors.New("alert not found")

type DuplicateAlert struct {
	ID                       string     `json:"id"`
	NetworkID                string     `json:"network_id"`
	DuplicateFileName        string     `json:"duplicate_file_name"`
	DuplicateUploader        string     `json:"duplicate_uploader"`
	DuplicateUploaderAddress string     `json:"duplicate_uploader_address"`
	OriginalUploader         string     `json:"original_uploader"`
	OriginalUploaderAddress  string     `json:"original_uploader_address"`
	OriginalDate             string     `json:"original_date"`
	Fingerprint              string     `json:"fingerprint"`
	IsRead                   bool       `json:"is_read"`
	ReadAt                   *time.Time `json:"read_at,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
}

// AppendAlert records a duplicate event. Alerts are append-only; the only
// later mutation is the read flag.
func (db *DB) AppendAlert(a *DuplicateAlert) error {
	if a.ID == "" {
		a.ID = "alr_" + NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(`
		INSERT INTO alerts (id, network_id, duplicate_file_name, duplicate_uploader,
			duplicate_uploader_address, original_uploader, original_uploader_address,
			original_date, fingerprint, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		a.ID, a.NetworkID, a.DuplicateFileName, a.DuplicateUploader,
		a.DuplicateUploaderAddress, a.OriginalUploader, a.OriginalUploaderAddress,
		a.OriginalDate, a.Fingerprint, a.CreatedAt)
	return err
}

// AlertsByNetwork lists a network's duplicate alerts, newest first.
func (db *DB) AlertsByNetwork(networkID string) ([]*DuplicateAlert, error) {
	rows, err := db.Query(`
		SELECT id, network_id, duplicate_file_name, duplicate_uploader,
		       duplicate_uploader_address, original_uploader, original_uploader_address,
		       original_date, fingerprint, is_read, read_at, created_at
		FROM alerts WHERE network_id = ?
		ORDER BY created_at DESC`, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*DuplicateAlert
	for rows.Next() {
		a := &DuplicateAlert{}
		var isRead int
		if err := rows.Scan(&a.ID, &a.NetworkID, &a.DuplicateFileName, &a.DuplicateUploader,
			&a.DuplicateUploaderAddress, &a.OriginalUploader, &a.OriginalUploaderAddress,
			&a.OriginalDate, &a.Fingerprint, &isRead, &a.ReadAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.IsRead = isRead == 1
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// MarkAlertRead flips the read flag. Idempotent: marking an already-read
// alert succeeds and only refreshes read_at.
func (db *DB) MarkAlertRead(id string) error {
	res, err := db.Exec(`
		UPDATE alerts SET is_read = 1, read_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}
