package db

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

func TestFileRecords(t *testing.T) {
	database := openTestDB(t)

	t.Run("FindMissingFingerprint", func(t *testing.T) {
		_, err := database.FindFileByFingerprint("net_a", "QmMissing")
		if !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("err = %v, want sql.ErrNoRows", err)
		}
	})

	t.Run("InsertAndFind", func(t *testing.T) {
		record := &FileRecord{
			ScopeID:         "net_a",
			FileName:        "report.pdf",
			Fingerprint:     "QmFingerA",
			UploaderAddress: "addr_1",
			UploaderName:    "alice",
			Size:            42,
		}
		if err := database.InsertFile(record); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if record.ID == "" {
			t.Fatal("expected generated record ID")
		}

		found, err := database.FindFileByFingerprint("net_a", "QmFingerA")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if found.ID != record.ID || found.UploaderAddress != "addr_1" {
			t.Errorf("found = %+v, want the inserted record", found)
		}
	})

	t.Run("ScopesAreIsolated", func(t *testing.T) {
		_, err := database.FindFileByFingerprint("net_b", "QmFingerA")
		if !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("err = %v, want sql.ErrNoRows for another scope", err)
		}
	})

	t.Run("DuplicateInsertRejectedByIndex", func(t *testing.T) {
		err := database.InsertFile(&FileRecord{
			ScopeID:         "net_a",
			FileName:        "report-copy.pdf",
			Fingerprint:     "QmFingerA",
			UploaderAddress: "addr_2",
		})
		if err == nil {
			t.Fatal("expected unique index violation")
		}
	})

	t.Run("PersonalScopeAllowsSameFingerprint", func(t *testing.T) {
		err := database.InsertFile(&FileRecord{
			ScopeID:         ScopePersonal,
			FileName:        "report.pdf",
			Fingerprint:     "QmFingerA",
			UploaderAddress: "addr_1",
		})
		if err != nil {
			t.Fatalf("personal insert: %v", err)
		}
	})
}

func TestFileListings(t *testing.T) {
	database := openTestDB(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i, fp := range []string{"QmOne", "QmTwo", "QmThree"} {
		err := database.InsertFile(&FileRecord{
			ScopeID:         "net_list",
			FileName:        fp + ".bin",
			Fingerprint:     fp,
			UploaderAddress: "addr_1",
			UploadedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert %s: %v", fp, err)
		}
	}
	if err := database.InsertFile(&FileRecord{
		ScopeID:         ScopePersonal,
		FileName:        "private.bin",
		Fingerprint:     "QmPrivate",
		UploaderAddress: "addr_1",
	}); err != nil {
		t.Fatalf("insert personal: %v", err)
	}

	t.Run("ByScopeNewestFirst", func(t *testing.T) {
		files, err := database.FilesByScope("net_list")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(files) != 3 {
			t.Fatalf("len = %d, want 3", len(files))
		}
		if files[0].Fingerprint != "QmThree" {
			t.Errorf("first = %s, want QmThree (newest)", files[0].Fingerprint)
		}
	})

	t.Run("PersonalFilteredByUploader", func(t *testing.T) {
		files, err := database.PersonalFiles("addr_1")
		if err != nil {
			t.Fatalf("personal list: %v", err)
		}
		if len(files) != 1 || files[0].Fingerprint != "QmPrivate" {
			t.Errorf("files = %+v, want just QmPrivate", files)
		}

		other, err := database.PersonalFiles("addr_2")
		if err != nil {
			t.Fatalf("personal list for other: %v", err)
		}
		if len(other) != 0 {
			t.Errorf("other's personal files = %d, want 0", len(other))
		}
	})
}
