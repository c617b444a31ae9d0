package db

import (
	"database/sql"
	"fmt"
	"time"
)

// DefaultElo is the score every principal starts from.
const DefaultElo = 2701

type User struct {
	Address     string    `json:"address"`
	Username    string    `json:"username"`
	Elo         int       `json:"elo"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// GetElo returns the global reputation score for a wallet address. A principal
// that has never been seen gets a durable row at DefaultElo; the first read is
// itself a write.
func (db *DB) GetElo(address string) (int, error) {
	var elo int
	err := db.QueryRow(`SELECT elo FROM users WHERE address = ?`, address).Scan(&elo)
	if err == sql.ErrNoRows {
		if _, err := db.Exec(`INSERT INTO users (address) VALUES (?)`, address); err != nil {
			return 0, fmt.Errorf("initializing user score: %w", err)
		}
		return DefaultElo, nil
	}
	if err != nil {
		return 0, err
	}
	return elo, nil
}

// SetElo writes an absolute score, clamped at zero.
func (db *DB) SetElo(address string, score int) error {
	if score < 0 {
		score = 0
	}
	_, err := db.Exec(`
		INSERT INTO users (address, elo) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET elo = excluded.elo, last_updated = datetime('now')`,
		address, score)
	return err
}

func (db *DB) GetUser(address string) (*User, error) {
	u := &User{}
	err := db.QueryRow(`
		SELECT address, username, elo, created_at, last_updated
		FROM users WHERE address = ?`, address).Scan(
		&u.Address, &u.Username, &u.Elo, &u.CreatedAt, &u.LastUpdated)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpsertUser records the display name a principal last authenticated with.
func (db *DB) UpsertUser(address, username string) error {
	_, err := db.Exec(`
		INSERT INTO users (address, username) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET username = excluded.username`,
		address, username)
	return err
}
