package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNetworkNotFound  = errors.New("network not found or invalid join key")
	ErrAlreadyMember    = errors.New("already a member of this network")
	ErrAdminCannotLeave = errors.New("admin cannot leave the network")
)

type Member struct {
	Address    string `json:"address"`
	Username   string `json:"username"`
	JoinedAt   string `json:"joined_at"`
	Role       string `json:"role"` // "admin" or "member"
	Reputation int    `json:"reputation"`
}

type Network struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	AdminAddress string    `json:"admin_address"`
	JoinSecret   string    `json:"join_secret,omitempty"`
	Members      []Member  `json:"members"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewJoinSecret concatenates two 12-char base-36 idgen fragments, which is
// well past the unguessability floor for a shared join key.
func NewJoinSecret() string {
	return NewID() + NewID()
}

// CreateNetwork seeds a network with its admin as sole member.
func (db *DB) CreateNetwork(name, adminAddress, adminUsername string) (*Network, error) {
	n := &Network{
		ID:           "net_" + NewID(),
		Name:         name,
		AdminAddress: adminAddress,
		JoinSecret:   NewJoinSecret(),
		Members: []Member{{
			Address:    adminAddress,
			Username:   adminUsername,
			JoinedAt:   time.Now().UTC().Format(time.RFC3339),
			Role:       "admin",
			Reputation: DefaultElo,
		}},
		CreatedAt: time.Now().UTC(),
	}

	members, err := json.Marshal(n.Members)
	if err != nil {
		return nil, fmt.Errorf("encoding members: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO networks (id, name, admin_address, join_secret, members)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Name, n.AdminAddress, n.JoinSecret, string(members))
	if err != nil {
		return nil, fmt.Errorf("creating network: %w", err)
	}
	return n, nil
}

// JoinNetwork appends a member to the network matching name+secret.
// The membership write is read-modify-write on the whole members document;
// concurrent joins can lose updates (see DESIGN.md).
func (db *DB) JoinNetwork(name, joinSecret, address, username string) (*Network, error) {
	n, err := db.findByNameAndSecret(name, joinSecret)
	if err != nil {
		return nil, err
	}

	for _, m := range n.Members {
		if m.Address == address {
			return nil, ErrAlreadyMember
		}
	}

	n.Members = append(n.Members, Member{
		Address:    address,
		Username:   username,
		JoinedAt:   time.Now().UTC().Format(time.RFC3339),
		Role:       "member",
		Reputation: DefaultElo,
	})
	if err := db.writeMembers(n.ID, n.Members); err != nil {
		return nil, err
	}
	return n, nil
}

// LeaveNetwork removes a non-admin member.
func (db *DB) LeaveNetwork(networkID, address string) error {
	n, err := db.GetNetwork(networkID)
	if err != nil {
		return err
	}
	if n.AdminAddress == address {
		return ErrAdminCannotLeave
	}

	kept := n.Members[:0]
	for _, m := range n.Members {
		if m.Address != address {
			kept = append(kept, m)
		}
	}
	return db.writeMembers(n.ID, kept)
}

// NetworksFor returns every network the address belongs to, newest first.
// Membership is filtered here rather than in SQL: members live inside a JSON
// document column.
func (db *DB) NetworksFor(address string) ([]*Network, error) {
	rows, err := db.Query(`
		SELECT id, name, admin_address, join_secret, members, created_at
		FROM networks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var networks []*Network
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, err
		}
		for _, m := range n.Members {
			if m.Address == address {
				networks = append(networks, n)
				break
			}
		}
	}
	return networks, rows.Err()
}

func (db *DB) GetNetwork(id string) (*Network, error) {
	row := db.QueryRow(`
		SELECT id, name, admin_address, join_secret, members, created_at
		FROM networks WHERE id = ?`, id)
	n, err := scanNetwork(row)
	if err == sql.ErrNoRows {
		return nil, ErrNetworkNotFound
	}
	return n, err
}

// Role returns "admin", "member" or "" for the given address.
func (db *DB) Role(networkID, address string) (string, error) {
	n, err := db.GetNetwork(networkID)
	if err != nil {
		return "", err
	}
	for _, m := range n.Members {
		if m.Address == address {
			return m.Role, nil
		}
	}
	return "", nil
}

// AdjustMemberReputation applies a delta to one member's in-network score,
// floored at zero. Unknown members are a no-op.
func (db *DB) AdjustMemberReputation(networkID, address string, delta int) error {
	n, err := db.GetNetwork(networkID)
	if err != nil {
		return err
	}
	changed := false
	for i := range n.Members {
		if n.Members[i].Address == address {
			r := n.Members[i].Reputation + delta
			if r < 0 {
				r = 0
			}
			n.Members[i].Reputation = r
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return db.writeMembers(n.ID, n.Members)
}

func (db *DB) findByNameAndSecret(name, joinSecret string) (*Network, error) {
	rows, err := db.Query(`
		SELECT id, name, admin_address, join_secret, members, created_at
		FROM networks WHERE name = ? AND join_secret = ? LIMIT 1`, name, joinSecret)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNetworkNotFound
	}
	return scanNetwork(rows)
}

func (db *DB) writeMembers(networkID string, members []Member) error {
	data, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("encoding members: %w", err)
	}
	_, err = db.Exec(`UPDATE networks SET members = ? WHERE id = ?`, string(data), networkID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNetwork(row rowScanner) (*Network, error) {
	n := &Network{}
	var members string
	if err := row.Scan(&n.ID, &n.Name, &n.AdminAddress, &n.JoinSecret, &members, &n.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(members), &n.Members); err != nil {
		return nil, fmt.Errorf("decoding members for %s: %w", n.ID, err)
	}
	return n, nil
}
