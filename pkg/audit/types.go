package audit

import "context"

// Entry records a single mutating action for the audit trail.
type Entry struct {
	EntryID    string `json:"entry_id"`
	Timestamp  int64  `json:"timestamp"`
	Action     string `json:"action"`    // "upload", "create_network", ...
	Transport  string `json:"transport"` // "http" or "mcp"
	Principal  string `json:"principal"` // wallet address
	Scope      string `json:"scope"`     // network id or "personal"
	Parameters string `json:"parameters"`
	Result     string `json:"result"`
	Error      string `json:"error_message"`
	DurationMs int64  `json:"duration_ms"`
	Status     string `json:"status"` // "success" or "error"
}

// Logger writes audit entries to storage.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	LogAsync(entry *Entry)
	Close() error
}
