// Package session carries the acting principal through a request: an explicit
// value built from the verified token and passed to whatever needs
// attribution, never ambient state.
package session

// Context identifies who a call is attributed to.
type Context struct {
	Principal   string // wallet address (hex ed25519 public key)
	DisplayName string
}

func (c Context) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Principal
}
