// Package audit writes one JSON line per security relevant decision:
// consents granted, denied and revoked, clients registered, edited and
// deleted.
package audit

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	ActionConsentGranted = "consent.granted"
	ActionConsentDenied  = "consent.denied"
	ActionConsentRevoked = "consent.revoked"
	ActionClientCreated  = "client.created"
	ActionClientUpdated  = "client.updated"
	ActionClientDeleted  = "client.deleted"
)

// Event represents an audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`
	Client    string    `json:"client,omitempty"`
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

var (
	mu          sync.RWMutex
	auditLogger = zerolog.New(os.Stdout)
)

// SetOutput redirects audit events to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	auditLogger = zerolog.New(w)
}

// Log records an audit event.
func Log(action, user, clientID, details string, err error) {
	event := Event{
		Timestamp: time.Now().UTC(),
		Action:    action,
		User:      user,
		Client:    clientID,
		Details:   details,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}

	mu.RLock()
	defer mu.RUnlock()
	auditLogger.Log().
		Time("timestamp", event.Timestamp).
		Str("action", event.Action).
		Str("user", event.User).
		Str("client", event.Client).
		Str("details", event.Details).
		Bool("success", event.Success).
		Str("error", event.Error).
		Msg("audit")
}
