package agent

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SessionIdentity names one learner conversation.
type SessionIdentity struct {
	ClientID  string
	SessionID string
}

func (id SessionIdentity) Validate() error {
	if strings.TrimSpace(id.ClientID) == "" {
		return fmt.Errorf("missing client id")
	}
	if strings.TrimSpace(id.SessionID) == "" {
		return fmt.Errorf("missing session id")
	}
	return nil
}

func (id SessionIdentity) String() string {
	return strings.TrimSpace(id.ClientID) + "|" + strings.TrimSpace(id.SessionID)
}

// ResolveSessionID returns explicit when set, otherwise a fresh random id.
func ResolveSessionID(explicit string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	return uuid.NewString()
}

// ResolveIdentity builds a validated identity, generating the session id
// when the caller has none.
func ResolveIdentity(clientID, sessionID string) (SessionIdentity, error) {
	id := SessionIdentity{
		ClientID:  strings.TrimSpace(clientID),
		SessionID: ResolveSessionID(sessionID),
	}
	if err := id.Validate(); err != nil {
		return SessionIdentity{}, err
	}
	return id, nil
}
