package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Session identifies who triggered a ledger operation. It is passed
// explicitly to every write; authorization happens before it is built.
type Session struct {
	ActorID   string
	RequestID string
}

// NewSession returns a session for actor with a fresh request id
func NewSession(actorID string) Session {
	return Session{ActorID: actorID, RequestID: uuid.NewString()}
}

// SystemSession is used by startup and maintenance work
func SystemSession() Session {
	return NewSession("system")
}

func (s Session) String() string {
	actor := s.ActorID
	if actor == "" {
		actor = "anonymous"
	}
	return fmt.Sprintf("actor=%s request=%s", actor, s.RequestID)
}
