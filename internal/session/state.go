package session

// State is where a connection sits in its lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateJoined       State = "joined"
	StateActive       State = "active"
	StateIdle         State = "idle"
)

// State reports the lifecycle state of connID.
func (s *Service) State(connID string) State {
	s.mu.Lock()
	_, connecting := s.connecting[connID]
	s.mu.Unlock()
	if connecting {
		return StateConnecting
	}

	snap, ok := s.registry.Connection(connID)
	if !ok {
		return StateDisconnected
	}
	if s.now().Sub(snap.LastActivity) >= s.idleAfter {
		return StateIdle
	}
	if !snap.Touched {
		return StateJoined
	}
	return StateActive
}
