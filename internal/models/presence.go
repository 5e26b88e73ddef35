package models

import "time"

// PresenceRecord describes whether a user is reachable right now.
type PresenceRecord struct {
	UserID        int       `json:"user_id"`
	Online        bool      `json:"online"`
	LastSeen      time.Time `json:"last_seen"`
	ConnectionIDs []string  `json:"connection_ids"`
}
