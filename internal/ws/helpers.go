package ws

import "github.com/google/uuid"

// NewConnID returns a fresh opaque connection id.
func NewConnID() string {
	return uuid.NewString()
}
