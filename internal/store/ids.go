package store

import "github.com/google/uuid"

// GenNewID returns a new time-ordered UUID (v7) for entity primary keys.
// V7 keeps btree inserts mostly append-only on the created_at-correlated id.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
