package application

import "github.com/google/uuid"

// CallerIdentity carries the already-resolved identity of the caller. It is
// built once at the transport boundary and passed explicitly into every
// engine operation; nothing below the adapters reads auth state ambiently.
type CallerIdentity struct {
	UserID uuid.UUID
	Email  string
}

// IsZero reports whether no caller has been resolved.
func (c CallerIdentity) IsZero() bool {
	return c.UserID == uuid.Nil
}
