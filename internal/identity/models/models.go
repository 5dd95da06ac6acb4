// Package models holds the identity domain entities: local platform accounts
// and the identity records binding them to external document ids.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/eol-uchile/uchileedxlogin/internal/document"
)

// Account is a local platform user. Username and email are unique across the
// platform; the uniqueness constraints are the concurrency backstop for
// racing account creations.
type Account struct {
	ID           uuid.UUID
	Username     string
	Email        string
	FullName     string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

// Identity binds a document id to exactly one account. HasExternalAuth flips
// to true the first time the account authenticates through the external
// identity provider and never flips back.
type Identity struct {
	DocumentID      document.ID
	AccountID       uuid.UUID
	HasExternalAuth bool
	CreatedAt       time.Time
}
