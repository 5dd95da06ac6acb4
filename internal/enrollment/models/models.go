// Package models holds the enrollment domain entities: pending registrations
// recorded against unlinked document ids, the enrollments they turn into, and
// the batch reports returned to staff callers.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/eol-uchile/uchileedxlogin/internal/document"
	dErrors "github.com/eol-uchile/uchileedxlogin/pkg/domain-errors"
)

// Mode is the enrollment track. Closed set.
type Mode string

const (
	ModeAudit Mode = "audit"
	ModeHonor Mode = "honor"
)

// ParseMode validates a caller-supplied mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeAudit, ModeHonor:
		return Mode(raw), nil
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown enrollment mode")
	}
}

// PendingRegistration is an enrollment intent for a document id with no
// identity yet. One per (document, course); consumed atomically when the
// identity materializes.
type PendingRegistration struct {
	ID         uuid.UUID
	DocumentID document.ID
	Course     string
	Mode       Mode
	AutoEnroll bool
	CreatedAt  time.Time
}

// Enrollment is an active (or deactivated) course membership for an account.
type Enrollment struct {
	AccountID uuid.UUID
	Course    string
	Mode      Mode
	Active    bool
	CreatedAt time.Time
}

// AllowedEnrollment is a pre-enrollment keyed by email. It activates when an
// account with that address signs up or logs in; that activation is the
// platform's concern, not this service's.
type AllowedEnrollment struct {
	Email     string
	Course    string
	Mode      Mode
	CreatedAt time.Time
}

// Bucket splits a report category by how the enrollment was applied.
type Bucket struct {
	Enrolled    []string `json:"enrolled"`
	AllowListed []string `json:"allow_listed"`
}

// Add records a document under the sub-split chosen by autoEnroll.
func (b *Bucket) Add(doc string, autoEnroll bool) {
	if autoEnroll {
		b.Enrolled = append(b.Enrolled, doc)
	} else {
		b.AllowListed = append(b.AllowListed, doc)
	}
}

// ReconcileReport partitions the requested document ids. Display only; no
// logic downstream reads it.
type ReconcileReport struct {
	Linked       Bucket   `json:"linked"`
	ForceCreated Bucket   `json:"force_created"`
	Pending      []string `json:"pending"`
	Invalid      []string `json:"invalid"`
	Duplicates   []string `json:"duplicates"`
}

// UnenrollReport aggregates which document ids each cascade step touched. A
// document may appear in several categories; Affected is the deduplicated
// union.
type UnenrollReport struct {
	PendingRemoved []string `json:"pending_removed"`
	AllowedRemoved []string `json:"allowed_removed"`
	Deactivated    []string `json:"deactivated"`
	NotFound       []string `json:"not_found"`
	Invalid        []string `json:"invalid"`
	Affected       []string `json:"affected"`
}
