// Package emails picks which of a person's candidate addresses to use when
// creating or reusing a local account. The institutional domain is injected
// at construction; selection itself is pure so stores stay out of the
// decision.
package emails

import "strings"

// Selector applies the address-selection rules for account creation and
// account reuse.
type Selector struct {
	institutionalDomain string
}

// NewSelector builds a Selector preferring addresses that contain the given
// institutional domain literal (e.g. "@uchile.cl").
func NewSelector(institutionalDomain string) *Selector {
	return &Selector{institutionalDomain: institutionalDomain}
}

// Select picks one address for a new account from candidates, given the set
// of addresses already bound to local accounts. Returns false when no
// address can safely be used.
//
// When some candidate is already in use, any unused candidate may serve; the
// first in input order is taken. When none are in use the institutional
// address is preferred, keeping the last institutional match when several
// candidates carry the domain.
func (s *Selector) Select(candidates []string, inUse map[string]bool) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	anyInUse := false
	for _, email := range candidates {
		if inUse[email] {
			anyInUse = true
			break
		}
	}

	if anyInUse {
		for _, email := range candidates {
			if !inUse[email] {
				return email, true
			}
		}
		return "", false
	}

	selected := candidates[0]
	for _, email := range candidates {
		if strings.Contains(email, s.institutionalDomain) {
			selected = email
		}
	}
	return selected, true
}

// Candidate is an existing account considered for reuse, annotated with
// whether an identity already owns it.
type Candidate struct {
	Email  string
	Active bool
	Linked bool
}

// PickReusable resolves an existing, not-yet-linked, active account from the
// candidates. Institutional-domain accounts win immediately; otherwise the
// first unlinked active account is returned. The index into candidates is
// returned so callers can recover the full account record.
func (s *Selector) PickReusable(candidates []Candidate) (int, bool) {
	firstUnlinked := -1
	for i, c := range candidates {
		if c.Linked || !c.Active {
			continue
		}
		if strings.Contains(c.Email, s.institutionalDomain) {
			return i, true
		}
		if firstUnlinked == -1 {
			firstUnlinked = i
		}
	}
	if firstUnlinked >= 0 {
		return firstUnlinked, true
	}
	return -1, false
}
