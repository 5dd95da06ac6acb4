// Package document classifies and canonicalizes the external document
// identifiers used as identity keys: national ids (RUT), passports, and
// alternate-registry (CG) identifiers.
package document

import (
	"strconv"
	"strings"

	dErrors "github.com/eol-uchile/uchileedxlogin/pkg/domain-errors"
)

// Kind is the closed set of document identifier families.
type Kind string

const (
	KindNationalID        Kind = "national_id"
	KindPassport          Kind = "passport"
	KindAlternateRegistry Kind = "alternate_registry"
)

// canonicalWidth is the fixed width national ids are padded to; passports and
// alternate-registry ids keep their classified form.
const canonicalWidth = 10

// ID is a validated, canonicalized document identifier. Build one with Parse;
// the zero value is not valid.
type ID struct {
	Kind  Kind
	Value string
}

func (id ID) String() string { return id.Value }

// IsZero reports whether the ID was never parsed.
func (id ID) IsZero() bool { return id.Value == "" }

// Parse normalizes raw input (uppercase, strip separators, trim), classifies
// it, validates the kind-specific format and returns the canonical form.
// First match wins: leading P is a passport, leading CG an alternate-registry
// id, everything else must pass the national-id checksum.
func Parse(raw string) (ID, error) {
	norm := strings.ToUpper(raw)
	norm = strings.ReplaceAll(norm, "-", "")
	norm = strings.ReplaceAll(norm, ".", "")
	norm = strings.TrimSpace(norm)
	if norm == "" {
		return ID{}, dErrors.New(dErrors.CodeInvalidDocument, "empty document id")
	}

	switch {
	case norm[0] == 'P':
		body := len(norm) - 1
		if body < 5 || body > 20 {
			return ID{}, dErrors.New(dErrors.CodeInvalidDocument, "invalid passport: "+norm)
		}
		return ID{Kind: KindPassport, Value: norm}, nil
	case strings.HasPrefix(norm, "CG"):
		if len(norm) != 10 {
			return ID{}, dErrors.New(dErrors.CodeInvalidDocument, "invalid alternate-registry id: "+norm)
		}
		return ID{Kind: KindAlternateRegistry, Value: norm}, nil
	default:
		if !validChecksum(norm) {
			return ID{}, dErrors.New(dErrors.CodeInvalidDocument, "invalid national id: "+norm)
		}
		return ID{Kind: KindNationalID, Value: pad(norm)}, nil
	}
}

// validChecksum verifies the modulo-11 check digit of a national id. The body
// digits are weighted 2..7 cycling from the least significant digit; the
// check digit is (-sum) mod 11, with K standing in for 10.
func validChecksum(id string) bool {
	if len(id) < 1 {
		return false
	}
	body := id[:len(id)-1]
	dv := id[len(id)-1:]

	sum := 0
	factor := 2
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		sum += d * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}
	res := ((-sum)%11 + 11) % 11
	if strconv.Itoa(res) == dv {
		return true
	}
	return dv == "K" && res == 10
}

func pad(id string) string {
	for len(id) < canonicalWidth {
		id = "0" + id
	}
	return id
}
