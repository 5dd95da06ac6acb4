// Package provider talks to the external identity-provider registry ("PH").
// The registry is the source of truth for the person behind a document id:
// names, candidate email addresses and the provider-side username.
package provider

import "context"

// PersonRecord is the provider's view of a person. Emails preserve the
// provider's ordering; Username is the provider-side login, present only for
// people with external authentication.
type PersonRecord struct {
	DocumentID string   `json:"document_id"`
	GivenNames string   `json:"given_names"`
	Surname1   string   `json:"surname1"`
	Surname2   string   `json:"surname2"`
	Emails     []string `json:"emails"`
	Username   string   `json:"username"`
}

// HasExternalAuth reports whether the registry knows a provider-side login
// for this person.
func (r *PersonRecord) HasExternalAuth() bool { return r.Username != "" }

// Client queries the registry. Both lookups surface any non-success status,
// malformed payload or empty person list as a provider_unavailable error;
// callers map that to "resolution failed".
type Client interface {
	LookupByDocument(ctx context.Context, docID string) (*PersonRecord, error)
	LookupByUsername(ctx context.Context, username string) (*PersonRecord, error)
}
