// Package identity binds a verified beneficiary identity to the on-chain
// retirement reason. The chain stores the reason as an opaque string; a
// base64url-encoded JSON tag appended to the reason lets later indexer
// reads reconstruct who funded a retirement without trusting the chain to
// store identity structurally.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Attribution methods, in ascending precedence: none < manual < email < oauth.
const (
	MethodNone   = "none"
	MethodManual = "manual"
	MethodEmail  = "email"
	MethodOAuth  = "oauth"
)

// Attribution is the identity attached to a retirement. Method determines
// which of the other fields are meaningful.
type Attribution struct {
	Method   string `json:"method"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
	Subject  string `json:"subject,omitempty"`
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// CaptureInput is the raw identity material supplied by a caller.
type CaptureInput struct {
	Name     string
	Email    string
	Provider string
	Subject  string
}

// CaptureIdentity normalizes raw identity input into an Attribution. All
// strings are trimmed, emails lowercased and validated, and provider and
// subject must be supplied together. Precedence when several are present:
// oauth over email over manual over none.
func CaptureIdentity(in CaptureInput) (Attribution, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	provider := strings.TrimSpace(in.Provider)
	subject := strings.TrimSpace(in.Subject)

	if email != "" && !emailRe.MatchString(email) {
		return Attribution{}, errors.New("identity: invalid email")
	}
	if (provider == "") != (subject == "") {
		return Attribution{}, errors.New("identity: provider and subject must be supplied together")
	}

	switch {
	case provider != "":
		return Attribution{Method: MethodOAuth, Name: name, Email: email, Provider: provider, Subject: subject}, nil
	case email != "":
		return Attribution{Method: MethodEmail, Name: name, Email: email}, nil
	case name != "":
		return Attribution{Method: MethodManual, Name: name}, nil
	default:
		return Attribution{Method: MethodNone}, nil
	}
}

// reasonTag is the wire form of the identity tag. The version field guards
// against future format changes; anything but v=1 is treated as foreign.
type reasonTag struct {
	V        int    `json:"v"`
	Method   string `json:"method"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
	Subject  string `json:"subject,omitempty"`
}

var tagSuffixRe = regexp.MustCompile(`\s*\[identity:([A-Za-z0-9\-_]+)\]\s*$`)

// AppendIdentityToReason returns the chain-visible retirement reason for the
// given base reason and attribution. Method "none" leaves the reason
// unchanged.
func AppendIdentityToReason(reason string, attr Attribution) string {
	if attr.Method == MethodNone || attr.Method == "" {
		return reason
	}
	tag := reasonTag{V: 1, Method: attr.Method, Name: attr.Name, Email: attr.Email,
		Provider: attr.Provider, Subject: attr.Subject}
	raw, err := json.Marshal(tag)
	if err != nil {
		return reason
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return reason + " [identity:" + encoded + "]"
}

// ParseAttributedReason splits a chain-visible reason back into the human
// reason text and the attribution that was appended to it, if any.
// Malformed or forged tags are not an error: the raw reason is returned
// unchanged with a nil attribution.
func ParseAttributedReason(raw string) (reasonText string, attr *Attribution) {
	m := tagSuffixRe.FindStringSubmatchIndex(raw)
	if m == nil {
		return raw, nil
	}
	encoded := raw[m[2]:m[3]]
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return raw, nil
	}
	var tag reasonTag
	if err := json.Unmarshal(decoded, &tag); err != nil {
		return raw, nil
	}
	if tag.V != 1 {
		return raw, nil
	}
	switch tag.Method {
	case MethodManual, MethodEmail, MethodOAuth:
	default:
		return raw, nil
	}
	normalized, err := CaptureIdentity(CaptureInput{
		Name: tag.Name, Email: tag.Email, Provider: tag.Provider, Subject: tag.Subject,
	})
	if err != nil || normalized.Method != tag.Method {
		return raw, nil
	}
	return raw[:m[0]], &normalized
}
