package models

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/woozymasta/nodeatlas/internal/status"
)

// MaxFieldLength is the longest owner name, contact or details text accepted.
const MaxFieldLength = 255

var emailRegexp = regexp.MustCompile(`^[a-z0-9._%+-]+@([a-z0-9-]+\.)+[a-z]+$`)

// ValidationError describes a rejected field of an incoming record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Registration is the payload used to create or update a node.
type Registration struct {
	Address   string   `json:"address"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Contact   string   `json:"contact,omitempty"`
	Details   string   `json:"details,omitempty"`
	PGP       string   `json:"pgp,omitempty"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Status    uint32   `json:"status"`
}

// Node validates the registration and converts it into a node.
// Free text fields are HTML-escaped and reserved status bits are cleared.
// When requireEmail is false an empty email is accepted (updates keep the stored one).
func (r Registration) Node(requireEmail bool) (Node, error) {
	var n Node

	addr, err := ParseIP(r.Address)
	if err != nil {
		return n, &ValidationError{Field: "address", Reason: "invalid address"}
	}
	n.Addr = addr

	if r.Latitude == nil {
		return n, &ValidationError{Field: "latitude", Reason: "required"}
	}
	if r.Longitude == nil {
		return n, &ValidationError{Field: "longitude", Reason: "required"}
	}
	if err := checkPosition(*r.Latitude, *r.Longitude); err != nil {
		return n, err
	}
	n.Latitude = *r.Latitude
	n.Longitude = *r.Longitude

	n.OwnerName = html.EscapeString(strings.TrimSpace(r.Name))
	if n.OwnerName == "" {
		return n, &ValidationError{Field: "name", Reason: "required"}
	}

	email := strings.ToLower(strings.TrimSpace(r.Email))
	switch {
	case email == "" && requireEmail:
		return n, &ValidationError{Field: "email", Reason: "required"}
	case email != "" && !emailRegexp.MatchString(email):
		return n, &ValidationError{Field: "email", Reason: "invalid address"}
	}
	n.OwnerEmail = email

	n.Contact = html.EscapeString(strings.TrimSpace(r.Contact))
	n.Details = html.EscapeString(strings.TrimSpace(r.Details))

	for _, f := range []struct{ name, value string }{
		{"name", n.OwnerName},
		{"contact", n.Contact},
		{"details", n.Details},
	} {
		if len(f.value) > MaxFieldLength {
			return n, &ValidationError{Field: f.name, Reason: "too long"}
		}
	}

	if n.PGP, err = DecodePGPID(r.PGP); err != nil {
		return n, &ValidationError{Field: "pgp", Reason: err.Error()}
	}

	n.Status = status.Sanitize(status.Status(r.Status))

	return n, nil
}
