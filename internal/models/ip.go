package models

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"strings"
)

var (
	// ErrInvalidIP is returned when an address cannot be parsed.
	ErrInvalidIP = errors.New("incorrectly formatted ip address")

	// ErrInvalidPGPID is returned for key ids that are not 0, 8 or 16 hex digits.
	ErrInvalidPGPID = errors.New("incorrectly formatted PGP ID")
)

// IP wraps net.IP with a string JSON form.
type IP net.IP

// ParseIP parses a textual address.
func ParseIP(s string) (IP, error) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil, ErrInvalidIP
	}
	return IP(ip), nil
}

// MustParseIP is ParseIP for constants and tests.
func MustParseIP(s string) IP {
	ip, err := ParseIP(s)
	if err != nil {
		panic(err)
	}
	return ip
}

func (ip IP) String() string {
	if len(ip) == 0 {
		return ""
	}
	return net.IP(ip).String()
}

// Equal compares two addresses, treating IPv4 and IPv4-in-IPv6 forms as equal.
func (ip IP) Equal(other IP) bool {
	return net.IP(ip).Equal(net.IP(other))
}

// Less orders addresses by their 16-byte form.
func (ip IP) Less(other IP) bool {
	return bytes.Compare(net.IP(ip).To16(), net.IP(other).To16()) < 0
}

// MarshalJSON encodes the address as a string.
func (ip IP) MarshalJSON() ([]byte, error) {
	return json.Marshal(ip.String())
}

// UnmarshalJSON decodes a string address.
func (ip *IP) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return ErrInvalidIP
	}
	parsed, err := ParseIP(s)
	if err != nil {
		return err
	}
	*ip = parsed
	return nil
}

// PGPID is the short or long key id of an owner's public key.
type PGPID []byte

// DecodePGPID parses a hex key id of length 0, 8 or 16.
func DecodePGPID(s string) (PGPID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 0 && len(s) != 8 && len(s) != 16 {
		return nil, ErrInvalidPGPID
	}
	if len(s) == 0 {
		return nil, nil
	}
	id := make(PGPID, len(s)/2)
	if _, err := hex.Decode(id, []byte(s)); err != nil {
		return nil, ErrInvalidPGPID
	}
	return id, nil
}

func (id PGPID) String() string {
	return hex.EncodeToString(id)
}

// MarshalJSON encodes the key id as lowercase hex.
func (id PGPID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a hex key id.
func (id *PGPID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return ErrInvalidPGPID
	}
	parsed, err := DecodePGPID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
