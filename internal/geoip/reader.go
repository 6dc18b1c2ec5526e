package geoip

import (
	"errors"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Location is an approximate position of an address.
type Location struct {
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Provider wraps GeoIP2 readers for country and, optionally, city lookups.
type Provider struct {
	country *geoip2.Reader
	city    *geoip2.Reader
}

// Open initializes the country reader and, when cityPath is set, the city reader.
func Open(countryPath, cityPath string) (*Provider, error) {
	country, err := geoip2.Open(countryPath)
	if err != nil {
		return nil, err
	}

	p := &Provider{country: country}
	if cityPath != "" {
		if p.city, err = geoip2.Open(cityPath); err != nil {
			_ = country.Close()
			return nil, err
		}
	}

	return p, nil
}

// Close closes the underlying GeoIP database readers.
func (p *Provider) Close() error {
	err := p.country.Close()
	if p.city != nil {
		err = errors.Join(err, p.city.Close())
	}
	return err
}

// CountryCode looks up the ISO country code (e.g., "US", "DE") of ip.
// It returns an empty string for nil providers, private ranges and unknown addresses.
func (p *Provider) CountryCode(ip net.IP) string {
	if p == nil || ip == nil {
		return ""
	}

	record, err := p.country.Country(ip)
	if err != nil {
		return ""
	}

	return record.Country.IsoCode
}

// Locate returns the city level position of ip. ok is false without a city database
// or when the address has no location.
func (p *Provider) Locate(ip net.IP) (loc Location, ok bool) {
	if p == nil || p.city == nil || ip == nil {
		return loc, false
	}

	record, err := p.city.City(ip)
	if err != nil {
		return loc, false
	}
	if record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return loc, false
	}

	return Location{
		Country:   record.Country.IsoCode,
		City:      record.City.Names["en"],
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
	}, true
}
