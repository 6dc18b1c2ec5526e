package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Site holds map presentation settings served to clients by /api/status.
type Site struct {
	Name          string  `yaml:"name" json:"name"`
	AdminContact  Contact `yaml:"admin_contact" json:"admin_contact"`
	Tileserver    string  `yaml:"tileserver" json:"tileserver"`
	Attribution   string  `yaml:"attribution" json:"attribution,omitempty"`
	Center        Center  `yaml:"center" json:"center"`
	Zoom          int     `yaml:"zoom" json:"zoom"`
	ClusterRadius int     `yaml:"cluster_radius" json:"cluster_radius"`
}

// Contact is the instance maintainer.
type Contact struct {
	Name  string `yaml:"name" json:"name,omitempty"`
	Email string `yaml:"email" json:"email,omitempty"`
	PGP   string `yaml:"pgp" json:"pgp,omitempty"`
}

// Center is the initial map position.
type Center struct {
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
}

// DefaultSite returns the settings used without a site file.
func DefaultSite() Site {
	return Site{
		Name:          "NodeAtlas",
		Tileserver:    "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution:   "Map data © OpenStreetMap contributors",
		Zoom:          2,
		ClusterRadius: 30,
	}
}

// LoadSite reads a YAML site file on top of the defaults.
func LoadSite(path string) (Site, error) {
	site := DefaultSite()

	data, err := os.ReadFile(path)
	if err != nil {
		return site, fmt.Errorf("read site file: %w", err)
	}
	if err := yaml.Unmarshal(data, &site); err != nil {
		return site, fmt.Errorf("parse site file %s: %w", path, err)
	}
	return site, nil
}

// Validate checks ranges of the map settings.
func (s Site) Validate() error {
	switch {
	case s.Name == "":
		return errors.New("site name is required")
	case s.Center.Latitude < -90 || s.Center.Latitude > 90:
		return errors.New("site center latitude out of range")
	case s.Center.Longitude < -180 || s.Center.Longitude > 180:
		return errors.New("site center longitude out of range")
	case s.Zoom < 0 || s.Zoom > 20:
		return errors.New("site zoom must be between 0 and 20")
	case s.ClusterRadius < 0:
		return errors.New("site cluster radius must not be negative")
	}
	return nil
}
