// Package seed loads a YAML fixture of accounts, institutions, stations,
// devices and thresholds into the store.
package seed

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/smukkama/vrisa/internal/database"
)

// Fixture references other entries by natural key: accounts by email,
// institutions and stations by name.
type Fixture struct {
	Accounts     []AccountFixture     `yaml:"accounts"`
	Institutions []InstitutionFixture `yaml:"institutions"`
	Stations     []StationFixture     `yaml:"stations"`
	Thresholds   []ThresholdFixture   `yaml:"thresholds"`
}

type AccountFixture struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`

	// Profile is "admin", "authorized" or empty for a citizen.
	Profile     string `yaml:"profile"`
	AccessLevel int    `yaml:"access_level"`
}

type InstitutionFixture struct {
	Name     string  `yaml:"name"`
	Address  *string `yaml:"address"`
	Verified bool    `yaml:"verified"`
	Admin    string  `yaml:"admin"`
}

type StationFixture struct {
	Name        string          `yaml:"name"`
	Description *string         `yaml:"description"`
	Address     *string         `yaml:"address"`
	Institution string          `yaml:"institution"`
	Admin       string          `yaml:"admin"`
	Location    []float64       `yaml:"location"`
	Status      string          `yaml:"status"`
	Devices     []DeviceFixture `yaml:"devices"`
	ConsultedBy []string        `yaml:"consulted_by"`
}

type DeviceFixture struct {
	Serial      string  `yaml:"serial"`
	Type        string  `yaml:"type"`
	Description *string `yaml:"description"`
}

type ThresholdFixture struct {
	Pollutant       string  `yaml:"pollutant"`
	Station         string  `yaml:"station"`
	Level           float64 `yaml:"level"`
	DurationMinutes int     `yaml:"duration_minutes"`
	Inactive        bool    `yaml:"inactive"`
}

// Parse decodes a fixture, rejecting unknown fields, and validates its
// references.
func Parse(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks field values and that every reference resolves within
// the fixture.
func (f *Fixture) Validate() error {
	accounts := make(map[string]string, len(f.Accounts))
	for i, a := range f.Accounts {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		if email == "" || a.Name == "" {
			return fmt.Errorf("accounts[%d]: name and email are required", i)
		}
		if _, dup := accounts[email]; dup {
			return fmt.Errorf("accounts[%d]: duplicate email %s", i, email)
		}
		switch a.Profile {
		case "", "admin", "authorized":
		default:
			return fmt.Errorf("accounts[%d]: unknown profile %q", i, a.Profile)
		}
		accounts[email] = a.Profile
	}

	isAdmin := func(email string) bool {
		return accounts[strings.ToLower(email)] == "admin"
	}

	institutions := make(map[string]bool, len(f.Institutions))
	for i, inst := range f.Institutions {
		if inst.Name == "" {
			return fmt.Errorf("institutions[%d]: name is required", i)
		}
		if !isAdmin(inst.Admin) {
			return fmt.Errorf("institution %q: admin %q is not an admin account", inst.Name, inst.Admin)
		}
		institutions[inst.Name] = true
	}

	stations := make(map[string]bool, len(f.Stations))
	for i, s := range f.Stations {
		if s.Name == "" {
			return fmt.Errorf("stations[%d]: name is required", i)
		}
		if stations[s.Name] {
			return fmt.Errorf("stations[%d]: duplicate name %q", i, s.Name)
		}
		if !institutions[s.Institution] {
			return fmt.Errorf("station %q: unknown institution %q", s.Name, s.Institution)
		}
		if s.Admin != "" && !isAdmin(s.Admin) {
			return fmt.Errorf("station %q: admin %q is not an admin account", s.Name, s.Admin)
		}
		if len(s.Location) != 2 {
			return fmt.Errorf("station %q: location must be [lon, lat]", s.Name)
		}
		if err := (database.Point{Lon: s.Location[0], Lat: s.Location[1]}).Validate(); err != nil {
			return fmt.Errorf("station %q: %w", s.Name, err)
		}
		if s.Status != "" && !database.ValidStationStatus(s.Status) {
			return fmt.Errorf("station %q: unknown status %q", s.Name, s.Status)
		}
		for _, d := range s.Devices {
			if d.Serial == "" {
				return fmt.Errorf("station %q: device serial is required", s.Name)
			}
			if !database.ValidDeviceType(strings.ToUpper(d.Type)) {
				return fmt.Errorf("device %q: unknown type %q", d.Serial, d.Type)
			}
		}
		for _, email := range s.ConsultedBy {
			if accounts[strings.ToLower(email)] != "authorized" {
				return fmt.Errorf("station %q: %q is not an authorized account", s.Name, email)
			}
		}
		stations[s.Name] = true
	}

	for i, t := range f.Thresholds {
		if !database.ValidPollutant(t.Pollutant) {
			return fmt.Errorf("thresholds[%d]: unknown pollutant %q", i, t.Pollutant)
		}
		if t.Level < 0 || t.DurationMinutes < 0 {
			return fmt.Errorf("thresholds[%d]: level and duration must be >= 0", i)
		}
		if t.Station != "" && !stations[t.Station] {
			return fmt.Errorf("thresholds[%d]: unknown station %q", i, t.Station)
		}
	}
	return nil
}
