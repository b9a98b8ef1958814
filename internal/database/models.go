package database

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/smukkama/vrisa/internal/apperr"
)

// Account is a person holding credentials. Profiles hang off it.
type Account struct {
	ID           int64     `json:"id"`
	DisplayName  string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	RoleLabel    string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const DefaultRoleLabel = "citizen"

// AdminProfile grants full administrative rights to its account.
type AdminProfile struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"user"`
	AccessLevel int       `json:"access_level"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuthorizedProfile marks a read-only user whose station visibility comes
// from StationConsult grants.
type AuthorizedProfile struct {
	ID         int64     `json:"id"`
	AccountID  int64     `json:"user"`
	ReadAccess bool      `json:"read_access"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProfileSet is the profile state of one account, read when resolving a
// request principal.
type ProfileSet struct {
	AccountID           int64
	AdminProfileID      *int64
	AccessLevel         int
	AuthorizedProfileID *int64
}

type Institution struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   *string   `json:"address"`
	Verified  bool      `json:"verified"`
	AdminID   int64     `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Point is a WGS84 coordinate. It marshals as [lon, lat].
type Point struct {
	Lon float64
	Lat float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lon, p.Lat})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("location must be [lon, lat]: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("location must have exactly two elements, got %d", len(pair))
	}
	p.Lon, p.Lat = pair[0], pair[1]
	return nil
}

// Validate checks that the point is finite and within WGS84 bounds.
func (p Point) Validate() error {
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || p.Lon < -180 || p.Lon > 180 {
		return apperr.Invalidf("lon must be a finite number between -180 and 180")
	}
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return apperr.Invalidf("lat must be a finite number between -90 and 90")
	}
	return nil
}

const (
	StationStatusInactive    = "inactive"
	StationStatusActive      = "active"
	StationStatusMaintenance = "maintenance"
)

func ValidStationStatus(s string) bool {
	switch s {
	case StationStatusInactive, StationStatusActive, StationStatusMaintenance:
		return true
	}
	return false
}

type Station struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Description   *string    `json:"description"`
	Address       *string    `json:"address"`
	InstitutionID int64      `json:"institution"`
	AdminID       *int64     `json:"admin"`
	Location      Point      `json:"location"`
	InstalledAt   *time.Time `json:"installed_at"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NearbyStation is a station annotated with its geodesic distance from
// the query center.
type NearbyStation struct {
	Station
	DistanceMeters float64 `json:"distance"`
}

// StationOwnership holds the admin references consulted by object-level
// authorization.
type StationOwnership struct {
	StationAdminID     *int64
	InstitutionAdminID int64
}

const (
	DeviceTypeSensor = "SENSOR"
	DeviceTypeMeteo  = "METEO"
	DeviceTypeOther  = "OTHER"
)

func ValidDeviceType(s string) bool {
	switch s {
	case DeviceTypeSensor, DeviceTypeMeteo, DeviceTypeOther:
		return true
	}
	return false
}

type Device struct {
	ID           int64     `json:"id"`
	SerialNumber string    `json:"serial_number"`
	InstallDate  time.Time `json:"install_date"`
	Description  *string   `json:"description"`
	Type         string    `json:"type"`
	StationID    int64     `json:"station"`
	CreatedAt    time.Time `json:"created_at"`
}

type Alert struct {
	ID         int64             `json:"id"`
	AlertDate  time.Time         `json:"alert_date"`
	Attended   bool              `json:"attended"`
	StationID  int64             `json:"station"`
	CreatedAt  time.Time         `json:"created_at"`
	Pollutants []*AlertPollutant `json:"pollutants"`
}

// Pollutant codes accepted for alert readings and thresholds.
const (
	PollutantPM25 = "PM25"
	PollutantPM10 = "PM10"
	PollutantNO2  = "NO2"
	PollutantO3   = "O3"
	PollutantSO2  = "SO2"
	PollutantCO   = "CO"
)

var Pollutants = []string{PollutantPM25, PollutantPM10, PollutantNO2, PollutantO3, PollutantSO2, PollutantCO}

func ValidPollutant(s string) bool {
	for _, p := range Pollutants {
		if p == s {
			return true
		}
	}
	return false
}

type AlertPollutant struct {
	ID         int64     `json:"id"`
	AlertID    int64     `json:"alert"`
	Pollutant  string    `json:"pollutant"`
	Level      float64   `json:"level"`
	RecordedAt time.Time `json:"recorded_at"`
}

// StationConsult grants an AuthorizedProfile read visibility of a station.
type StationConsult struct {
	AuthorizedProfileID int64     `json:"auth_user"`
	StationID           int64     `json:"station"`
	GrantedAt           time.Time `json:"granted_at"`
}

// AlertReceipt records that an AuthorizedProfile was notified of an alert.
type AlertReceipt struct {
	AuthorizedProfileID int64     `json:"auth_user"`
	AlertID             int64     `json:"alert"`
	ReceivedAt          time.Time `json:"received_at"`
}

// Recipient is an authorized profile with the contact details needed to
// deliver an alert.
type Recipient struct {
	AuthorizedProfileID int64  `json:"auth_user"`
	Name                string `json:"name"`
	Email               string `json:"email"`
}

// PollutantThreshold configures when a reading opens an alert. A nil
// StationID applies to every station without its own threshold.
type PollutantThreshold struct {
	ID              int64     `json:"id"`
	Pollutant       string    `json:"pollutant"`
	StationID       *int64    `json:"station"`
	Level           float64   `json:"level"`
	DurationMinutes int       `json:"duration_minutes"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}
