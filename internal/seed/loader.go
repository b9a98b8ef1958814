package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/auth"
	"github.com/smukkama/vrisa/internal/database"
)

// Store is the persistence the loader writes through. *database.DB
// satisfies it.
type Store interface {
	CreateAccount(ctx context.Context, a *database.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*database.Account, error)
	Profiles(ctx context.Context, accountID int64) (*database.ProfileSet, error)
	CreateAdminProfile(ctx context.Context, p *database.AdminProfile) error
	CreateAuthorizedProfile(ctx context.Context, p *database.AuthorizedProfile) error
	CreateInstitution(ctx context.Context, i *database.Institution) error
	FindInstitutionByName(ctx context.Context, name string) (*database.Institution, error)
	CreateStation(ctx context.Context, s *database.Station) error
	FindStationByName(ctx context.Context, institutionID int64, name string) (*database.Station, error)
	CreateDevice(ctx context.Context, d *database.Device) error
	GetDeviceBySerial(ctx context.Context, serial string) (*database.Device, error)
	InsertConsult(ctx context.Context, profileID, stationID int64) (*database.StationConsult, bool, error)
	UpsertThreshold(ctx context.Context, t *database.PollutantThreshold) error
}

// Summary counts what a load created.
type Summary struct {
	Accounts     int
	Institutions int
	Stations     int
	Devices      int
	Consults     int
	Thresholds   int
}

type profileRefs struct {
	admin      *int64
	authorized *int64
}

type Loader struct {
	store  Store
	logger *slog.Logger
}

func NewLoader(store Store, logger *slog.Logger) *Loader {
	return &Loader{store: store, logger: logger}
}

// Load writes the fixture. Entries that already exist are reused: accounts
// by email, institutions by name, stations by name within their
// institution and devices by serial. Thresholds are upserted, so a
// fixture can be loaded again onto the same database.
func (l *Loader) Load(ctx context.Context, f *Fixture) (*Summary, error) {
	sum := &Summary{}

	profiles := make(map[string]profileRefs, len(f.Accounts))
	for _, a := range f.Accounts {
		refs, created, err := l.account(ctx, a)
		if err != nil {
			return sum, err
		}
		if created {
			sum.Accounts++
		}
		profiles[strings.ToLower(a.Email)] = refs
	}
	adminOf := func(email string) *int64 {
		return profiles[strings.ToLower(email)].admin
	}

	institutions := make(map[string]int64, len(f.Institutions))
	for _, fi := range f.Institutions {
		adminID := adminOf(fi.Admin)
		if adminID == nil {
			return sum, fmt.Errorf("institution %q: %s has no admin profile", fi.Name, fi.Admin)
		}
		existing, err := l.store.FindInstitutionByName(ctx, fi.Name)
		if err == nil {
			institutions[fi.Name] = existing.ID
			continue
		}
		if !apperr.Is(err, apperr.NotFound) {
			return sum, err
		}

		inst := &database.Institution{
			Name:     fi.Name,
			Address:  fi.Address,
			Verified: fi.Verified,
			AdminID:  *adminID,
		}
		if err := l.store.CreateInstitution(ctx, inst); err != nil {
			return sum, err
		}
		institutions[fi.Name] = inst.ID
		sum.Institutions++
	}

	stations := make(map[string]int64, len(f.Stations))
	for _, fs := range f.Stations {
		s, created, err := l.station(ctx, fs, institutions[fs.Institution], adminOf)
		if err != nil {
			return sum, err
		}
		stations[fs.Name] = s.ID
		if created {
			sum.Stations++
		}

		for _, fd := range fs.Devices {
			created, err := l.device(ctx, fd, s.ID)
			if err != nil {
				return sum, err
			}
			if created {
				sum.Devices++
			}
		}

		for _, email := range fs.ConsultedBy {
			profileID := profiles[strings.ToLower(email)].authorized
			if profileID == nil {
				return sum, fmt.Errorf("station %q: %s has no authorized profile", fs.Name, email)
			}
			_, created, err := l.store.InsertConsult(ctx, *profileID, s.ID)
			if err != nil {
				return sum, err
			}
			if created {
				sum.Consults++
			}
		}
	}

	for _, ft := range f.Thresholds {
		t := &database.PollutantThreshold{
			Pollutant:       ft.Pollutant,
			Level:           ft.Level,
			DurationMinutes: ft.DurationMinutes,
			Active:          !ft.Inactive,
		}
		if ft.Station != "" {
			id := stations[ft.Station]
			t.StationID = &id
		}
		if err := l.store.UpsertThreshold(ctx, t); err != nil {
			return sum, err
		}
		sum.Thresholds++
	}

	l.logger.Info("fixture loaded",
		"accounts", sum.Accounts,
		"institutions", sum.Institutions,
		"stations", sum.Stations,
		"devices", sum.Devices,
		"consults", sum.Consults,
		"thresholds", sum.Thresholds,
	)
	return sum, nil
}

// station returns the named station of the institution, creating it when
// absent.
func (l *Loader) station(ctx context.Context, fs StationFixture, institutionID int64, adminOf func(string) *int64) (*database.Station, bool, error) {
	existing, err := l.store.FindStationByName(ctx, institutionID, fs.Name)
	if err == nil {
		return existing, false, nil
	}
	if !apperr.Is(err, apperr.NotFound) {
		return nil, false, err
	}

	s := &database.Station{
		Name:          fs.Name,
		Description:   fs.Description,
		Address:       fs.Address,
		InstitutionID: institutionID,
		Location:      database.Point{Lon: fs.Location[0], Lat: fs.Location[1]},
		Status:        fs.Status,
	}
	if fs.Admin != "" {
		s.AdminID = adminOf(fs.Admin)
	}
	if err := l.store.CreateStation(ctx, s); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// device creates the device unless its serial is already registered.
func (l *Loader) device(ctx context.Context, fd DeviceFixture, stationID int64) (bool, error) {
	existing, err := l.store.GetDeviceBySerial(ctx, fd.Serial)
	if err == nil {
		if existing.StationID != stationID {
			l.logger.Warn("device registered at another station, leaving it",
				"serial", fd.Serial, "station_id", existing.StationID, "fixture_station_id", stationID)
		}
		return false, nil
	}
	if !apperr.Is(err, apperr.NotFound) {
		return false, err
	}

	d := &database.Device{
		SerialNumber: fd.Serial,
		Description:  fd.Description,
		Type:         strings.ToUpper(fd.Type),
		StationID:    stationID,
	}
	if err := l.store.CreateDevice(ctx, d); err != nil {
		return false, err
	}
	return true, nil
}

// account creates the account and its profile, or returns the profiles
// of an existing account with the same email.
func (l *Loader) account(ctx context.Context, fa AccountFixture) (profileRefs, bool, error) {
	email := strings.ToLower(strings.TrimSpace(fa.Email))

	existing, err := l.store.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		set, err := l.store.Profiles(ctx, existing.ID)
		if err != nil {
			return profileRefs{}, false, err
		}
		l.logger.Debug("account exists, reusing", "email", email, "account_id", existing.ID)
		return profileRefs{admin: set.AdminProfileID, authorized: set.AuthorizedProfileID}, false, nil
	case !apperr.Is(err, apperr.NotFound):
		return profileRefs{}, false, err
	}

	hash, err := auth.HashPassword(fa.Password)
	if err != nil {
		return profileRefs{}, false, fmt.Errorf("account %s: %w", email, err)
	}
	a := &database.Account{DisplayName: fa.Name, Email: email, PasswordHash: hash, RoleLabel: fa.Role}
	if err := l.store.CreateAccount(ctx, a); err != nil {
		return profileRefs{}, false, err
	}

	var refs profileRefs
	switch fa.Profile {
	case "admin":
		p := &database.AdminProfile{AccountID: a.ID, AccessLevel: fa.AccessLevel}
		if err := l.store.CreateAdminProfile(ctx, p); err != nil {
			return refs, true, err
		}
		refs.admin = &p.ID
	case "authorized":
		p := &database.AuthorizedProfile{AccountID: a.ID, ReadAccess: true}
		if err := l.store.CreateAuthorizedProfile(ctx, p); err != nil {
			return refs, true, err
		}
		refs.authorized = &p.ID
	}
	return refs, true, nil
}
