package api

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/auth"
	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/protocol"
	"github.com/smukkama/vrisa/pkg/config"
)

const (
	testSecret = "test-secret"
	testIssuer = "vrisa-test"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pair struct{ a, b int64 }

// fakeStore implements the parts of Store the tests exercise. Calls to
// anything else panic on the nil embedded interface.
type fakeStore struct {
	Store

	mu           sync.Mutex
	now          time.Time
	accounts     map[int64]*database.Account
	profiles     map[int64]*database.ProfileSet
	institutions map[int64]*database.Institution
	stations     map[int64]*database.Station
	alerts       map[int64]*database.Alert
	authProfiles map[int64]database.Recipient
	consults     map[pair]time.Time
	receipts     map[pair]time.Time
	pingErr      error

	alertFilters     []database.AlertFilter
	pollutantFilters []database.AlertPollutantFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		now:          time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		accounts:     map[int64]*database.Account{},
		profiles:     map[int64]*database.ProfileSet{},
		institutions: map[int64]*database.Institution{},
		stations:     map[int64]*database.Station{},
		alerts:       map[int64]*database.Alert{},
		authProfiles: map[int64]database.Recipient{},
		consults:     map[pair]time.Time{},
		receipts:     map[pair]time.Time{},
	}
}

func (f *fakeStore) addAdmin(accountID, profileID int64) {
	f.profiles[accountID] = &database.ProfileSet{AccountID: accountID, AdminProfileID: &profileID, AccessLevel: 1}
}

func (f *fakeStore) addAuthorized(accountID, profileID int64) {
	f.profiles[accountID] = &database.ProfileSet{AccountID: accountID, AuthorizedProfileID: &profileID}
	f.authProfiles[profileID] = database.Recipient{AuthorizedProfileID: profileID, Name: "user", Email: "user@example.com"}
}

func (f *fakeStore) addCitizen(accountID int64) {
	f.profiles[accountID] = &database.ProfileSet{AccountID: accountID}
}

func (f *fakeStore) addStation(id, institutionID int64) {
	f.stations[id] = &database.Station{
		ID:            id,
		Name:          "station",
		InstitutionID: institutionID,
		Location:      database.Point{Lon: -76.53, Lat: 3.42},
		Status:        database.StationStatusActive,
	}
}

func (f *fakeStore) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fakeStore) visible(scope access.Scope, stationID int64) bool {
	_, consulted := f.consults[pair{scope.AuthorizedProfileID, stationID}]
	return scope.Admits(consulted)
}

func (f *fakeStore) PingContext(context.Context) error { return f.pingErr }

func (f *fakeStore) PostGISVersion(context.Context) (string, error) { return "3.4.2", nil }

func (f *fakeStore) CreateAccount(_ context.Context, a *database.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.accounts {
		if existing.Email == a.Email {
			return apperr.Conflictf("account with email %q already exists", a.Email)
		}
	}
	a.ID = int64(len(f.accounts) + 50)
	a.CreatedAt = f.tick()
	a.UpdatedAt = a.CreatedAt
	f.accounts[a.ID] = a
	f.profiles[a.ID] = &database.ProfileSet{AccountID: a.ID}
	return nil
}

func (f *fakeStore) GetAccount(_ context.Context, id int64) (*database.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, apperr.NotFoundf("account %d not found", id)
	}
	return a, nil
}

func (f *fakeStore) GetAccountByEmail(_ context.Context, email string) (*database.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, apperr.NotFoundf("account not found")
}

func (f *fakeStore) SetPasswordHash(_ context.Context, id int64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return apperr.NotFoundf("account %d not found", id)
	}
	a.PasswordHash = hash
	return nil
}

func (f *fakeStore) Profiles(_ context.Context, accountID int64) (*database.ProfileSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.profiles[accountID]
	if !ok {
		return nil, apperr.NotFoundf("account %d not found", accountID)
	}
	return set, nil
}

func (f *fakeStore) GetInstitution(_ context.Context, id int64) (*database.Institution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.institutions[id]
	if !ok {
		return nil, apperr.NotFoundf("institution %d not found", id)
	}
	copied := *inst
	return &copied, nil
}

func (f *fakeStore) CreateStation(_ context.Context, s *database.Station) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = int64(len(f.stations) + 100)
	s.CreatedAt = f.tick()
	f.stations[s.ID] = s
	return nil
}

func (f *fakeStore) GetStation(_ context.Context, scope access.Scope, id int64) (*database.Station, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stations[id]
	if !ok || !f.visible(scope, id) {
		return nil, apperr.NotFoundf("station %d not found", id)
	}
	copied := *st
	return &copied, nil
}

func (f *fakeStore) ListStations(_ context.Context, scope access.Scope, _ database.StationFilter, page database.Page) ([]*database.Station, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id := range f.stations {
		if f.visible(scope, id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*database.Station
	for i, id := range ids {
		if i >= page.Offset && len(out) < page.Limit {
			out = append(out, f.stations[id])
		}
	}
	return out, len(ids), nil
}

func (f *fakeStore) UpdateStation(_ context.Context, s *database.Station) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stations[s.ID] = s
	return nil
}

func (f *fakeStore) GetStationOwnership(_ context.Context, id int64) (*database.StationOwnership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stations[id]
	if !ok {
		return nil, apperr.NotFoundf("station %d not found", id)
	}
	inst := f.institutions[st.InstitutionID]
	return &database.StationOwnership{StationAdminID: st.AdminID, InstitutionAdminID: inst.AdminID}, nil
}

func (f *fakeStore) NearbyStations(_ context.Context, scope access.Scope, _ database.Point, _ float64) ([]*database.NearbyStation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*database.NearbyStation
	for id, st := range f.stations {
		if f.visible(scope, id) {
			out = append(out, &database.NearbyStation{Station: *st})
		}
	}
	return out, nil
}

func (f *fakeStore) InsertConsult(_ context.Context, profileID, stationID int64) (*database.StationConsult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.authProfiles[profileID]; !ok {
		return nil, false, apperr.NotFoundf("authorized profile %d not found", profileID)
	}
	if _, ok := f.stations[stationID]; !ok {
		return nil, false, apperr.NotFoundf("station %d not found", stationID)
	}
	key := pair{profileID, stationID}
	if at, ok := f.consults[key]; ok {
		return &database.StationConsult{AuthorizedProfileID: profileID, StationID: stationID, GrantedAt: at}, false, nil
	}
	at := f.tick()
	f.consults[key] = at
	return &database.StationConsult{AuthorizedProfileID: profileID, StationID: stationID, GrantedAt: at}, true, nil
}

func (f *fakeStore) DeleteConsult(_ context.Context, profileID, stationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pair{profileID, stationID}
	if _, ok := f.consults[key]; !ok {
		return apperr.NotFoundf("station consult not found")
	}
	delete(f.consults, key)
	return nil
}

func (f *fakeStore) ConsultExists(_ context.Context, profileID, stationID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.consults[pair{profileID, stationID}]
	return ok, nil
}

func (f *fakeStore) AlertExists(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.alerts[id]
	return ok, nil
}

func (f *fakeStore) GetAlert(_ context.Context, scope access.Scope, id int64) (*database.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[id]
	if !ok || !f.visible(scope, a.StationID) {
		return nil, apperr.NotFoundf("alert %d not found", id)
	}
	copied := *a
	return &copied, nil
}

func (f *fakeStore) ListAlerts(_ context.Context, scope access.Scope, filter database.AlertFilter, _ database.Page) ([]*database.Alert, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertFilters = append(f.alertFilters, filter)

	var out []*database.Alert
	for _, a := range f.alerts {
		if f.visible(scope, a.StationID) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (f *fakeStore) ListAlertPollutants(_ context.Context, _ access.Scope, filter database.AlertPollutantFilter, _ database.Page) ([]*database.AlertPollutant, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollutantFilters = append(f.pollutantFilters, filter)
	return nil, 0, nil
}

func (f *fakeStore) ExistingAuthorizedProfiles(_ context.Context, ids []int64) (map[int64]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	known := map[int64]bool{}
	for _, id := range ids {
		if _, ok := f.authProfiles[id]; ok {
			known[id] = true
		}
	}
	return known, nil
}

func (f *fakeStore) InsertReceipt(_ context.Context, profileID, alertID int64) (*database.AlertReceipt, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pair{profileID, alertID}
	if at, ok := f.receipts[key]; ok {
		return &database.AlertReceipt{AuthorizedProfileID: profileID, AlertID: alertID, ReceivedAt: at}, false, nil
	}
	at := f.tick()
	f.receipts[key] = at
	return &database.AlertReceipt{AuthorizedProfileID: profileID, AlertID: alertID, ReceivedAt: at}, true, nil
}

func (f *fakeStore) Recipients(_ context.Context, ids []int64) ([]database.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Recipient
	for _, id := range ids {
		if r, ok := f.authProfiles[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeRevoker struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (f *fakeRevoker) Revoke(_ context.Context, tokenID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[tokenID] = true
	return nil
}

func (f *fakeRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[tokenID], nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []*protocol.AlertEvent
	err    error
}

func (r *recordingEvents) PublishAlertEvent(_ context.Context, event *protocol.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func newTestServer(store *fakeStore, opts Options) *Server {
	httpCfg := config.HTTPConfig{QueryTimeout: time.Second}
	authCfg := config.AuthConfig{JWTSecret: testSecret, JWTIssuer: testIssuer, AccessTTL: time.Hour}
	return NewServer(httpCfg, authCfg, store, opts, discardLogger())
}

func tokenFor(accountID int64) string {
	token, err := auth.NewAccessToken(testSecret, testIssuer, time.Hour, auth.Claims{AccountID: accountID})
	if err != nil {
		panic(err)
	}
	return token
}

func parseTestToken(token string) (*auth.Claims, error) {
	return auth.ParseToken(testSecret, testIssuer, token)
}
