package database

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
)

// openTestDB connects to VRISA_TEST_DATABASE_URL (a PostGIS-enabled
// database) and applies migrations. Tests are skipped when it is unset.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("VRISA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VRISA_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	raw, err := openDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { raw.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := raw.RunMigrations(ctx, "../../migrations", logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return raw
}

type fixture struct {
	admin       *AdminProfile
	authorized  *AuthorizedProfile
	institution *Institution
}

func newFixture(t *testing.T, db *DB) *fixture {
	t.Helper()
	ctx := context.Background()

	adminAccount := &Account{DisplayName: "Admin", Email: uuid.NewString() + "@vrisa.test", PasswordHash: "x"}
	if err := db.CreateAccount(ctx, adminAccount); err != nil {
		t.Fatalf("create admin account: %v", err)
	}
	admin := &AdminProfile{AccountID: adminAccount.ID, AccessLevel: 1}
	if err := db.CreateAdminProfile(ctx, admin); err != nil {
		t.Fatalf("create admin profile: %v", err)
	}

	userAccount := &Account{DisplayName: "Reader", Email: uuid.NewString() + "@vrisa.test", PasswordHash: "x"}
	if err := db.CreateAccount(ctx, userAccount); err != nil {
		t.Fatalf("create reader account: %v", err)
	}
	authorized := &AuthorizedProfile{AccountID: userAccount.ID, ReadAccess: true}
	if err := db.CreateAuthorizedProfile(ctx, authorized); err != nil {
		t.Fatalf("create authorized profile: %v", err)
	}

	institution := &Institution{Name: "Univalle", AdminID: admin.ID}
	if err := db.CreateInstitution(ctx, institution); err != nil {
		t.Fatalf("create institution: %v", err)
	}

	return &fixture{admin: admin, authorized: authorized, institution: institution}
}

func (f *fixture) station(t *testing.T, db *DB, name string, lon, lat float64) *Station {
	t.Helper()
	adminID := f.admin.ID
	s := &Station{Name: name, InstitutionID: f.institution.ID, AdminID: &adminID, Location: Point{Lon: lon, Lat: lat}}
	if err := db.CreateStation(context.Background(), s); err != nil {
		t.Fatalf("create station: %v", err)
	}
	return s
}

func TestIntegration_GrantIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()
	s := f.station(t, db, "Centro", -76.5320, 3.4516)

	first, created, err := db.InsertConsult(ctx, f.authorized.ID, s.ID)
	if err != nil || !created {
		t.Fatalf("first grant: created=%v err=%v", created, err)
	}
	second, created, err := db.InsertConsult(ctx, f.authorized.ID, s.ID)
	if err != nil || created {
		t.Fatalf("second grant: created=%v err=%v", created, err)
	}
	if !second.GrantedAt.Equal(first.GrantedAt) {
		t.Errorf("Expected granted_at %v, got %v", first.GrantedAt, second.GrantedAt)
	}

	if err := db.DeleteConsult(ctx, f.authorized.ID, s.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := db.DeleteConsult(ctx, f.authorized.ID, s.ID); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("Expected NotFound on second revoke, got %v", err)
	}

	third, created, err := db.InsertConsult(ctx, f.authorized.ID, s.ID)
	if err != nil || !created {
		t.Fatalf("re-grant: created=%v err=%v", created, err)
	}
	if third.GrantedAt.Before(first.GrantedAt) {
		t.Errorf("Re-grant granted_at %v precedes original %v", third.GrantedAt, first.GrantedAt)
	}
}

func TestIntegration_GrantUnknownProfile(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	s := f.station(t, db, "Norte", -76.52, 3.48)

	_, _, err := db.InsertConsult(context.Background(), -1, s.ID)
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("Expected NotFound, got %v", err)
	}
}

func TestIntegration_ConcurrentGrants(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	s := f.station(t, db, "Sur", -76.54, 3.40)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, err := db.InsertConsult(context.Background(), f.authorized.ID, s.ID)
			if err != nil {
				t.Errorf("grant: %v", err)
				return
			}
			if c {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("Expected exactly one creator, got %d", created)
	}
}

func TestIntegration_AdminDeletionBlocked(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	err := db.DeleteAdminProfile(ctx, f.admin.ID)
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("Expected Conflict, got %v", err)
	}
	if _, err := db.GetAdminProfile(ctx, f.admin.ID); err != nil {
		t.Errorf("Admin profile should remain: %v", err)
	}
}

func TestIntegration_AdminDeletionNullsStationAdmin(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	other := newFixture(t, db)
	otherAdmin := other.admin.ID
	s := &Station{Name: "Oeste", InstitutionID: f.institution.ID, AdminID: &otherAdmin, Location: Point{Lon: -76.56, Lat: 3.44}}
	if err := db.CreateStation(ctx, s); err != nil {
		t.Fatalf("create station: %v", err)
	}

	// Move other's institution to f's admin so other's profile becomes deletable.
	other.institution.AdminID = f.admin.ID
	if err := db.UpdateInstitution(ctx, other.institution); err != nil {
		t.Fatalf("update institution: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := db.DeleteAdminProfile(ctx, other.admin.ID); err != nil {
		t.Fatalf("delete admin: %v", err)
	}

	got, err := db.GetStation(ctx, access.Scope{Kind: access.ScopeAll}, s.ID)
	if err != nil {
		t.Fatalf("get station: %v", err)
	}
	if got.AdminID != nil {
		t.Errorf("Expected null admin, got %d", *got.AdminID)
	}
	if !got.UpdatedAt.After(s.UpdatedAt) {
		t.Errorf("Expected updated_at to advance past %v, got %v", s.UpdatedAt, got.UpdatedAt)
	}
}

func TestIntegration_DualProfileRejected(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)

	err := db.CreateAdminProfile(context.Background(), &AdminProfile{AccountID: f.authorized.AccountID})
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("Expected Conflict, got %v", err)
	}
}

func TestIntegration_NearbyVisibilityAndOrder(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	center := Point{Lon: -76.5320, Lat: 3.4516}
	near := f.station(t, db, "Near", -76.5321, 3.4517)
	far := f.station(t, db, "Far", -76.5400, 3.4600)
	f.station(t, db, "Outside", -75.0, 4.0)

	if _, _, err := db.InsertConsult(ctx, f.authorized.ID, far.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	all, err := db.NearbyStations(ctx, access.Scope{Kind: access.ScopeAll}, center, 5000)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	var sawNear bool
	for i := 1; i < len(all); i++ {
		if all[i].DistanceMeters < all[i-1].DistanceMeters {
			t.Fatalf("Results not ordered by distance at %d", i)
		}
	}
	for _, s := range all {
		if s.ID == near.ID {
			sawNear = true
		}
		if s.DistanceMeters > 5000 {
			t.Errorf("Station %d outside radius: %.1f", s.ID, s.DistanceMeters)
		}
	}
	if !sawNear {
		t.Error("Expected nearest station in admin results")
	}

	scoped, err := db.NearbyStations(ctx, access.Scope{Kind: access.ScopeConsulted, AuthorizedProfileID: f.authorized.ID}, center, 5000)
	if err != nil {
		t.Fatalf("nearby scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != far.ID {
		t.Errorf("Expected only granted station %d, got %+v", far.ID, scoped)
	}

	none, err := db.NearbyStations(ctx, access.Scope{Kind: access.ScopeNone}, center, 5000)
	if err != nil || len(none) != 0 {
		t.Errorf("Expected empty result for no scope, got %d (%v)", len(none), err)
	}
}

func TestIntegration_NearbyDeadline(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	result, err := db.NearbyStations(ctx, access.Scope{Kind: access.ScopeAll}, Point{}, 5000)
	if !apperr.Is(err, apperr.Timeout) {
		t.Fatalf("Expected Timeout, got %v", err)
	}
	if result != nil {
		t.Errorf("Expected no partial results, got %d", len(result))
	}
}

func TestIntegration_DeviceVisibility(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	visible := f.station(t, db, "Visible", -76.50, 3.40)
	hidden := f.station(t, db, "Hidden", -76.51, 3.41)
	for _, s := range []*Station{visible, hidden} {
		d := &Device{SerialNumber: uuid.NewString(), Type: DeviceTypeSensor, StationID: s.ID}
		if err := db.CreateDevice(ctx, d); err != nil {
			t.Fatalf("create device: %v", err)
		}
	}
	if _, _, err := db.InsertConsult(ctx, f.authorized.ID, visible.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	scope := access.Scope{Kind: access.ScopeConsulted, AuthorizedProfileID: f.authorized.ID}
	devices, total, err := db.ListDevices(ctx, scope, DeviceFilter{}, Page{Limit: 100})
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if total != len(devices) {
		t.Errorf("Count %d disagrees with page of %d", total, len(devices))
	}
	for _, d := range devices {
		if d.StationID != visible.ID {
			t.Errorf("Device %d on invisible station %d", d.ID, d.StationID)
		}
	}
}
