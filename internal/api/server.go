// Package api is the HTTP surface of the platform. Every handler resolves
// the request principal, asks the access policy, narrows reads through the
// visibility scope and delegates to the store, registry and proximity
// components.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/protocol"
	"github.com/smukkama/vrisa/internal/proximity"
	"github.com/smukkama/vrisa/internal/registry"
	"github.com/smukkama/vrisa/pkg/config"
)

// Store is the persistence surface the handlers use. *database.DB
// satisfies it.
type Store interface {
	registry.ConsultStore
	registry.ReceiptStore
	proximity.NearbyStore

	PingContext(ctx context.Context) error
	PostGISVersion(ctx context.Context) (string, error)

	CreateAccount(ctx context.Context, a *database.Account) error
	GetAccount(ctx context.Context, id int64) (*database.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*database.Account, error)
	ListAccounts(ctx context.Context, page database.Page) ([]*database.Account, int, error)
	UpdateAccount(ctx context.Context, a *database.Account) error
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	DeleteAccount(ctx context.Context, id int64) error
	Profiles(ctx context.Context, accountID int64) (*database.ProfileSet, error)

	CreateAdminProfile(ctx context.Context, p *database.AdminProfile) error
	GetAdminProfile(ctx context.Context, id int64) (*database.AdminProfile, error)
	ListAdminProfiles(ctx context.Context, page database.Page) ([]*database.AdminProfile, int, error)
	UpdateAdminProfile(ctx context.Context, p *database.AdminProfile) error
	DeleteAdminProfile(ctx context.Context, id int64) error

	CreateAuthorizedProfile(ctx context.Context, p *database.AuthorizedProfile) error
	GetAuthorizedProfile(ctx context.Context, id int64) (*database.AuthorizedProfile, error)
	ListAuthorizedProfiles(ctx context.Context, page database.Page) ([]*database.AuthorizedProfile, int, error)
	UpdateAuthorizedProfile(ctx context.Context, p *database.AuthorizedProfile) error
	DeleteAuthorizedProfile(ctx context.Context, id int64) error

	CreateInstitution(ctx context.Context, i *database.Institution) error
	GetInstitution(ctx context.Context, id int64) (*database.Institution, error)
	ListInstitutions(ctx context.Context, f database.InstitutionFilter, page database.Page) ([]*database.Institution, int, error)
	UpdateInstitution(ctx context.Context, i *database.Institution) error
	DeleteInstitution(ctx context.Context, id int64) error

	CreateStation(ctx context.Context, s *database.Station) error
	GetStation(ctx context.Context, scope access.Scope, id int64) (*database.Station, error)
	ListStations(ctx context.Context, scope access.Scope, f database.StationFilter, page database.Page) ([]*database.Station, int, error)
	UpdateStation(ctx context.Context, s *database.Station) error
	DeleteStation(ctx context.Context, id int64) error
	GetStationOwnership(ctx context.Context, id int64) (*database.StationOwnership, error)

	CreateDevice(ctx context.Context, d *database.Device) error
	GetDevice(ctx context.Context, scope access.Scope, id int64) (*database.Device, error)
	ListDevices(ctx context.Context, scope access.Scope, f database.DeviceFilter, page database.Page) ([]*database.Device, int, error)
	UpdateDevice(ctx context.Context, d *database.Device) error
	DeleteDevice(ctx context.Context, id int64) error

	CreateAlert(ctx context.Context, a *database.Alert, pollutants []*database.AlertPollutant) error
	AddAlertPollutants(ctx context.Context, alertID int64, pollutants []*database.AlertPollutant) error
	GetAlert(ctx context.Context, scope access.Scope, id int64) (*database.Alert, error)
	ListAlerts(ctx context.Context, scope access.Scope, f database.AlertFilter, page database.Page) ([]*database.Alert, int, error)
	UpdateAlert(ctx context.Context, a *database.Alert) error
	MarkAlertAttended(ctx context.Context, id int64) (*database.Alert, error)
	DeleteAlert(ctx context.Context, id int64) error

	CreateAlertPollutant(ctx context.Context, p *database.AlertPollutant) error
	GetAlertPollutant(ctx context.Context, scope access.Scope, id int64) (*database.AlertPollutant, error)
	ListAlertPollutants(ctx context.Context, scope access.Scope, f database.AlertPollutantFilter, page database.Page) ([]*database.AlertPollutant, int, error)
	UpdateAlertPollutant(ctx context.Context, p *database.AlertPollutant) error
	DeleteAlertPollutant(ctx context.Context, id int64) error

	ListConsults(ctx context.Context, f database.ConsultFilter, page database.Page) ([]*database.StationConsult, int, error)
	ListReceipts(ctx context.Context, f database.ConsultFilter, page database.Page) ([]*database.AlertReceipt, int, error)
	DeleteReceipt(ctx context.Context, profileID, alertID int64) error
	Recipients(ctx context.Context, ids []int64) ([]database.Recipient, error)
}

// TokenRevoker backs logout. *auth.Revocations satisfies it.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisPinger is used by the health check. *redis.Client satisfies it.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// AlertPublisher hands alert events to the notification service.
// *queue.AlertPublisher satisfies it.
type AlertPublisher interface {
	PublishAlertEvent(ctx context.Context, event *protocol.AlertEvent) error
}

// Options carries the optional collaborators. Nil members disable the
// feature that needs them: logout without Revocations only acknowledges,
// notify without Events records receipts without e-mailing.
type Options struct {
	Revocations TokenRevoker
	Redis       RedisPinger
	Events      AlertPublisher
}

type Server struct {
	http     config.HTTPConfig
	auth     config.AuthConfig
	store    Store
	consults *registry.Consults
	recorder *registry.Recorder
	finder   *proximity.Finder
	opts     Options
	logger   *slog.Logger
}

func NewServer(httpCfg config.HTTPConfig, authCfg config.AuthConfig, store Store, opts Options, logger *slog.Logger) *Server {
	return &Server{
		http:     httpCfg,
		auth:     authCfg,
		store:    store,
		consults: registry.NewConsults(store, logger),
		recorder: registry.NewRecorder(store, logger),
		finder:   proximity.NewFinder(store, httpCfg.QueryTimeout, logger),
		opts:     opts,
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID, s.accessLog)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.resolvePrincipal)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.With(s.requireAuthenticated).Post("/logout", s.handleLogout)
			r.With(s.requireAuthenticated).Post("/change-password", s.handleChangePassword)
			r.With(s.requireAuthenticated).Get("/verify", s.handleVerify)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.handleListUsers)
			r.Post("/", s.handleCreateUser)
			r.With(s.requireAuthenticated).Get("/me", s.handleGetMe)
			r.Get("/{id}", s.handleGetUser)
			r.Put("/{id}", s.handleUpdateUser)
			r.Patch("/{id}", s.handleUpdateUser)
			r.Delete("/{id}", s.handleDeleteUser)
		})

		r.Route("/admins", func(r chi.Router) {
			r.Get("/", s.handleListAdmins)
			r.Post("/", s.handleCreateAdmin)
			r.Get("/{id}", s.handleGetAdmin)
			r.Put("/{id}", s.handleUpdateAdmin)
			r.Patch("/{id}", s.handleUpdateAdmin)
			r.Delete("/{id}", s.handleDeleteAdmin)
		})

		r.Route("/auth-users", func(r chi.Router) {
			r.Get("/", s.handleListAuthUsers)
			r.Post("/", s.handleCreateAuthUser)
			r.Get("/{id}", s.handleGetAuthUser)
			r.Put("/{id}", s.handleUpdateAuthUser)
			r.Patch("/{id}", s.handleUpdateAuthUser)
			r.Delete("/{id}", s.handleDeleteAuthUser)
			r.Post("/{id}/grant-station", s.handleGrantStation)
			r.Delete("/{id}/revoke-station/{stationID}", s.handleRevokeStation)
		})

		r.Route("/institutions", func(r chi.Router) {
			r.Get("/", s.handleListInstitutions)
			r.Post("/", s.handleCreateInstitution)
			r.Get("/{id}", s.handleGetInstitution)
			r.Put("/{id}", s.handleUpdateInstitution)
			r.Patch("/{id}", s.handleUpdateInstitution)
			r.Delete("/{id}", s.handleDeleteInstitution)
		})

		r.Route("/stations", func(r chi.Router) {
			r.Get("/", s.handleListStations)
			r.Post("/", s.handleCreateStation)
			r.Get("/nearby", s.handleNearbyStations)
			r.Get("/{id}", s.handleGetStation)
			r.Put("/{id}", s.handleUpdateStation)
			r.Patch("/{id}", s.handleUpdateStation)
			r.Delete("/{id}", s.handleDeleteStation)
			r.Get("/{id}/alerts", s.handleStationAlerts)
			r.Post("/{id}/grant-access", s.handleGrantAccess)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)
			r.Get("/{id}", s.handleGetDevice)
			r.Put("/{id}", s.handleUpdateDevice)
			r.Patch("/{id}", s.handleUpdateDevice)
			r.Delete("/{id}", s.handleDeleteDevice)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Post("/", s.handleCreateAlert)
			r.Get("/{id}", s.handleGetAlert)
			r.Put("/{id}", s.handleUpdateAlert)
			r.Patch("/{id}", s.handleUpdateAlert)
			r.Delete("/{id}", s.handleDeleteAlert)
			r.Post("/{id}/pollutants", s.handleAddPollutants)
			r.Post("/{id}/mark-attended", s.handleMarkAttended)
			r.Post("/{id}/notify", s.handleNotify)
		})

		r.Route("/alert-pollutants", func(r chi.Router) {
			r.Get("/", s.handleListAlertPollutants)
			r.Post("/", s.handleCreateAlertPollutant)
			r.Get("/{id}", s.handleGetAlertPollutant)
			r.Put("/{id}", s.handleUpdateAlertPollutant)
			r.Patch("/{id}", s.handleUpdateAlertPollutant)
			r.Delete("/{id}", s.handleDeleteAlertPollutant)
		})

		r.Route("/station-consults", func(r chi.Router) {
			r.Get("/", s.handleListConsults)
			r.Post("/", s.handleCreateConsult)
			r.Delete("/{authUserID}/{stationID}", s.handleDeleteConsult)
		})

		r.Route("/alert-receives", func(r chi.Router) {
			r.Get("/", s.handleListReceipts)
			r.Post("/", s.handleCreateReceipt)
			r.Delete("/{authUserID}/{alertID}", s.handleDeleteReceipt)
		})
	})

	return r
}
