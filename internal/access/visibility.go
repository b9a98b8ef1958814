package access

// ScopeKind enumerates the shapes a visible-station set can take.
type ScopeKind int

const (
	// ScopeNone is the empty set.
	ScopeNone ScopeKind = iota

	// ScopeAll is every station.
	ScopeAll

	// ScopeConsulted is the stations holding a StationConsult row for
	// AuthorizedProfileID.
	ScopeConsulted
)

// Scope describes the stations a principal can see. It is a predicate,
// rendered into SQL by the store, never a materialized id list.
type Scope struct {
	Kind                ScopeKind
	AuthorizedProfileID int64
}

// VisibleStations returns the station scope of p. Devices, alerts and
// alert pollutants are visible exactly when their station is.
func VisibleStations(p Principal) Scope {
	switch {
	case p.IsAdmin():
		return Scope{Kind: ScopeAll}
	case p.IsAuthorizedUser() && p.AuthorizedProfileID != 0:
		return Scope{Kind: ScopeConsulted, AuthorizedProfileID: p.AuthorizedProfileID}
	default:
		return Scope{Kind: ScopeNone}
	}
}

// Empty reports whether the scope can match no station at all.
func (s Scope) Empty() bool {
	return s.Kind == ScopeNone
}

// Admits reports whether a station is in scope, given whether the scope's
// profile holds a consult grant on it.
func (s Scope) Admits(hasConsult bool) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeConsulted:
		return hasConsult
	default:
		return false
	}
}
