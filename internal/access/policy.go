// Package access decides whether a principal may perform an action on a
// resource class, and which stations a principal can see.
package access

// Resource names an entity class guarded by the policy.
type Resource string

const (
	ResourceAccount           Resource = "account"
	ResourceAdminProfile      Resource = "admin_profile"
	ResourceAuthorizedProfile Resource = "authorized_profile"
	ResourceInstitution       Resource = "institution"
	ResourceStation           Resource = "station"
	ResourceDevice            Resource = "device"
	ResourceAlert             Resource = "alert"
	ResourceAlertPollutant    Resource = "alert_pollutant"
	ResourceStationConsult    Resource = "station_consult"
	ResourceAlertReceipt      Resource = "alert_receipt"
)

// Action is either a read, a write or a named custom operation.
type Action string

const (
	ActionList     Action = "list"
	ActionRetrieve Action = "retrieve"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"

	ActionGrantStation  Action = "grant-station"
	ActionRevokeStation Action = "revoke-station"
	ActionGrantAccess   Action = "grant-access"
	ActionAddPollutants Action = "add-pollutants"
	ActionMarkAttended  Action = "mark-attended"
	ActionNotify        Action = "notify"
)

func (a Action) IsRead() bool {
	return a == ActionList || a == ActionRetrieve
}

func (a Action) IsWrite() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// DenyReason says why a check was denied. It is for logs and metrics;
// clients always see the same forbidden response.
type DenyReason int

const (
	ReasonNone DenyReason = iota
	ReasonNotAuthenticated
	ReasonRole
	ReasonOwnership
	ReasonUnknownResource
)

func (r DenyReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNotAuthenticated:
		return "not authenticated"
	case ReasonRole:
		return "role not permitted"
	case ReasonOwnership:
		return "not the owning admin"
	case ReasonUnknownResource:
		return "unknown resource"
	default:
		return "unknown"
	}
}

type Result struct {
	Decision Decision
	Reason   DenyReason
}

func (r Result) Allowed() bool {
	return r.Decision == Allow
}

func allow() Result { return Result{Decision: Allow} }

func deny(reason DenyReason) Result { return Result{Decision: Deny, Reason: reason} }

// Target carries the object being acted on, for the checks that depend on
// it. Zero values mean "unknown"; ownership checks fail closed on them.
type Target struct {
	// AccountID is the account acted on (ResourceAccount).
	AccountID int64

	// AdminRef is the admin_ref of an Institution or Station.
	AdminRef *int64

	// InstitutionAdminRef is the admin_ref of a Station's institution.
	InstitutionAdminRef *int64
}

// Authorize evaluates the role decision table and, for Institution and
// Station writes, the object-level ownership refinement.
func Authorize(p Principal, action Action, resource Resource, target *Target) Result {
	switch resource {
	case ResourceAccount:
		return authorizeAccount(p, action, target)

	case ResourceAdminProfile, ResourceAuthorizedProfile, ResourceStationConsult, ResourceAlertReceipt:
		return requireAdmin(p)

	case ResourceInstitution:
		if action.IsRead() {
			return requireAuthenticated(p)
		}
		if r := requireAdmin(p); !r.Allowed() {
			return r
		}
		if action == ActionUpdate || action == ActionDelete {
			if target == nil || !owns(p, target.AdminRef) {
				return deny(ReasonOwnership)
			}
		}
		return allow()

	case ResourceStation:
		if action.IsRead() {
			return requireAuthenticated(p)
		}
		if r := requireAdmin(p); !r.Allowed() {
			return r
		}
		switch action {
		case ActionCreate:
			if target == nil || !owns(p, target.InstitutionAdminRef) {
				return deny(ReasonOwnership)
			}
		case ActionUpdate, ActionDelete:
			if target == nil || !(owns(p, target.AdminRef) || owns(p, target.InstitutionAdminRef)) {
				return deny(ReasonOwnership)
			}
		}
		return allow()

	case ResourceDevice, ResourceAlert, ResourceAlertPollutant:
		if action.IsRead() {
			return requireAuthenticated(p)
		}
		return requireAdmin(p)
	}

	return deny(ReasonUnknownResource)
}

func authorizeAccount(p Principal, action Action, target *Target) Result {
	switch action {
	case ActionCreate:
		if p.Kind == KindAnonymous || p.IsAdmin() {
			return allow()
		}
		return deny(ReasonRole)
	case ActionList:
		return requireAdmin(p)
	case ActionRetrieve, ActionUpdate, ActionDelete:
		if !p.Authenticated() {
			return deny(ReasonNotAuthenticated)
		}
		if target != nil && target.AccountID == p.AccountID {
			return allow()
		}
		return requireAdmin(p)
	}
	return requireAdmin(p)
}

func requireAuthenticated(p Principal) Result {
	if !p.Authenticated() {
		return deny(ReasonNotAuthenticated)
	}
	return allow()
}

func requireAdmin(p Principal) Result {
	if !p.Authenticated() {
		return deny(ReasonNotAuthenticated)
	}
	if !p.IsAdmin() {
		return deny(ReasonRole)
	}
	return allow()
}

func owns(p Principal, adminRef *int64) bool {
	return adminRef != nil && p.AdminProfileID != 0 && *adminRef == p.AdminProfileID
}
