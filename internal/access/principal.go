package access

// Kind identifies which variant of Principal is acting.
type Kind int

const (
	// KindAnonymous is a request without a valid bearer token.
	KindAnonymous Kind = iota

	// KindCitizen is an authenticated account holding no profile.
	KindCitizen

	// KindAdmin is an account with an AdminProfile.
	KindAdmin

	// KindAuthorized is an account with an AuthorizedProfile.
	KindAuthorized
)

func (k Kind) String() string {
	switch k {
	case KindCitizen:
		return "citizen"
	case KindAdmin:
		return "admin"
	case KindAuthorized:
		return "authorized"
	default:
		return "anonymous"
	}
}

// Principal is the acting identity of a request. It is resolved once per
// request from the bearer token and the current store state, and is never
// cached across requests.
type Principal struct {
	Kind      Kind
	AccountID int64

	// AdminProfileID is set only for KindAdmin.
	AdminProfileID int64
	AccessLevel    int

	// AuthorizedProfileID is set only for KindAuthorized.
	AuthorizedProfileID int64
}

func Anonymous() Principal {
	return Principal{Kind: KindAnonymous}
}

func Citizen(accountID int64) Principal {
	return Principal{Kind: KindCitizen, AccountID: accountID}
}

func Admin(accountID, profileID int64, accessLevel int) Principal {
	return Principal{Kind: KindAdmin, AccountID: accountID, AdminProfileID: profileID, AccessLevel: accessLevel}
}

func Authorized(accountID, profileID int64) Principal {
	return Principal{Kind: KindAuthorized, AccountID: accountID, AuthorizedProfileID: profileID}
}

// Authenticated reports whether the principal presented a valid token.
func (p Principal) Authenticated() bool {
	return p.Kind != KindAnonymous && p.AccountID != 0
}

func (p Principal) IsAdmin() bool {
	return p.Kind == KindAdmin
}

func (p Principal) IsAuthorizedUser() bool {
	return p.Kind == KindAuthorized
}
