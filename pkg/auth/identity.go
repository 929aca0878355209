package auth

import "github.com/pkg/errors"

var (
	ErrNoCredential    = errors.New("no credential presented")
	ErrInvalidToken    = errors.New("invalid token")
	ErrUnknownAccount  = errors.New("unknown account")
	ErrInactiveAccount = errors.New("inactive account")
)

type Kind int

const (
	Anonymous Kind = iota
	Authenticated
)

func (k Kind) String() string {
	switch k {
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Identity is the principal bound to a connection or request.
type Identity struct {
	Kind     Kind
	UserID   string
	Username string
}

func AnonymousIdentity() Identity { return Identity{Kind: Anonymous} }

func (i Identity) IsAnonymous() bool {
	return i.Kind != Authenticated || i.UserID == ""
}

// Source names where the credential came from.
type Source string

const (
	SourceNone   Source = ""
	SourceQuery  Source = "query"
	SourceHeader Source = "header"
	SourceCookie Source = "cookie"
)

// Result is the outcome of one authentication attempt. Err is set when a presented
// credential was rejected; Identity is Anonymous in that case.
type Result struct {
	Identity Identity
	Source   Source
	Err      error
}
