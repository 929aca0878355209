package auth

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
)

const SectionSlug = "auth"

// Settings configures credential validation.
type Settings struct {
	JWTSecret   string `glazed:"jwt-secret"`
	AuthCookie  string `glazed:"auth-cookie"`
	UserIDClaim string `glazed:"user-id-claim"`
	JWTIssuer   string `glazed:"jwt-issuer"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Token authentication",
		schema.WithFields(
			fields.New("jwt-secret", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("HMAC secret used to validate access tokens")),
			fields.New("auth-cookie", fields.TypeString,
				fields.WithDefault(DefaultCookieName),
				fields.WithHelp("Cookie carrying the access token")),
			fields.New("user-id-claim", fields.TypeString,
				fields.WithDefault("user_id"),
				fields.WithHelp("JWT claim holding the account id")),
			fields.New("jwt-issuer", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Required issuer (empty = not checked)")),
		),
	)
}

// NewAuthenticatorFromSettings builds the validator and authenticator described by s.
func NewAuthenticatorFromSettings(s Settings, accounts AccountLookup) (*Authenticator, error) {
	v, err := NewJWTValidator(s.JWTSecret, s.UserIDClaim, s.JWTIssuer)
	if err != nil {
		return nil, errors.Wrap(err, "auth settings")
	}
	return NewAuthenticator(v, accounts, WithCookieName(s.AuthCookie))
}
