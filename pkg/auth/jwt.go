package auth

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// TokenValidator decodes a bearer credential and returns its subject identifier.
type TokenValidator interface {
	Subject(ctx context.Context, token string) (string, error)
}

// JWTValidator validates HMAC-signed access tokens and reads the subject from a
// configurable claim.
type JWTValidator struct {
	secret []byte
	claim  string
	issuer string
}

var _ TokenValidator = &JWTValidator{}

func NewJWTValidator(secret string, userIDClaim string, issuer string) (*JWTValidator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt validator: secret is empty")
	}
	if strings.TrimSpace(userIDClaim) == "" {
		userIDClaim = "user_id"
	}
	return &JWTValidator{secret: []byte(secret), claim: userIDClaim, issuer: strings.TrimSpace(issuer)}, nil
}

func (v *JWTValidator) Subject(_ context.Context, raw string) (string, error) {
	if v == nil {
		return "", errors.New("jwt validator: nil validator")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", errors.Wrap(ErrInvalidToken, err.Error())
	}
	if tt, ok := claims["token_type"]; ok && tt != "access" {
		return "", errors.Wrapf(ErrInvalidToken, "token_type %v is not an access token", tt)
	}
	subject, ok := claimString(claims[v.claim])
	if !ok {
		return "", errors.Wrapf(ErrInvalidToken, "claim %q missing or malformed", v.claim)
	}
	return subject, nil
}

// IssueAccessToken signs an HS256 access token for local operation and tests.
func IssueAccessToken(secret string, userIDClaim string, userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("issue token: secret is empty")
	}
	if userIDClaim == "" {
		userIDClaim = "user_id"
	}
	now := time.Now()
	claims := jwt.MapClaims{
		userIDClaim:  userID,
		"token_type": "access",
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "issue token")
	}
	return signed, nil
}

func claimString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case float64:
		if t != math.Trunc(t) {
			return "", false
		}
		return strconv.FormatInt(int64(t), 10), true
	default:
		return "", false
	}
}
