// Package auth turns bearer access tokens into caller identities.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/guildhall/guildhall/internal/platform/httpx"
)

// UserIDClaim carries the caller's user id as a decimal string.
const UserIDClaim = "uid"

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = fmt.Errorf("%w: invalid access token", httpx.ErrUnauthorized)

// Issuer signs access tokens.
type Issuer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewIssuer constructs an HS256 token issuer.
func NewIssuer(secret, issuer string) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: signing secret must be at least 32 bytes")
	}
	return &Issuer{key: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue returns a signed token identifying userID, valid for ttl.
func (i *Issuer) Issue(userID int64, ttl time.Duration) (string, error) {
	if userID <= 0 {
		return "", errors.New("auth: user id must be positive")
	}
	now := i.now()
	token, err := jwt.NewBuilder().
		Issuer(i.issuer).
		Subject(strconv.FormatInt(userID, 10)).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim(UserIDClaim, strconv.FormatInt(userID, 10)).
		Build()
	if err != nil {
		return "", fmt.Errorf("auth: build token: %w", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), i.key))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return string(signed), nil
}

// Verifier validates access tokens.
type Verifier struct {
	key    []byte
	issuer string
}

// NewVerifier constructs an HS256 token verifier.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{key: []byte(secret), issuer: issuer}
}

// Verify checks signature, issuer and expiry, then returns the user id.
func (v *Verifier) Verify(raw string) (int64, error) {
	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256(), v.key),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAcceptableSkew(30*time.Second),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var uid string
	if err := token.Get(UserIDClaim, &uid); err != nil {
		return 0, fmt.Errorf("%w: missing %s claim", ErrInvalidToken, UserIDClaim)
	}
	id, err := strconv.ParseInt(uid, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: malformed %s claim", ErrInvalidToken, UserIDClaim)
	}
	return id, nil
}
