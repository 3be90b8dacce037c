package cabinet

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpirySkew treats tokens as expired this long before their exp claim
// so a request never races the deadline.
const DefaultExpirySkew = 30 * time.Second

// ExpiryChecker decides whether an access token must be refreshed before use.
type ExpiryChecker interface {
	Expired(token string) bool
}

// ExpiryCheckerFunc adapts a function to ExpiryChecker.
type ExpiryCheckerFunc func(token string) bool

func (f ExpiryCheckerFunc) Expired(token string) bool {
	return f(token)
}

// JWTExpiry reads the exp claim without verifying the signature; the server
// remains the authority on validity. Tokens that are not JWTs or have no exp
// are never reported expired and rely on the 401 fallback instead.
type JWTExpiry struct {
	Skew time.Duration
	Now  func() time.Time
}

func (j JWTExpiry) Expired(token string) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return false
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	return !now().Add(j.Skew).Before(exp)
}

var unverifiedParser = jwt.NewParser(jwt.WithoutClaimsValidation())

// ExpiresAt returns the exp claim of a JWT.
func ExpiresAt(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
