package auth

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ExpiryMargin is how long before actual expiry a token is treated as
// expired, so it cannot lapse while a request carrying it is in flight.
const ExpiryMargin = 30 * time.Second

// Expiry extracts the expiry instant from an access token's payload. The
// signature is not verified; the server remains the authority on validity.
// Returns ok=false for malformed tokens or tokens without an exp claim, which
// callers treat the same as an expired token.
func Expiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	parsed, _, err := jwtlib.NewParser().ParseUnverified(token, jwtlib.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the token is expired, about to expire within
// the pre-flight margin, or unparseable.
func Expired(token string, now time.Time) bool {
	exp, ok := Expiry(token)
	if !ok {
		return true
	}
	return !now.Add(ExpiryMargin).Before(exp)
}
