package transport

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PeekTokenExpiry reads the exp claim from token without validating its
// signature — that is the server's job, this core only inspects the token
// it is handed (§1, out of scope: acquiring/validating auth). Returns
// false if the token has no parseable exp claim.
func PeekTokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}

	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return time.Time{}, false
	}

	expUnix, err := claims.GetExpirationTime()
	if err != nil || expUnix == nil {
		return time.Time{}, false
	}

	return expUnix.Time, true
}

// NearExpiry reports whether the token's exp claim is within within of now.
// Used by the lifecycle layer to log a proactive warning before a cycle
// starts failing with 401s it has no way to recover from on its own.
func NearExpiry(token string, within time.Duration) bool {
	exp, ok := PeekTokenExpiry(token)
	if !ok {
		return false
	}
	return time.Until(exp) <= within
}
