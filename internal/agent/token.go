package agent

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// helperTokenTTL is how long a signed helper credential stays valid. The SDK
// rejects tokens with an expiry below 30 minutes or above 48 hours.
const helperTokenTTL = time.Hour

// signHelperToken builds the short-lived HS256 credential the SDK helper
// passes to the meeting platform. tokenExp must match exp; the helper
// forwards both claims verbatim.
func signHelperToken(sdkKey, sdkSecret string, now time.Time) (string, error) {
	exp := now.Add(helperTokenTTL)
	claims := jwt.MapClaims{
		"appKey":   sdkKey,
		"iat":      now.Unix(),
		"exp":      exp.Unix(),
		"tokenExp": exp.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(sdkSecret))
	if err != nil {
		return "", &AuthError{Err: err}
	}
	return signed, nil
}
