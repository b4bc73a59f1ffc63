package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stateTTL bounds how long a consent redirect may sit unfinished before the
// state token expires.
const stateTTL = 15 * time.Minute

// EncodeState signs a short-lived token that carries the teacher ID through
// the Google consent redirect and back to the callback.
func EncodeState(teacherID, secret string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": teacherID,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(stateTTL).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign state token: %w", err)
	}
	return signed, nil
}

// DecodeState verifies a state token from the callback and returns the
// teacher ID it was issued for. Expired or tampered tokens fail.
func DecodeState(state, secret string) (string, error) {
	return ParseTeacherID(state, secret)
}
