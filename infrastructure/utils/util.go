package utils

import (
	"time"

	"crm-sync/infrastructure/logger"

	"github.com/golang-jwt/jwt"
)

func GetCurrentTime() time.Time {
	return time.Now().UTC()
}

// GenerateSessionToken signs a session token in the format the session
// middleware accepts. It is meant for local development and smoke tests.
func GenerateSessionToken(userID, organizationID, role, secretKey string, ttl time.Duration) (string, error) {
	now := GetCurrentTime()
	claims := jwt.MapClaims{
		"sub":    userID,
		"org_id": organizationID,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while generate token")
		return "", err
	}
	return tokenString, nil
}
