package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// RoomAccessExpiration defines the duration for room-specific access tokens (short-term).
	RoomAccessExpiration = 15 * time.Minute

	// IdentityExpiration is the lifetime used when minting identity tokens for local development.
	IdentityExpiration = 24 * time.Hour

	// TokenIssuer identifies the issuer of room access tokens.
	TokenIssuer = "FanChat-Server"
)

// GenerateRoomToken creates and signs a room access token for payload.
func GenerateRoomToken(payload *RoomPayload, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload.StandardClaims = jwt.StandardClaims{
		Subject:   payload.ID,
		ExpiresAt: now.Add(duration).Unix(),
		IssuedAt:  now.Unix(),
		Issuer:    TokenIssuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseRoomToken parses and validates a room access token.
func ParseRoomToken(tokenString string, secretKey string) (*RoomPayload, error) {
	claims := &RoomPayload{}
	if err := parse(tokenString, secretKey, claims); err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.RoomID == "" {
		return nil, errors.New("room token is missing required claims")
	}
	return claims, nil
}

// GenerateIdentityToken signs an identity token. Production identity tokens come from the
// account service; this exists for the standalone process and tests.
func GenerateIdentityToken(payload *IdentityPayload, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload.ExpiresAt = now.Add(duration).Unix()
	payload.IssuedAt = now.Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseIdentityToken parses and validates an identity token.
func ParseIdentityToken(tokenString string, secretKey string) (*IdentityPayload, error) {
	claims := &IdentityPayload{}
	if err := parse(tokenString, secretKey, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.TeamID == "" {
		return nil, errors.New("identity token is missing subject or team")
	}
	return claims, nil
}

func parse(tokenString, secretKey string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})

	if err != nil {
		return err
	}

	if !token.Valid {
		return errors.New("invalid or expired token")
	}

	return nil
}
