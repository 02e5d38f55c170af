package api

import (
	"errors"
	"fmt"
	"time"

	"orderly/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the caller's identity. Subject holds the user id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Authenticator issues and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewAuthenticator(secret, issuer string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// IssueToken signs a token for userID with role.
func (a *Authenticator) IssueToken(userID uuid.UUID, role models.Role) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
		Role: string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken validates raw and returns the principal it names.
func (a *Authenticator) ParseToken(raw string) (models.Principal, error) {
	if raw == "" {
		return models.Principal{}, fmt.Errorf("%w: missing token", models.ErrUnauthorized)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Principal{}, fmt.Errorf("%w: token expired", models.ErrUnauthorized)
		}
		return models.Principal{}, fmt.Errorf("%w: invalid token", models.ErrUnauthorized)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: invalid subject", models.ErrUnauthorized)
	}
	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return models.Principal{}, err
	}
	return models.Principal{UserID: userID, Role: role}, nil
}
