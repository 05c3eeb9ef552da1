package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"starthub/submission/internal/model"
)

// ErrTokenExpired is returned for tokens that verified but are past their
// expiry, so the gate can answer expiry distinctly from a bad signature.
var ErrTokenExpired = errors.New("token expired")

type Claims struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// NewAccessToken mints a signed token for claims. Both issuance paths
// (password login and federated exchange) go through here so the claim shape
// is identical regardless of how the identity was established.
func NewAccessToken(secret, issuer string, ttl time.Duration, claims Claims) (string, error) {
	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(secret, issuer, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	// Tokens without an expiry or identity are rejected outright. Expiry is
	// required so a revocation entry always outlives the token it blocks.
	if claims.ExpiresAt == nil || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if _, err := model.ParseRole(string(claims.Role)); err != nil {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
