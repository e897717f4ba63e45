package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 5 * time.Minute

// Claims represents the service token presented to the actuator service.
type Claims struct {
	HubID string `json:"hub_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenSigner issues short-lived HS256 service tokens.
type TokenSigner struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenSigner constructs a signer. ttl <= 0 uses the default of 5 minutes.
func NewTokenSigner(secret []byte, subject string, ttl time.Duration) (*TokenSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	if subject == "" {
		return nil, errors.New("auth: empty subject")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenSigner{secret: secret, subject: subject, ttl: ttl, now: time.Now}, nil
}

// Sign returns a signed token scoped to hubID.
func (s *TokenSigner) Sign(hubID string) (string, error) {
	if s == nil {
		return "", errors.New("auth: nil signer")
	}
	now := s.now().UTC()
	claims := Claims{
		HubID: hubID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseJWT validates a service token and returns its claims.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("auth: missing subject")
	}
	return claims, nil
}
