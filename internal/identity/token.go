package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// WriterClaims are the JWT claims for a MedLedger writer token. Writer
// tokens are short-lived credentials issued after a successful API-key
// exchange and required on every mutating endpoint.
type WriterClaims struct {
	jwt.RegisteredClaims
	Writer string `json:"writer"`
}

// TokenIssuer issues and verifies writer tokens signed with HS256.
type TokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	key       — HMAC signing secret.
//	issuerURL — The "iss" claim value; typically the service's base URL.
//	ttl       — Token lifetime (default: 1 hour).
func NewTokenIssuer(key []byte, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{
		key:    key,
		issuer: issuerURL,
		ttl:    ttl,
	}
}

// Issue creates a signed writer token for the named writer.
func (t *TokenIssuer) Issue(writer string) (string, error) {
	now := time.Now().UTC()
	claims := WriterClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   writer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Writer: writer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a writer token, returning its claims on success.
func (t *TokenIssuer) Verify(tokenStr string) (*WriterClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&WriterClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.key, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*WriterClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// APIKeyCheck verifies a presented API key against the configured bcrypt
// hash. The hash is produced offline (see HashAPIKey and the medledger
// "hash-key" command) so the cleartext key never lives on the server.
func APIKeyCheck(hash, presented string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)); err != nil {
		return fmt.Errorf("api key rejected: %w", err)
	}
	return nil
}

// HashAPIKey produces the bcrypt hash of an API key for configuration.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}
