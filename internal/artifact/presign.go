package artifact

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Presigner issues and verifies short-lived signed tokens granting access
// to one artifact path with one HTTP method. Tokens let clients talk to
// the artifact endpoints directly without carrying server credentials.
type Presigner struct {
	secret []byte
	ttl    time.Duration
}

// NewPresigner builds a presigner. ttl bounds token lifetime; zero means
// 15 minutes.
func NewPresigner(secret []byte, ttl time.Duration) *Presigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Presigner{secret: secret, ttl: ttl}
}

type presignClaims struct {
	Path   string `json:"path"`
	Method string `json:"method"`
	jwt.RegisteredClaims
}

// Sign issues a token for method on path, returning the token and its
// expiry.
func (p *Presigner) Sign(path, method string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(p.ttl)
	claims := presignClaims{
		Path:   path,
		Method: method,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("artifact: sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify checks the token and that it grants method on path.
func (p *Presigner) Verify(token, path, method string) error {
	var claims presignClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		return model.Errorf(model.ErrCodeInvalidParameterValue, "invalid artifact token")
	}
	if claims.Path != path || claims.Method != method {
		return model.Errorf(model.ErrCodeInvalidParameterValue,
			"artifact token does not grant %s on %q", method, path)
	}
	return nil
}
