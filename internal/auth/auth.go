package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kolevas/tutoring-app/internal/domain"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carried by tokens from the identity provider. The subject is read
// from "sub" and falls back to "user_id".
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify checks an HS256 token and returns the requester it names.
func (v *Verifier) Verify(tokenStr string) (domain.Requester, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return domain.Requester{}, ErrMissingToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return domain.Requester{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id := strings.TrimSpace(claims.Subject)
	if id == "" {
		id = strings.TrimSpace(claims.UserID)
	}
	if id == "" {
		return domain.Requester{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(claims.Role)))
	if !role.Valid() {
		return domain.Requester{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return domain.Requester{ID: id, Role: role}, nil
}

// Issue signs a token for r. Used by tooling and tests; production tokens come
// from the identity provider.
func (v *Verifier) Issue(r domain.Requester, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Role: string(r.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   r.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}

type contextKey struct{}

func WithRequester(ctx context.Context, r domain.Requester) context.Context {
	return context.WithValue(ctx, contextKey{}, r)
}

func RequesterFrom(ctx context.Context) (domain.Requester, bool) {
	r, ok := ctx.Value(contextKey{}).(domain.Requester)
	return r, ok
}
