package server

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maxiokv/dkvd/internal/apperrors"
	"github.com/maxiokv/dkvd/internal/security"
)

// principalClaims is the claim set a bearer token carries: the registered
// claims plus the user id and role list the security engine authorizes
// against, the same shape the teacher's own JWTClaims type carries.
type principalClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// tokenAuthenticator implements session.Authenticator by verifying bearer
// tokens as HMAC-signed JWTs against a shared secret read once from a file
// at startup. There is no online key rotation; rotating the secret means
// restarting every node with a new file (and every previously-issued token
// stops verifying).
type tokenAuthenticator struct {
	secret []byte
}

func newTokenAuthenticator(path string) (*tokenAuthenticator, error) {
	if path == "" {
		return &tokenAuthenticator{}, nil
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &tokenAuthenticator{}, nil
	}
	if err != nil {
		return nil, err
	}
	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return nil, fmt.Errorf("jwt secret file %s is empty", path)
	}
	return &tokenAuthenticator{secret: []byte(secret)}, nil
}

// Authenticate implements session.Authenticator.
func (a *tokenAuthenticator) Authenticate(ctx context.Context, token string) (security.Principal, error) {
	if len(a.secret) == 0 {
		return security.Principal{}, apperrors.New(apperrors.CodeAuthError, "no authentication secret configured")
	}

	var claims principalClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return security.Principal{}, apperrors.Wrap(apperrors.CodeAuthError, "invalid bearer token", err)
	}
	if claims.UserID == "" {
		return security.Principal{}, apperrors.New(apperrors.CodeAuthError, "token missing user_id claim")
	}
	return security.Principal{UserID: claims.UserID, Roles: claims.Roles}, nil
}
